// Authentication business logic.
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// Accounts come from two places: email + password registration, and the
// GitHub OAuth callback. Both end the same way: a user row and a JWT whose
// subject is our internal user id.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/auth"
	"github.com/sakif/codesnip/internal/model"
	"github.com/sakif/codesnip/internal/repository"
)

const (
	MinPasswordLength = 6
	MaxNameLength     = 100
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,30}$`)

// AuthService handles the authentication business logic.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the user record and the issued JWT so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register creates a password account. Duplicate email or username is a
// Conflict.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	var v validator

	email := normalizeEmail(in.Email)
	if !validEmail(email) {
		v.add("email", "Please provide a valid email")
	}
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		v.add("username", "Username must be 3-30 characters of letters, numbers, underscores, and hyphens")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		v.add("password", "Password must be at least 6 characters long")
	}
	name := strings.TrimSpace(in.Name)
	v.maxLen("name", name, MaxNameLength, "Name must be between 1 and 100 characters")

	if err := v.err(); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "Password must be at most 72 bytes long")
		}
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Email:        email,
		Username:     username,
		Name:         name,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("username", user.Username))
	return s.issue(user)
}

// Login checks email + password. Unknown email and wrong password give the
// same error so the response does not reveal which accounts exist.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, apperror.ValidationFailed("email", "Please provide a valid email")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "Password is required")
	}

	invalid := apperror.Unauthorized("Invalid credentials")

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

// LoginOrRegisterGitHub upserts the user behind a GitHub profile and issues
// a token. First login creates the row; later logins refresh email/avatar.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	ghID := gh.ID
	user := &model.User{
		Email:     normalizeEmail(gh.Email),
		Username:  gh.Login,
		Name:      gh.Name,
		AvatarURL: gh.AvatarURL,
		GitHubID:  &ghID,
	}
	if err := s.users.UpsertGitHub(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", gh.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// Me returns the user a validated token belongs to. A token for a deleted
// user is Unauthorized, not NotFound.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthorized("User not found")
	}
	return user, err
}

type ProfileInput struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
}

// UpdateProfile changes the display fields; nil fields keep their value.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*model.User, error) {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	var v validator
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		v.maxLen("name", name, MaxNameLength, "Name must be between 1 and 100 characters")
		user.Name = name
	}
	if in.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*in.AvatarURL)
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangePassword replaces the password after checking the current one.
// GitHub-only accounts have no password and always fail the check.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}

	if utf8.RuneCountInString(next) < MinPasswordLength {
		return apperror.ValidationFailed("newPassword", "Password must be at least 6 characters long")
	}
	if err := s.passwords.Verify(user.PasswordHash, current); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return apperror.ValidationFailed("currentPassword", "Current password is incorrect")
		}
		return fmt.Errorf("service/auth: verifying password: %w", err)
	}

	hash, err := s.passwords.Hash(next)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return apperror.ValidationFailed("newPassword", "Password must be at most 72 bytes long")
		}
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	s.logger.Info("password changed", slog.String("userID", user.ID))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail accepts a bare address only ("a@b.c", not "A <a@b.c>").
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}
