package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/xid"
	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/model"
	"github.com/sakif/codesnip/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB holds the user queries. It shares the connection pool with DB.
type UserDB struct {
	db *DB
}

const userColumns = `id, email, username, name, avatar_url, github_id, password_hash, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u        model.User
		githubID sql.NullInt64
	)
	if err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.Name, &u.AvatarURL,
		&githubID, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if githubID.Valid {
		u.GitHubID = &githubID.Int64
	}
	return &u, nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// Create inserts a password account. Email and username are unique; a clash
// on either becomes a Conflict so the handler can answer 409.
func (r *UserDB) Create(ctx context.Context, user *model.User) error {
	now := r.db.now()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, username, name, avatar_url, github_id, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Username,
		user.Name,
		user.AvatarURL,
		nullableInt(user.GitHubID),
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("email or username already in use")
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}
	return nil
}

// UpsertGitHub inserts or refreshes a user keyed by GitHub ID.
//
// An existing row keeps its internal ID and username; only the profile fields
// GitHub owns (email, avatar) are refreshed. For a new row, a username that is
// already taken by a password account gets the GitHub ID appended.
func (r *UserDB) UpsertGitHub(ctx context.Context, user *model.User) error {
	if user.GitHubID == nil {
		return fmt.Errorf("sqlite: upserting github user: missing github id")
	}

	existing, err := scanUser(r.db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, *user.GitHubID,
	))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: looking up user by github_id %d: %w", *user.GitHubID, err)
	}

	if existing != nil {
		existing.Email = user.Email
		existing.AvatarURL = user.AvatarURL
		existing.UpdatedAt = r.db.now()
		_, err = r.db.conn.ExecContext(ctx,
			`UPDATE users SET email = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
			existing.Email, existing.AvatarURL, existing.UpdatedAt, existing.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("email already in use")
			}
			return fmt.Errorf("sqlite: updating user %s: %w", existing.ID, err)
		}
		*user = *existing
		return nil
	}

	err = r.Create(ctx, user)
	if errors.Is(err, apperror.ErrConflict) {
		user.Username = fmt.Sprintf("%s-%d", user.Username, *user.GitHubID)
		err = r.Create(ctx, user)
	}
	return err
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (r *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("User")
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

func (r *UserDB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, apperror.NotFound("User")
	}
	u, err := scanUser(r.db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("User")
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// UpdateProfile writes the self-service profile fields: name and avatar.
// Email and username are identity fields and are not changed here.
func (r *UserDB) UpdateProfile(ctx context.Context, user *model.User) error {
	user.UpdatedAt = r.db.now()
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE users SET name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
		user.Name, user.AvatarURL, user.UpdatedAt, user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	return requireOneUser(result)
}

func (r *UserDB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, r.db.now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for %s: %w", id, err)
	}
	return requireOneUser(result)
}

func requireOneUser(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("User")
	}
	return nil
}
