package handler

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/codesnip/internal/auth"
	"github.com/sakif/codesnip/internal/service"
)

const stateCookie = "oauth_state"

// AuthHandler serves /api/auth and the GitHub OAuth redirect pair.
//
// Password and GitHub logins both finish the same way: the JWT is returned
// in the response body (for API clients using Authorization: Bearer) AND set
// as an HttpOnly cookie (for browsers).
type AuthHandler struct {
	auth      *service.AuthService
	github    *auth.GitHubProvider // nil when GitHub login is not configured
	tokenTTL  time.Duration
	publicURL string
	secure    bool // mark cookies Secure (production, HTTPS)
	logger    *slog.Logger
}

func NewAuthHandler(
	authService *service.AuthService,
	github *auth.GitHubProvider,
	tokenTTL time.Duration,
	publicURL string,
	secure bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:      authService,
		github:    github,
		tokenTTL:  tokenTTL,
		publicURL: publicURL,
		secure:    secure,
		logger:    logger,
	}
}

// HandleRegister creates a password account.
//
// HTTP: POST /api/auth/register {email, username, password, name?} → 201
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	auth.SetTokenCookie(w, res.Token, h.tokenTTL, h.secure)
	writeOK(w, http.StatusCreated, "User registered successfully", res)
}

// HandleLogin exchanges email + password for a token.
//
// HTTP: POST /api/auth/login {email, password}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	auth.SetTokenCookie(w, res.Token, h.tokenTTL, h.secure)
	writeOK(w, http.StatusOK, "Login successful", res)
}

// HandleMe returns the logged-in user.
//
// HTTP: GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	user, err := h.auth.Me(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", user)
}

// HandleUpdateProfile changes name and avatar.
//
// HTTP: PUT /api/auth/update-profile {name?, avatarUrl?}
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	var in service.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.auth.UpdateProfile(r.Context(), uid, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Profile updated successfully", user)
}

// HandleChangePassword replaces the password.
//
// HTTP: PUT /api/auth/change-password {currentPassword, newPassword}
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.auth.ChangePassword(r.Context(), uid, in.CurrentPassword, in.NewPassword); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Password changed successfully", nil)
}

// HandleLogout clears the auth cookie. Tokens are stateless, so a bearer
// token copied elsewhere stays valid until it expires.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearTokenCookie(w, h.secure)
	writeOK(w, http.StatusOK, "Logged out successfully", nil)
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state value goes both into a short-lived HttpOnly cookie and
// into the authorization URL. The callback only proceeds when the two match.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow and sends the browser back
// to the frontend with the token cookie set.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || r.URL.Query().Get("state") != c.Value {
		h.logger.Warn("auth callback: state mismatch")
		writeJSON(w, http.StatusBadRequest, envelope{Message: "invalid OAuth state"})
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, h.publicURL+"/login?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "missing OAuth code"})
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, h.publicURL+"/login?auth=failed", http.StatusSeeOther)
		return
	}

	res, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		h.logger.Error("auth callback: login failed",
			slog.Int64("githubID", ghUser.ID),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, h.publicURL+"/login?auth=failed", http.StatusSeeOther)
		return
	}

	auth.SetTokenCookie(w, res.Token, h.tokenTTL, h.secure)
	http.Redirect(w, r, h.publicURL+"/", http.StatusSeeOther)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
