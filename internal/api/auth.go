package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ernie/play4096/internal/auth"
	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/logging"
	"github.com/ernie/play4096/internal/storage"
)

// CredentialsRequest is the request body for register, login and token
type CredentialsRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// TokenResponse is the response body for a bearer token
type TokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	Level    string `json:"level"`
}

// checkCredentials returns the message for malformed credentials, or ""
func checkCredentials(username, password string) string {
	if problems := auth.CheckUsername(username); len(problems) > 0 {
		return "Invalid username: " + strings.Join(problems, ", ")
	}
	if !auth.ValidPassword(password) {
		return "Invalid password: Password must be between 6 and 255 characters"
	}
	return ""
}

func redirectTarget(to string) string {
	// only same-site paths
	if to == "" || !strings.HasPrefix(to, "/") || strings.HasPrefix(to, "//") {
		return "/"
	}
	return to
}

// startSession creates a session and sets its cookie
func (r *Router) startSession(w http.ResponseWriter, req *http.Request, userID string) error {
	session, token, err := r.sessions.Create(req.Context(), userID)
	if err != nil {
		return err
	}
	r.setCookie(w, sessionCookie, token, session.ExpiresAt)
	return nil
}

// handleRegister creates an account and signs it in
func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	ip := r.clientIP(req)
	if !r.limits.register.Consume(ip, 1) {
		r.metrics.RateLimited("register")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var body CredentialsRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if msg := checkCredentials(body.Username, body.Password); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		serverError(w, req, "Hashing password", err)
		return
	}

	user := &domain.User{
		ID:           auth.GenerateUserID(),
		Username:     body.Username,
		PasswordHash: hash,
	}
	if _, err := r.store.CreateUser(req.Context(), user); err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			writeError(w, http.StatusBadRequest, "Username already exists")
			return
		}
		serverError(w, req, "Creating user", err)
		return
	}

	if err := r.startSession(w, req, user.ID); err != nil {
		serverError(w, req, "Creating session", err)
		return
	}

	logging.FromContext(req.Context()).WithField("user_id", user.ID).Info("User registered")
	writeJSON(w, http.StatusCreated, map[string]string{"redirect_to": redirectTarget(body.RedirectTo)})
}

// authenticateCredentials checks a username and password against the
// store, applying the login throttle. It writes the error response and
// returns nil on failure.
func (r *Router) authenticateCredentials(w http.ResponseWriter, req *http.Request, body CredentialsRequest) *domain.User {
	if msg := checkCredentials(body.Username, body.Password); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return nil
	}
	if !r.limits.login.Consume(body.Username) {
		r.metrics.RateLimited("login")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return nil
	}

	user, err := r.store.GetUserByUsername(req.Context(), body.Username)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "Incorrect username or password")
		return nil
	}
	if err != nil {
		serverError(w, req, "Loading user", err)
		return nil
	}
	if !auth.CheckPassword(body.Password, user.PasswordHash) {
		writeError(w, http.StatusBadRequest, "Incorrect username or password")
		return nil
	}

	r.limits.login.Reset(body.Username)
	return user
}

// handleLogin signs a user in with a session cookie
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body CredentialsRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	user := r.authenticateCredentials(w, req, body)
	if user == nil {
		return
	}

	// accounts created before profiles existed
	if _, err := r.store.EnsureProfile(req.Context(), user.ID); err != nil {
		serverError(w, req, "Ensuring profile", err)
		return
	}

	if err := r.startSession(w, req, user.ID); err != nil {
		serverError(w, req, "Creating session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect_to": redirectTarget(body.RedirectTo)})
}

// handleLogout ends the current session
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	session := currentSession(req)
	if session == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if err := r.sessions.Invalidate(req.Context(), session.ID); err != nil {
		serverError(w, req, "Invalidating session", err)
		return
	}
	r.deleteCookie(w, sessionCookie)
	writeJSON(w, http.StatusOK, map[string]string{"redirect_to": "/login"})
}

// handleToken issues a bearer token for clients without cookies
func (r *Router) handleToken(w http.ResponseWriter, req *http.Request) {
	if r.tokens == nil {
		writeError(w, http.StatusNotFound, "Bearer tokens are not enabled")
		return
	}
	var body CredentialsRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	user := r.authenticateCredentials(w, req, body)
	if user == nil {
		return
	}

	token, err := r.tokens.GenerateToken(user)
	if err != nil {
		serverError(w, req, "Generating token", err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		Token:    token,
		Username: user.Username,
		IsAdmin:  user.Admin,
		Level:    user.Level.String(),
	})
}

// handleMe reports who is signed in
func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	user := currentUser(req)
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user":          user,
	})
}
