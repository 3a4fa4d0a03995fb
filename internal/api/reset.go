package api

import (
	"errors"
	"net/http"

	"github.com/ernie/play4096/internal/auth"
	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/mail"
	"github.com/ernie/play4096/internal/storage"
)

// ForgotPasswordRequest is the request body for starting a reset
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the request body for choosing a new password
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// handleForgotPassword emails a reset code to a verified address
func (r *Router) handleForgotPassword(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	ip := r.clientIP(req)
	if !r.limits.forgotIP.Check(ip, 1) {
		r.metrics.RateLimited("forgot_ip")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var body ForgotPasswordRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if !auth.ValidEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "Invalid email")
		return
	}

	user, err := r.store.GetUserByEmail(ctx, body.Email)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "An account with this email address does not exist")
		return
	}
	if err != nil {
		serverError(w, req, "Loading user", err)
		return
	}
	if !user.EmailVerified {
		writeError(w, http.StatusBadRequest, "Your email address is not verified. Please contact support.")
		return
	}

	if !r.limits.forgotIP.Consume(ip, 1) {
		r.metrics.RateLimited("forgot_ip")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}
	if !r.limits.forgotUser.Consume(user.ID, 1) {
		r.metrics.RateLimited("forgot_user")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	if err := r.store.DeleteUserPasswordResetSessions(ctx, user.ID); err != nil {
		serverError(w, req, "Deleting reset sessions", err)
		return
	}

	token := auth.GenerateSessionToken()
	rs := &domain.PasswordResetSession{
		ID:        auth.HashToken(token),
		UserID:    user.ID,
		Email:     *user.Email,
		Code:      auth.GenerateOTP(),
		ExpiresAt: r.codeExpiry(),
	}
	if err := r.store.CreatePasswordResetSession(ctx, rs); err != nil {
		serverError(w, req, "Creating reset session", err)
		return
	}
	if err := r.mailer.Send(ctx, mail.PasswordResetMessage(rs.Email, rs.Code)); err != nil {
		serverError(w, req, "Sending reset code", err)
		return
	}
	r.setCookie(w, resetCookie, token, rs.ExpiresAt)

	writeJSON(w, http.StatusOK, map[string]string{"next": "/reset-password/verify-email"})
}

// resetFromRequest loads the reset session named by the cookie. Unknown
// and expired sessions delete the cookie and return nil.
func (r *Router) resetFromRequest(w http.ResponseWriter, req *http.Request) (*domain.PasswordResetSession, *domain.User, error) {
	token := readCookie(req, resetCookie)
	if token == "" {
		return nil, nil, nil
	}

	id := auth.HashToken(token)
	rs, user, err := r.store.GetPasswordResetSession(req.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		r.deleteCookie(w, resetCookie)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	if !r.now().Before(rs.ExpiresAt) {
		if err := r.store.DeletePasswordResetSession(req.Context(), id); err != nil {
			return nil, nil, err
		}
		r.deleteCookie(w, resetCookie)
		return nil, nil, nil
	}
	return rs, user, nil
}

// handleGetResetPassword reports the state of the reset flow
func (r *Router) handleGetResetPassword(w http.ResponseWriter, req *http.Request) {
	rs, _, err := r.resetFromRequest(w, req)
	if err != nil {
		serverError(w, req, "Loading reset session", err)
		return
	}
	if rs == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"email":          rs.Email,
		"email_verified": rs.EmailVerified,
	})
}

// handleResetVerifyEmail checks the emailed reset code
func (r *Router) handleResetVerifyEmail(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	rs, _, err := r.resetFromRequest(w, req)
	if err != nil {
		serverError(w, req, "Loading reset session", err)
		return
	}
	if rs == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if rs.EmailVerified {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}
	if !r.limits.resetVerify.Check(rs.UserID, 1) {
		r.metrics.RateLimited("reset_verify_email")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var body CodeRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Code == "" {
		writeError(w, http.StatusBadRequest, "Please enter your code")
		return
	}
	if !r.limits.resetVerify.Consume(rs.UserID, 1) {
		r.metrics.RateLimited("reset_verify_email")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}
	if !auth.ConstantTimeEqual(rs.Code, body.Code) {
		writeError(w, http.StatusBadRequest, "Incorrect code")
		return
	}

	r.limits.resetVerify.Reset(rs.UserID)
	if err := r.store.SetPasswordResetSessionEmailVerified(ctx, rs.ID); err != nil {
		serverError(w, req, "Marking reset session verified", err)
		return
	}
	matches, err := r.store.SetUserEmailVerifiedIfMatches(ctx, rs.UserID, rs.Email)
	if err != nil {
		serverError(w, req, "Verifying email", err)
		return
	}
	if !matches {
		writeError(w, http.StatusBadRequest,
			"Please restart the process; your email address does not match the email address in your account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"next": "/reset-password"})
}

// handleResetPassword sets the new password and signs the user in
// everywhere afresh
func (r *Router) handleResetPassword(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	rs, user, err := r.resetFromRequest(w, req)
	if err != nil {
		serverError(w, req, "Loading reset session", err)
		return
	}
	if rs == nil || user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if !rs.EmailVerified {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	var body ResetPasswordRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if !auth.StrongPassword(user.Username, body.Password) {
		writeError(w, http.StatusBadRequest,
			"Password must be between 8 and 255 characters and must not match your username")
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		serverError(w, req, "Hashing password", err)
		return
	}
	if err := r.store.DeleteUserPasswordResetSessions(ctx, rs.UserID); err != nil {
		serverError(w, req, "Deleting reset sessions", err)
		return
	}
	if err := r.sessions.InvalidateAll(ctx, rs.UserID); err != nil {
		serverError(w, req, "Invalidating sessions", err)
		return
	}
	if err := r.store.UpdateUserPassword(ctx, rs.UserID, hash); err != nil {
		serverError(w, req, "Updating password", err)
		return
	}

	if err := r.startSession(w, req, user.ID); err != nil {
		serverError(w, req, "Creating session", err)
		return
	}
	r.deleteCookie(w, resetCookie)
	writeJSON(w, http.StatusOK, map[string]string{"redirect_to": "/"})
}
