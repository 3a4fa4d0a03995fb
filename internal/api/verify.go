package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ernie/play4096/internal/auth"
	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/mail"
	"github.com/ernie/play4096/internal/storage"
)

const codeLifetime = 10 * time.Minute

// CodeRequest is the request body for submitting an emailed code
type CodeRequest struct {
	Code string `json:"code"`
}

// VerifyEmailResponse describes the pending verification
type VerifyEmailResponse struct {
	Email           string `json:"email"`
	AlreadyVerified bool   `json:"already_verified"`
	Expired         bool   `json:"expired"`
}

func (r *Router) codeExpiry() time.Time {
	return r.now().Add(codeLifetime).UTC().Truncate(time.Second)
}

// createVerificationRequest replaces the user's pending request and
// emails the new code
func (r *Router) createVerificationRequest(ctx context.Context, userID, email string) (*domain.EmailVerificationRequest, error) {
	vr := &domain.EmailVerificationRequest{
		ID:        auth.GenerateRequestID(),
		UserID:    userID,
		Email:     email,
		Code:      auth.GenerateOTP(),
		ExpiresAt: r.codeExpiry(),
	}
	if err := r.store.CreateEmailVerificationRequest(ctx, vr); err != nil {
		return nil, err
	}
	if err := r.mailer.Send(ctx, mail.VerificationMessage(vr.Email, vr.Code)); err != nil {
		return nil, err
	}
	return vr, nil
}

// verificationFromRequest loads the request named by the cookie. A stale
// cookie is deleted.
func (r *Router) verificationFromRequest(w http.ResponseWriter, req *http.Request, userID string) (*domain.EmailVerificationRequest, error) {
	id := readCookie(req, verificationCookie)
	if id == "" {
		return nil, nil
	}
	vr, err := r.store.GetEmailVerificationRequest(req.Context(), userID, id)
	if errors.Is(err, storage.ErrNotFound) {
		r.deleteCookie(w, verificationCookie)
		return nil, nil
	}
	return vr, err
}

// handleGetVerifyEmail reports the state of the user's verification
func (r *Router) handleGetVerifyEmail(w http.ResponseWriter, req *http.Request) {
	user := currentUser(req)
	if !user.HasEmail() {
		writeError(w, http.StatusBadRequest, "User email not found")
		return
	}

	resp := VerifyEmailResponse{Email: *user.Email, AlreadyVerified: user.EmailVerified}
	vr, err := r.verificationFromRequest(w, req, user.ID)
	if err != nil {
		serverError(w, req, "Loading verification request", err)
		return
	}
	if vr == nil || !r.now().Before(vr.ExpiresAt) {
		resp.Expired = true
	} else {
		resp.Email = vr.Email
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVerifyEmail checks an emailed code and marks the address verified
func (r *Router) handleVerifyEmail(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	user := currentUser(req)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if !r.limits.verifyEmail.Check(user.ID, 1) {
		r.metrics.RateLimited("verify_email")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	vr, err := r.verificationFromRequest(w, req, user.ID)
	if err != nil {
		serverError(w, req, "Loading verification request", err)
		return
	}
	if vr == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var body CodeRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Code == "" {
		writeError(w, http.StatusBadRequest, "Enter your code")
		return
	}
	if !r.limits.verifyEmail.Consume(user.ID, 1) {
		r.metrics.RateLimited("verify_email")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	if !r.now().Before(vr.ExpiresAt) {
		vr, err = r.createVerificationRequest(ctx, vr.UserID, vr.Email)
		if err != nil {
			serverError(w, req, "Resending verification code", err)
			return
		}
		r.setCookie(w, verificationCookie, vr.ID, vr.ExpiresAt)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "The verification code was expired. We sent another code to your inbox.",
		})
		return
	}
	if !auth.ConstantTimeEqual(vr.Code, body.Code) {
		writeError(w, http.StatusBadRequest, "Incorrect code.")
		return
	}

	if err := r.store.DeleteUserEmailVerificationRequests(ctx, user.ID); err != nil {
		serverError(w, req, "Deleting verification requests", err)
		return
	}
	if err := r.store.DeleteUserPasswordResetSessions(ctx, user.ID); err != nil {
		serverError(w, req, "Deleting reset sessions", err)
		return
	}
	err = r.store.UpdateUserEmailAndSetVerified(ctx, user.ID, vr.Email)
	if errors.Is(err, storage.ErrEmailTaken) {
		writeError(w, http.StatusBadRequest, "Email is already used")
		return
	}
	if err != nil {
		serverError(w, req, "Verifying email", err)
		return
	}
	r.deleteCookie(w, verificationCookie)

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleResendVerification emails a fresh code
func (r *Router) handleResendVerification(w http.ResponseWriter, req *http.Request) {
	user := currentUser(req)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if !r.limits.resendEmail.Check(user.ID, 1) {
		r.metrics.RateLimited("resend_email")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	vr, err := r.verificationFromRequest(w, req, user.ID)
	if err != nil {
		serverError(w, req, "Loading verification request", err)
		return
	}

	var email string
	if vr == nil {
		if !user.HasEmail() {
			writeError(w, http.StatusBadRequest, "User email not found")
			return
		}
		if user.EmailVerified {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		email = *user.Email
	} else {
		email = vr.Email
	}

	if !r.limits.resendEmail.Consume(user.ID, 1) {
		r.metrics.RateLimited("resend_email")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	vr, err = r.createVerificationRequest(req.Context(), user.ID, email)
	if err != nil {
		serverError(w, req, "Sending verification code", err)
		return
	}
	r.setCookie(w, verificationCookie, vr.ID, vr.ExpiresAt)
	writeMessage(w, http.StatusOK, "A new code was sent to your inbox.")
}
