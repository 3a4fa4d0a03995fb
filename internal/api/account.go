package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ernie/play4096/internal/auth"
	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/storage"
)

// AccountResponse is the signed-in user's account
type AccountResponse struct {
	User    *domain.User    `json:"user"`
	Profile *domain.Profile `json:"profile"`
}

// DetailsRequest is the request body for editing account details
type DetailsRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// ChangePasswordRequest is the request body for password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// handleGetAccount returns the user and profile
func (r *Router) handleGetAccount(w http.ResponseWriter, req *http.Request) {
	user := currentUser(req)
	profile, err := r.store.EnsureProfile(req.Context(), user.ID)
	if err != nil {
		serverError(w, req, "Loading profile", err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{User: user, Profile: profile})
}

// handleUpdateDetails changes the email and display name
func (r *Router) handleUpdateDetails(w http.ResponseWriter, req *http.Request) {
	user := currentUser(req)

	var body DetailsRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	email := strings.TrimSpace(body.Email)
	displayName := strings.TrimSpace(body.DisplayName)

	if len(displayName) > 64 {
		writeError(w, http.StatusBadRequest, "Display name must be at most 64 characters")
		return
	}
	if email != "" && !auth.ValidEmail(email) {
		writeError(w, http.StatusBadRequest, "Invalid email")
		return
	}

	changed := !user.HasEmail() || *user.Email != email
	if email != "" && changed {
		available, err := r.store.IsEmailAvailable(req.Context(), email)
		if err != nil {
			serverError(w, req, "Checking email", err)
			return
		}
		if !available {
			writeError(w, http.StatusBadRequest, "Email is already used")
			return
		}
	}

	err := r.store.UpdateUserDetails(req.Context(), user.ID, optional(email), optional(displayName))
	if errors.Is(err, storage.ErrEmailTaken) {
		writeError(w, http.StatusBadRequest, "Email is already used")
		return
	}
	if err != nil {
		serverError(w, req, "Updating details", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"email":        email,
		"display_name": displayName,
	})
}

// handleChangePassword allows users to change their own password
func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	user := currentUser(req)

	var body ChangePasswordRequest
	if !decodeJSON(w, req, &body) {
		return
	}

	if !auth.CheckPassword(body.CurrentPassword, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid current password")
		return
	}
	if !auth.ValidPassword(body.NewPassword) {
		writeError(w, http.StatusBadRequest, "Invalid password: Password must be between 6 and 255 characters")
		return
	}

	hash, err := auth.HashPassword(body.NewPassword)
	if err != nil {
		serverError(w, req, "Hashing password", err)
		return
	}
	if err := r.store.UpdateUserPassword(req.Context(), user.ID, hash); err != nil {
		serverError(w, req, "Updating password", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
