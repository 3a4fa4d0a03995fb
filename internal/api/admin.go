package api

import (
	"errors"
	"net/http"

	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/logging"
	"github.com/ernie/play4096/internal/storage"
)

// UpdateUserRequest is the request body for updating a user (admin only)
type UpdateUserRequest struct {
	Admin *bool   `json:"admin,omitempty"`
	Level *string `json:"level,omitempty"`
}

// handleListUsers returns all users
func (r *Router) handleListUsers(w http.ResponseWriter, req *http.Request) {
	users, err := r.store.ListUsers(req.Context())
	if err != nil {
		serverError(w, req, "Listing users", err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// handleUpdateUser changes a user's admin flag or level
func (r *Router) handleUpdateUser(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id := req.PathValue("id")

	var body UpdateUserRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Admin == nil && body.Level == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	if body.Admin != nil {
		if !*body.Admin && id == currentUser(req).ID {
			writeError(w, http.StatusBadRequest, "Cannot remove your own admin access")
			return
		}
		if err := r.store.SetUserAdmin(ctx, id, *body.Admin); err != nil {
			r.writeUserError(w, req, err)
			return
		}
	}
	if body.Level != nil {
		level, ok := parseLevel(*body.Level)
		if !ok {
			writeError(w, http.StatusBadRequest, "Level must be free or pro")
			return
		}
		if err := r.store.SetUserLevel(ctx, id, level); err != nil {
			r.writeUserError(w, req, err)
			return
		}
	}

	user, err := r.store.GetUserByID(ctx, id)
	if err != nil {
		r.writeUserError(w, req, err)
		return
	}
	logging.FromContext(ctx).WithField("target_user_id", id).Info("User updated")
	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes a user and everything they own
func (r *Router) handleDeleteUser(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == currentUser(req).ID {
		writeError(w, http.StatusBadRequest, "Cannot delete yourself")
		return
	}
	if err := r.store.DeleteUser(req.Context(), id); err != nil {
		r.writeUserError(w, req, err)
		return
	}
	logging.FromContext(req.Context()).WithField("target_user_id", id).Info("User deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) writeUserError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	serverError(w, req, "Updating user", err)
}
