package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ernie/play4096/internal/logging"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeMessage writes a JSON response carrying a user-facing message
func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// serverError logs err against the request and writes a generic 500
func serverError(w http.ResponseWriter, req *http.Request, msg string, err error) {
	logging.FromContext(req.Context()).WithError(err).Error(msg)
	writeError(w, http.StatusInternalServerError, "An error has occurred")
}

// decodeJSON reads a JSON body into v, writing a 400 on failure. An empty
// body decodes as the zero value.
func decodeJSON(w http.ResponseWriter, req *http.Request, v interface{}) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid or missing fields")
		return false
	}
	return true
}

// handleHealth reports whether the database is reachable
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const susRedirectURL = "https://www.youtube.com/watch?v=xvFZjo5PgG0&list=RDxvFZjo5PgG0&start_radio=1"

// handleSus logs whatever a probing client posted
func (r *Router) handleSus(w http.ResponseWriter, req *http.Request) {
	var body interface{}
	if !decodeJSON(w, req, &body) {
		return
	}
	logging.FromContext(req.Context()).
		WithField("details", body).
		WithField("ip", r.clientIP(req)).
		Info("Sus request detected")

	writeJSON(w, http.StatusOK, map[string]string{
		"message":      "Sus request logged.",
		"redirect_url": susRedirectURL,
	})
}
