package api

import (
	"net/http"

	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/storage"
)

// handleGetLeaderboard returns the top PRO players
func (r *Router) handleGetLeaderboard(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, storage.DefaultLeaderboardLimit, storage.MaxLeaderboardLimit)

	entries, err := r.store.GetLeaderboard(req.Context(), limit)
	if err != nil {
		serverError(w, req, "Loading leaderboard", err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
