package api

import (
	"errors"
	"net/http"

	"github.com/ernie/play4096/internal/board"
	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/game"
	"github.com/ernie/play4096/internal/storage"
)

// GameState is a resumable game as the client sees it
type GameState struct {
	ID    string      `json:"id"`
	Board board.Board `json:"board"`
	Score int64       `json:"score"`
}

// ScoreRequest is the request body for reporting a score
type ScoreRequest struct {
	Score int64 `json:"score"`
}

// MoveRequest is the request body for a server-side move
type MoveRequest struct {
	Direction board.Direction `json:"direction"`
}

// handleGetGame returns the profile and resumable game, nulls when anonymous
func (r *Router) handleGetGame(w http.ResponseWriter, req *http.Request) {
	resp := map[string]interface{}{
		"profile":      nil,
		"current_game": nil,
	}

	user := currentUser(req)
	if user == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	profile, err := r.store.GetProfile(req.Context(), user.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		serverError(w, req, "Loading profile", err)
		return
	}
	if profile != nil {
		resp["profile"] = profile
	}

	g, err := r.games.CurrentGame(req.Context(), user.ID)
	if err != nil {
		serverError(w, req, "Loading current game", err)
		return
	}
	if g != nil {
		resp["current_game"] = GameState{ID: g.ID, Board: g.Board, Score: g.Score}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSaveGame stores a client-played game
func (r *Router) handleSaveGame(w http.ResponseWriter, req *http.Request) {
	user := currentUser(req)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}

	var save *game.GameSave
	if !decodeJSON(w, req, &save) {
		return
	}
	if save == nil || save.Board == nil {
		writeError(w, http.StatusBadRequest, "Game data is required")
		return
	}

	id, err := r.games.SaveGame(req.Context(), user.ID, *save)
	if err != nil {
		r.writeGameError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": id})
}

// handleSaveScore raises the user's best score
func (r *Router) handleSaveScore(w http.ResponseWriter, req *http.Request) {
	var body ScoreRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if _, err := r.games.SaveScore(req.Context(), currentUser(req).ID, body.Score); err != nil {
		r.writeGameError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleNewGame starts a server-side game
func (r *Router) handleNewGame(w http.ResponseWriter, req *http.Request) {
	g, err := r.games.NewGame(req.Context(), currentUser(req).ID)
	if err != nil {
		serverError(w, req, "Starting game", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// handleMove applies one move to a server-side game
func (r *Router) handleMove(w http.ResponseWriter, req *http.Request) {
	var body MoveRequest
	if !decodeJSON(w, req, &body) {
		return
	}

	res, err := r.games.Move(req.Context(), currentUser(req).ID, req.PathValue("id"), body.Direction)
	if err != nil {
		r.writeGameError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGameHistory lists the user's recent games
func (r *Router) handleGameHistory(w http.ResponseWriter, req *http.Request) {
	games, err := r.games.History(req.Context(), currentUser(req).ID, parseLimit(req, 20, 100))
	if err != nil {
		serverError(w, req, "Loading game history", err)
		return
	}
	if games == nil {
		games = []domain.Game{}
	}
	writeJSON(w, http.StatusOK, games)
}

// writeGameError maps game service errors to responses
func (r *Router) writeGameError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		writeError(w, http.StatusNotFound, "Game not found")
	case errors.Is(err, game.ErrGameComplete):
		writeError(w, http.StatusConflict, "Game is already complete")
	case errors.Is(err, game.ErrInvalidScore),
		errors.Is(err, board.ErrInvalidDirection),
		errors.Is(err, board.ErrSize),
		errors.Is(err, board.ErrNotSquare),
		errors.Is(err, board.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		serverError(w, req, "Game request failed", err)
	}
}
