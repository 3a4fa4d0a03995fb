package domain

import (
	"time"

	"github.com/ernie/play4096/internal/board"
)

// Game is a persisted playthrough
type Game struct {
	ID          string      `json:"id"`
	PlayerID    string      `json:"player_id"`
	CreatedOn   time.Time   `json:"created_on"`
	UpdatedOn   time.Time   `json:"updated_on"`
	CompletedOn *time.Time  `json:"completed_on,omitempty"`
	Score       int64       `json:"score"`
	Won         bool        `json:"won"`
	Complete    bool        `json:"complete"`
	Board       board.Board `json:"board"`
}
