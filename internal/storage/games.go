package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ernie/play4096/internal/domain"
)

// --- Game methods ---

// CreateGame inserts a game; ID and timestamps must already be set
func (s *Store) CreateGame(ctx context.Context, g *domain.Game) error {
	boardJSON, err := json.Marshal(g.Board)
	if err != nil {
		return fmt.Errorf("encoding board: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO game (id, player_id, created_on, updated_on, completed_on, score, won, complete, board_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.PlayerID, formatTimestamp(g.CreatedOn), formatTimestamp(g.UpdatedOn),
		nullTimestamp(g.CompletedOn), g.Score, g.Won, g.Complete, string(boardJSON))
	return err
}

// GetGame retrieves a game by ID
func (s *Store) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM game WHERE id = ?`, id)
	return scanGame(row)
}

// UpdateGame overwrites the mutable fields of a game
func (s *Store) UpdateGame(ctx context.Context, g *domain.Game) error {
	boardJSON, err := json.Marshal(g.Board)
	if err != nil {
		return fmt.Errorf("encoding board: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE game SET updated_on = ?, completed_on = ?, score = ?, won = ?, complete = ?, board_json = ?
		WHERE id = ?
	`, formatTimestamp(g.UpdatedOn), nullTimestamp(g.CompletedOn), g.Score, g.Won, g.Complete,
		string(boardJSON), g.ID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// GetCurrentGame returns the most recently updated incomplete game of a
// player
func (s *Store) GetCurrentGame(ctx context.Context, playerID string) (*domain.Game, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+gameColumns+` FROM game
		WHERE player_id = ? AND complete = FALSE
		ORDER BY updated_on DESC, created_on DESC, rowid DESC
		LIMIT 1
	`, playerID)
	return scanGame(row)
}

// ListUserGames returns a player's games, newest first
func (s *Store) ListUserGames(ctx context.Context, playerID string, limit int) ([]domain.Game, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+gameColumns+` FROM game
		WHERE player_id = ?
		ORDER BY updated_on DESC, created_on DESC, rowid DESC
		LIMIT ?
	`, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}
