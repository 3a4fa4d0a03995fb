package storage

import (
	"context"
	"database/sql"

	"github.com/ernie/play4096/internal/domain"
)

// Leaderboard limits
const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// GetLeaderboard returns PRO users with a best score, highest first.
// Ties are broken by username.
func (s *Store) GetLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, p.display_name, p.best_score
		FROM user u
		JOIN user_profile p ON p.user_id = u.id
		WHERE u.level = ? AND p.best_score IS NOT NULL
		ORDER BY p.best_score DESC, u.username ASC
		LIMIT ?
	`, domain.LevelPro, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.LeaderboardEntry{}
	for rows.Next() {
		var e domain.LeaderboardEntry
		var displayName sql.NullString
		if err := rows.Scan(&e.UserID, &e.Username, &displayName, &e.BestScore); err != nil {
			return nil, err
		}
		e.DisplayName = scanNullString(displayName)
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
