package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ernie/play4096/internal/board"
	"github.com/ernie/play4096/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullString(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time.UTC()
		return &t
	}
	return nil
}

func scanNullInt64Ptr(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*t), Valid: true}
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, username, email, admin, level, password_hash, email_verified`

// scanUser scans a user row from the database
func scanUser(s scanner) (*domain.User, error) {
	var user domain.User
	var email sql.NullString
	err := s.Scan(&user.ID, &user.Username, &email, &user.Admin, &user.Level,
		&user.PasswordHash, &user.EmailVerified)
	if err != nil {
		return nil, notFound(err)
	}
	user.Email = scanNullString(email)
	return &user, nil
}

const profileColumns = `id, user_id, display_name, avatar_url, best_score`

func scanProfile(s scanner) (*domain.Profile, error) {
	var p domain.Profile
	var displayName, avatarURL sql.NullString
	var bestScore sql.NullInt64
	if err := s.Scan(&p.ID, &p.UserID, &displayName, &avatarURL, &bestScore); err != nil {
		return nil, notFound(err)
	}
	p.DisplayName = scanNullString(displayName)
	p.AvatarURL = scanNullString(avatarURL)
	p.BestScore = scanNullInt64Ptr(bestScore)
	return &p, nil
}

const gameColumns = `id, player_id, created_on, updated_on, completed_on, score, won, complete, board_json`

// scanGame scans a game row, decoding the stored board
func scanGame(s scanner) (*domain.Game, error) {
	var g domain.Game
	var completedOn sql.NullTime
	var score sql.NullInt64
	var boardJSON string
	err := s.Scan(&g.ID, &g.PlayerID, &g.CreatedOn, &g.UpdatedOn, &completedOn,
		&score, &g.Won, &g.Complete, &boardJSON)
	if err != nil {
		return nil, notFound(err)
	}
	g.CreatedOn = g.CreatedOn.UTC()
	g.UpdatedOn = g.UpdatedOn.UTC()
	g.CompletedOn = scanNullTime(completedOn)
	g.Score = score.Int64

	var b board.Board
	if err := json.Unmarshal([]byte(boardJSON), &b); err != nil {
		return nil, fmt.Errorf("decoding board for game %s: %w", g.ID, err)
	}
	g.Board = b
	return &g, nil
}

const checkoutColumns = `id, user_id, session_id, status, metadata, session_json, created_on, updated_on`

func scanCheckout(s scanner) (*domain.CheckoutSession, error) {
	var c domain.CheckoutSession
	var metadata string
	err := s.Scan(&c.ID, &c.UserID, &c.SessionID, &c.Status, &metadata,
		&c.SessionJSON, &c.CreatedOn, &c.UpdatedOn)
	if err != nil {
		return nil, notFound(err)
	}
	c.CreatedOn = c.CreatedOn.UTC()
	c.UpdatedOn = c.UpdatedOn.UTC()
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decoding checkout metadata: %w", err)
		}
	}
	return &c, nil
}
