package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ernie/play4096/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = domain.ErrNotFound

	ErrUsernameTaken = errors.New("username already exists")
	ErrEmailTaken    = errors.New("email already in use")
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// uniqueViolation maps SQLite unique constraint failures to sentinel errors
func uniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint") {
		return err
	}
	switch {
	case strings.Contains(msg, "user.username"):
		return ErrUsernameTaken
	case strings.Contains(msg, "user.email"):
		return ErrEmailTaken
	}
	return err
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Maintenance ---

// PruneResult counts rows removed by DeleteExpired
type PruneResult struct {
	Sessions      int64
	Verifications int64
	Resets        int64
}

// Total is the number of rows removed
func (r PruneResult) Total() int64 {
	return r.Sessions + r.Verifications + r.Resets
}

// DeleteExpired removes sessions, verification requests and reset
// sessions that expired at or before now
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (PruneResult, error) {
	var res PruneResult
	cutoff := formatTimestamp(now)

	targets := []struct {
		table string
		count *int64
	}{
		{"session", &res.Sessions},
		{"email_verification_request", &res.Verifications},
		{"password_reset_session", &res.Resets},
	}

	for _, t := range targets {
		result, err := s.db.ExecContext(ctx, `DELETE FROM `+t.table+` WHERE expires_at <= ?`, cutoff)
		if err != nil {
			return res, fmt.Errorf("pruning %s: %w", t.table, err)
		}
		*t.count, _ = result.RowsAffected()
	}
	return res, nil
}
