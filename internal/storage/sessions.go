package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/ernie/play4096/internal/domain"
)

// --- Session methods ---

// CreateSession stores a session keyed by its hashed token
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, user_id, expires_at) VALUES (?, ?, ?)
	`, sess.ID, sess.UserID, formatTimestamp(sess.ExpiresAt))
	return err
}

// GetSession returns a session together with its user
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, *domain.User, error) {
	var sess domain.Session
	var user domain.User
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.expires_at,
			u.id, u.username, u.email, u.admin, u.level, u.password_hash, u.email_verified
		FROM session s
		JOIN user u ON u.id = s.user_id
		WHERE s.id = ?
	`, id).Scan(&sess.ID, &sess.UserID, &sess.ExpiresAt,
		&user.ID, &user.Username, &email, &user.Admin, &user.Level, &user.PasswordHash, &user.EmailVerified)
	if err != nil {
		return nil, nil, notFound(err)
	}
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	user.Email = scanNullString(email)
	return &sess, &user, nil
}

// UpdateSessionExpiry moves a session's expiry
func (s *Store) UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session SET expires_at = ? WHERE id = ?
	`, formatTimestamp(expiresAt), id)
	return err
}

// DeleteSession removes a session
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = ?`, id)
	return err
}

// DeleteUserSessions removes every session of a user
func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE user_id = ?`, userID)
	return err
}
