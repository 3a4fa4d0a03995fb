package storage

import (
	"context"
	"database/sql"

	"github.com/ernie/play4096/internal/domain"
)

// --- Email verification methods ---

// CreateEmailVerificationRequest replaces any pending requests of the
// user with req
func (s *Store) CreateEmailVerificationRequest(ctx context.Context, req *domain.EmailVerificationRequest) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM email_verification_request WHERE user_id = ?
		`, req.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO email_verification_request (id, user_id, email, code, expires_at)
			VALUES (?, ?, ?, ?, ?)
		`, req.ID, req.UserID, req.Email, req.Code, formatTimestamp(req.ExpiresAt))
		return err
	})
}

// GetEmailVerificationRequest returns the request only if it belongs to the user
func (s *Store) GetEmailVerificationRequest(ctx context.Context, userID, id string) (*domain.EmailVerificationRequest, error) {
	var req domain.EmailVerificationRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, code, expires_at
		FROM email_verification_request
		WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&req.ID, &req.UserID, &req.Email, &req.Code, &req.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	req.ExpiresAt = req.ExpiresAt.UTC()
	return &req, nil
}

// DeleteUserEmailVerificationRequests removes every pending request of a user
func (s *Store) DeleteUserEmailVerificationRequests(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM email_verification_request WHERE user_id = ?
	`, userID)
	return err
}

// --- Password reset methods ---

// CreatePasswordResetSession stores a reset session keyed by its hashed token
func (s *Store) CreatePasswordResetSession(ctx context.Context, rs *domain.PasswordResetSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_reset_session (id, user_id, email, code, email_verified, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rs.ID, rs.UserID, rs.Email, rs.Code, rs.EmailVerified, formatTimestamp(rs.ExpiresAt))
	return err
}

// GetPasswordResetSession returns a reset session with its user
func (s *Store) GetPasswordResetSession(ctx context.Context, id string) (*domain.PasswordResetSession, *domain.User, error) {
	var rs domain.PasswordResetSession
	var user domain.User
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.user_id, r.email, r.code, r.email_verified, r.expires_at,
			u.id, u.username, u.email, u.admin, u.level, u.password_hash, u.email_verified
		FROM password_reset_session r
		JOIN user u ON u.id = r.user_id
		WHERE r.id = ?
	`, id).Scan(&rs.ID, &rs.UserID, &rs.Email, &rs.Code, &rs.EmailVerified, &rs.ExpiresAt,
		&user.ID, &user.Username, &email, &user.Admin, &user.Level, &user.PasswordHash, &user.EmailVerified)
	if err != nil {
		return nil, nil, notFound(err)
	}
	rs.ExpiresAt = rs.ExpiresAt.UTC()
	user.Email = scanNullString(email)
	return &rs, &user, nil
}

// SetPasswordResetSessionEmailVerified records that the emailed code was entered
func (s *Store) SetPasswordResetSessionEmailVerified(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE password_reset_session SET email_verified = TRUE WHERE id = ?
	`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DeletePasswordResetSession removes one reset session
func (s *Store) DeletePasswordResetSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM password_reset_session WHERE id = ?`, id)
	return err
}

// DeleteUserPasswordResetSessions removes every reset session of a user
func (s *Store) DeleteUserPasswordResetSessions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM password_reset_session WHERE user_id = ?`, userID)
	return err
}
