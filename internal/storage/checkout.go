package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ernie/play4096/internal/domain"
)

// --- Checkout methods ---

func encodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

// CreateCheckoutSession records a started checkout
func (s *Store) CreateCheckoutSession(ctx context.Context, c *domain.CheckoutSession) error {
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	sessionJSON := c.SessionJSON
	if sessionJSON == "" {
		sessionJSON = "{}"
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stripe_session (id, user_id, session_id, status, metadata, session_json, created_on, updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.SessionID, c.Status, metadata, sessionJSON,
		formatTimestamp(c.CreatedOn), formatTimestamp(c.UpdatedOn))
	return err
}

// GetCheckoutSessionBySessionID looks up a checkout by provider session id
func (s *Store) GetCheckoutSessionBySessionID(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+checkoutColumns+` FROM stripe_session WHERE session_id = ?
	`, sessionID)
	return scanCheckout(row)
}

// UpdateCheckoutSession stores the latest status, metadata and payload
func (s *Store) UpdateCheckoutSession(ctx context.Context, c *domain.CheckoutSession) error {
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE stripe_session SET status = ?, metadata = ?, session_json = ?, updated_on = ?
		WHERE session_id = ?
	`, c.Status, metadata, c.SessionJSON, formatTimestamp(c.UpdatedOn), c.SessionID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DeleteCheckoutSessionBySessionID removes a checkout record
func (s *Store) DeleteCheckoutSessionBySessionID(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stripe_session WHERE session_id = ?`, sessionID)
	return err
}
