package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ernie/play4096/internal/domain"
)

var ErrInvalidSession = errors.New("invalid or expired session")

// SessionStore persists sessions keyed by the hashed token
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, *domain.User, error)
	UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}

// Sessions manages cookie sessions. Expiry slides forward when a
// session is used within the renewal window.
type Sessions struct {
	store       SessionStore
	duration    time.Duration
	renewWithin time.Duration
	now         func() time.Time
}

// NewSessions creates a session manager
func NewSessions(store SessionStore, duration, renewWithin time.Duration) *Sessions {
	return &Sessions{
		store:       store,
		duration:    duration,
		renewWithin: renewWithin,
		now:         time.Now,
	}
}

// SetClock overrides the time source
func (s *Sessions) SetClock(now func() time.Time) {
	s.now = now
}

// Create starts a session for the user and returns the session along
// with the raw token for the cookie
func (s *Sessions) Create(ctx context.Context, userID string) (*domain.Session, string, error) {
	token := GenerateSessionToken()
	session := &domain.Session{
		ID:        HashToken(token),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.duration).UTC().Truncate(time.Second),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, "", fmt.Errorf("creating session: %w", err)
	}
	return session, token, nil
}

// Validate resolves a token to its session and user. Unknown and
// expired tokens return ErrInvalidSession.
func (s *Sessions) Validate(ctx context.Context, token string) (*domain.Session, *domain.User, error) {
	if token == "" {
		return nil, nil, ErrInvalidSession
	}
	id := HashToken(token)

	session, user, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, ErrInvalidSession
		}
		return nil, nil, fmt.Errorf("loading session: %w", err)
	}

	now := s.now()
	if !now.Before(session.ExpiresAt) {
		if err := s.store.DeleteSession(ctx, id); err != nil {
			return nil, nil, fmt.Errorf("deleting expired session: %w", err)
		}
		return nil, nil, ErrInvalidSession
	}

	if !now.Before(session.ExpiresAt.Add(-s.renewWithin)) {
		session.ExpiresAt = now.Add(s.duration).UTC().Truncate(time.Second)
		if err := s.store.UpdateSessionExpiry(ctx, id, session.ExpiresAt); err != nil {
			return nil, nil, fmt.Errorf("renewing session: %w", err)
		}
	}

	return session, user, nil
}

// Invalidate removes a single session
func (s *Sessions) Invalidate(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// InvalidateAll removes every session of a user
func (s *Sessions) InvalidateAll(ctx context.Context, userID string) error {
	return s.store.DeleteUserSessions(ctx, userID)
}
