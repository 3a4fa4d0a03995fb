package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/play4096/internal/domain"
)

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	users    map[string]*domain.User
}

func newMemSessions() *memSessions {
	return &memSessions{
		sessions: make(map[string]domain.Session),
		users:    map[string]*domain.User{"u1": {ID: "u1", Username: "alice"}},
	}
}

func (m *memSessions) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memSessions) GetSession(_ context.Context, id string) (*domain.Session, *domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	return &s, m.users[s.UserID], nil
}

func (m *memSessions) UpdateSessionExpiry(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	s.ExpiresAt = expiresAt
	m.sessions[id] = s
	return nil
}

func (m *memSessions) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) DeleteUserSessions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

const day = 24 * time.Hour

func newTestSessions() (*Sessions, *memSessions, *fakeClock) {
	store := newMemSessions()
	clock := newClock()
	s := NewSessions(store, 30*day, 15*day)
	s.SetClock(clock.now)
	return s, store, clock
}

func TestSessionCreateAndValidate(t *testing.T) {
	ctx := context.Background()
	s, store, clock := newTestSessions()

	session, token, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, HashToken(token), session.ID)
	assert.NotEqual(t, token, session.ID)
	assert.Equal(t, clock.t.Add(30*day), session.ExpiresAt)
	assert.Contains(t, store.sessions, session.ID)

	got, user, err := s.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, session.ExpiresAt, got.ExpiresAt)
}

func TestSessionUnknownToken(t *testing.T) {
	s, _, _ := newTestSessions()

	_, _, err := s.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, _, err = s.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionRenewal(t *testing.T) {
	ctx := context.Background()
	s, store, clock := newTestSessions()

	session, token, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	original := session.ExpiresAt

	clock.advance(14 * day)
	got, _, err := s.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, original, got.ExpiresAt, "not yet inside the renewal window")

	clock.advance(2 * day)
	got, _, err = s.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, clock.t.Add(30*day), got.ExpiresAt)
	assert.Equal(t, got.ExpiresAt, store.sessions[session.ID].ExpiresAt)
}

func TestSessionExpiry(t *testing.T) {
	ctx := context.Background()
	s, store, clock := newTestSessions()

	session, token, err := s.Create(ctx, "u1")
	require.NoError(t, err)

	clock.advance(30 * day)
	_, _, err = s.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.NotContains(t, store.sessions, session.ID)
}

func TestSessionInvalidate(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newTestSessions()

	a, tokenA, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	_, tokenB, err := s.Create(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, s.Invalidate(ctx, a.ID))
	_, _, err = s.Validate(ctx, tokenA)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, _, err = s.Validate(ctx, tokenB)
	assert.NoError(t, err)

	require.NoError(t, s.InvalidateAll(ctx, "u1"))
	assert.Empty(t, store.sessions)
}
