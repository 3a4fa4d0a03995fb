package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/logging"
)

func TestEmbeddedBusRoundTrip(t *testing.T) {
	bus, err := Open("", logging.Discard().WithField("test", t.Name()))
	require.NoError(t, err)
	defer bus.Close()

	received := make(chan domain.Event, 4)
	sub, err := bus.Subscribe(func(ev domain.Event) { received <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, bus.Flush())

	err = bus.Publish(context.Background(), domain.Event{
		Type: domain.EventScoreUpdate,
		Data: domain.ScoreUpdateEvent{UserID: "u1", Username: "alice", BestScore: 2048, Pro: true},
	})
	require.NoError(t, err)
	require.NoError(t, bus.Flush())

	select {
	case ev := <-received:
		assert.Equal(t, domain.EventScoreUpdate, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
		data, ok := ev.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "alice", data["username"])
		assert.Equal(t, float64(2048), data["best_score"])
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	bus, err := Open("", logging.Discard().WithField("test", t.Name()))
	require.NoError(t, err)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bus.Publish(ctx, domain.Event{Type: domain.EventLeaderboard}), context.Canceled)
}

func TestOpenBadURL(t *testing.T) {
	_, err := Open("nats://127.0.0.1:1", logging.Discard().WithField("test", t.Name()))
	assert.Error(t, err)
}
