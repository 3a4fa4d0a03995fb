package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.MoveApplied()
	m.MoveApplied()
	m.GameSaved("won")
	m.RateLimited("login")
	m.Swept("session", 3)
	m.Swept("session", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gameMoves))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gamesSaved.WithLabelValues("won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("login")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.swept.WithLabelValues("session")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MoveApplied()
		m.GameSaved("lost")
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		m.InFlightInc()
		m.InFlightDec()
		m.EmailSent("verification")
		m.WebsocketClients(2)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("GET", "GET /api/leaderboard", 200, 5*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `play4096_http_requests_total{method="GET",route="GET /api/leaderboard",status="200"} 1`)
}
