package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/play4096/internal/auth"
	"github.com/ernie/play4096/internal/board"
	"github.com/ernie/play4096/internal/config"
	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/events"
	"github.com/ernie/play4096/internal/game"
	"github.com/ernie/play4096/internal/logging"
	"github.com/ernie/play4096/internal/mail"
	"github.com/ernie/play4096/internal/metrics"
	"github.com/ernie/play4096/internal/payments"
	"github.com/ernie/play4096/internal/storage"
)

type fakeProvider struct {
	mu       sync.Mutex
	sessions map[string]*payments.CheckoutSession
	webhook  *payments.WebhookEvent
	err      error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id := fmt.Sprintf("cs_test_%d", len(f.sessions)+1)
	cs := &payments.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		Status:        payments.StatusOpen,
		PaymentStatus: payments.PaymentUnpaid,
		Metadata:      req.Metadata,
		Raw:           `{"id":"` + id + `"}`,
	}
	f.sessions[id] = cs
	copied := *cs
	return &copied, nil
}

func (f *fakeProvider) GetCheckoutSession(_ context.Context, id string) (*payments.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no such checkout session %q", id)
	}
	copied := *cs
	return &copied, nil
}

func (f *fakeProvider) ParseWebhook(_ []byte, signature string) (*payments.WebhookEvent, error) {
	if signature != "good" {
		return nil, payments.ErrInvalidSignature
	}
	return f.webhook, nil
}

func (f *fakeProvider) pay(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id].Status = payments.StatusComplete
	f.sessions[id].PaymentStatus = payments.PaymentPaid
}

// testClock is a settable time source shared with the server goroutines
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	t        *testing.T
	clock    *testClock
	cfg      *config.Config
	router   *Router
	server   *httptest.Server
	store    *storage.Store
	mailer   *mail.Recorder
	provider *fakeProvider
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, opts ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Environment = config.EnvDevelopment
	cfg.Auth.JWTSecret = "test-secret"
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000
	// the test server's loopback peer stands in for a reverse proxy
	cfg.Server.TrustedProxies = []string{"127.0.0.0/8", "::1"}
	for _, opt := range opts {
		opt(cfg)
	}

	store, err := storage.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logging.Discard().WithField("test", t.Name())
	f := &fixture{
		t:        t,
		cfg:      cfg,
		store:    store,
		mailer:   &mail.Recorder{},
		provider: &fakeProvider{sessions: make(map[string]*payments.CheckoutSession)},
		metrics:  metrics.New(),
		clock:    &testClock{now: time.Now()},
	}

	gameOpts := board.Options{
		Size:            cfg.Game.BoardSize,
		StartingTiles:   cfg.Game.StartingTiles,
		WinTile:         cfg.Game.WinTile,
		FourProbability: cfg.Game.FourProbability,
	}
	f.router = NewRouter(Deps{
		Config:   cfg,
		Store:    store,
		Sessions: auth.NewSessions(store, cfg.Auth.SessionDuration, cfg.Auth.SessionRenewWithin),
		Tokens:   auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration),
		Games:    game.NewService(store, gameOpts, events.Nop{}, f.metrics, log),
		Payments: payments.NewService(f.provider, store, payments.Config{BaseURL: cfg.BaseURL, PriceID: "price_test"},
			events.Nop{}, f.metrics, log),
		Mailer:  f.mailer,
		Metrics: f.metrics,
		Log:     log,
	})
	f.router.now = f.clock.Now

	f.server = httptest.NewServer(f.router)
	t.Cleanup(f.server.Close)
	return f
}

// createUser stores a user directly, bypassing the register limiter
func (f *fixture) createUser(username, password string, mutate func(*domain.User)) *domain.User {
	f.t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(f.t, err)
	user := &domain.User{ID: auth.GenerateUserID(), Username: username, PasswordHash: hash}
	if mutate != nil {
		mutate(user)
	}
	_, err = f.store.CreateUser(context.Background(), user)
	require.NoError(f.t, err)
	return user
}

func (f *fixture) user(id string) *domain.User {
	f.t.Helper()
	u, err := f.store.GetUserByID(context.Background(), id)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) lastCode(kind string) string {
	f.t.Helper()
	msg, ok := f.mailer.Last()
	require.True(f.t, ok, "no email sent")
	require.Equal(f.t, kind, msg.Kind)
	fields := strings.Fields(msg.Body)
	return fields[len(fields)-1]
}

type client struct {
	t      *testing.T
	base   *url.URL
	http   *http.Client
	header http.Header
}

func (f *fixture) client() *client {
	f.t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(f.t, err)
	base, err := url.Parse(f.server.URL)
	require.NoError(f.t, err)
	return &client{
		t:      f.t,
		base:   base,
		header: http.Header{},
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// login signs the client in and fails the test otherwise
func (f *fixture) login(username, password string) *client {
	f.t.Helper()
	c := f.client()
	resp := c.post("/api/auth/login", map[string]string{"username": username, "password": password})
	require.Equal(f.t, http.StatusOK, resp.status, string(resp.body))
	return c
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) json(t *testing.T) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(r.body, &out), string(r.body))
	return out
}

func (r response) errorMessage(t *testing.T) string {
	t.Helper()
	msg, _ := r.json(t)["error"].(string)
	return msg
}

func (c *client) do(method, path string, body interface{}) response {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base.String()+path, rd)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return response{status: resp.StatusCode, header: resp.Header, body: data}
}

func (c *client) get(path string) response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil)
}

func (c *client) post(path string, body interface{}) response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body)
}

func (c *client) cookie(name string) string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.client().get("/health")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.json(t)["status"])

	f.store.Close()
	resp = f.client().get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
}

func TestSus(t *testing.T) {
	f := newFixture(t)
	resp := f.client().post("/sus", map[string]string{"probe": "devtools"})
	require.Equal(t, http.StatusOK, resp.status)
	body := resp.json(t)
	assert.Equal(t, "Sus request logged.", body["message"])
	assert.Equal(t, susRedirectURL, body["redirect_url"])
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)
	c := f.client()

	resp := c.get("/health")
	assert.NotEmpty(t, resp.header.Get("X-Request-ID"))

	c.header.Set("X-Request-ID", "abc-123")
	resp = c.get("/health")
	assert.Equal(t, "abc-123", resp.header.Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigin = "https://app.example"
	})
	c := f.client()
	c.header.Set("Origin", "https://app.example")

	resp := c.do(http.MethodOptions, "/api/auth/login", nil)
	assert.Equal(t, http.StatusNoContent, resp.status)
	assert.Equal(t, "https://app.example", resp.header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.header.Get("Access-Control-Allow-Credentials"))

	c.header.Set("Origin", "https://evil.example")
	resp = c.do(http.MethodOptions, "/api/auth/login", nil)
	assert.Empty(t, resp.header.Get("Access-Control-Allow-Origin"))
}

func TestAPIRateLimit(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 2
	})
	c := f.client()

	assert.Equal(t, http.StatusOK, c.get("/api/leaderboard").status)
	assert.Equal(t, http.StatusOK, c.get("/api/leaderboard").status)
	resp := c.get("/api/leaderboard")
	assert.Equal(t, http.StatusTooManyRequests, resp.status)
	assert.NotEmpty(t, resp.header.Get("Retry-After"))

	// other addresses and non-API paths are unaffected
	c.header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, http.StatusOK, c.get("/api/leaderboard").status)
	c.header.Del("X-Forwarded-For")
	assert.Equal(t, http.StatusOK, c.get("/health").status)

	// the webhook is exempt
	resp = c.post("/api/stripe/webhook", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Server.TrustedProxies = nil
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 2
	})

	var statuses []int
	for i := 0; i < 3; i++ {
		c := f.client()
		c.header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		c.header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		statuses = append(statuses, c.get("/api/leaderboard").status)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestRegisterLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Server.TrustedProxies = nil
	})

	var statuses []int
	for i := 0; i < 6; i++ {
		c := f.client()
		c.header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		resp := c.post("/api/auth/register", map[string]string{"username": fmt.Sprintf("user%d", i), "password": "hunter22"})
		statuses = append(statuses, resp.status)
	}
	assert.Equal(t, []int{201, 201, 201, 429, 429, 429}, statuses)
}

func TestClientIP(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Server.TrustedProxies = []string{"10.0.0.0/8"}
	})

	tests := []struct {
		name   string
		remote string
		xff    []string
		realIP string
		want   string
	}{
		{"untrusted peer", "203.0.113.5:4000", []string{"1.2.3.4"}, "5.6.7.8", "203.0.113.5"},
		{"trusted peer", "10.0.0.2:4000", []string{"1.2.3.4"}, "", "1.2.3.4"},
		{"skips trusted hops", "10.0.0.2:4000", []string{"9.9.9.9, 1.2.3.4, 10.0.0.7"}, "", "1.2.3.4"},
		{"split headers", "10.0.0.2:4000", []string{"9.9.9.9", "1.2.3.4"}, "", "1.2.3.4"},
		{"all hops trusted", "10.0.0.2:4000", []string{"10.0.0.9"}, "", "10.0.0.9"},
		{"real ip from trusted peer", "10.0.0.2:4000", nil, "5.6.7.8", "5.6.7.8"},
		{"trusted peer without headers", "10.0.0.2:4000", nil, "", "10.0.0.2"},
		{"no port", "203.0.113.5", nil, "", "203.0.113.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, f.router.clientIP(req))
		})
	}
}

func TestMetricsRecordRoutePattern(t *testing.T) {
	f := newFixture(t)
	c := f.client()
	require.Equal(t, http.StatusOK, c.get("/api/leaderboard").status)
	require.Equal(t, http.StatusUnauthorized, c.get("/api/account").status)

	resp := c.get("/metrics")
	require.Equal(t, http.StatusOK, resp.status)
	text := string(resp.body)
	assert.Contains(t, text, `play4096_http_requests_total{method="GET",route="GET /api/leaderboard",status="200"} 1`)
	assert.Contains(t, text, `play4096_http_requests_total{method="GET",route="GET /api/account",status="401"} 1`)
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>play</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	f := newFixture(t, func(cfg *config.Config) { cfg.Server.StaticDir = dir })
	c := f.client()

	resp := c.get("/app.js")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "application/javascript; charset=utf-8", resp.header.Get("Content-Type"))

	resp = c.get("/leaderboard")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "<html>play</html>", string(resp.body))
}

func TestLimitersArePrunable(t *testing.T) {
	f := newFixture(t)
	c := f.client()
	c.get("/api/leaderboard")

	limiters := f.router.Limiters()
	assert.Contains(t, limiters, "login")
	assert.Contains(t, limiters, "register")
	assert.Equal(t, 1, limiters["api"].Prune(time.Now().Add(time.Hour)))
}

func TestWebSocketBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.router.Hub().Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.router.Hub().ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	f.router.Hub().Broadcast(domain.Event{
		Type:      domain.EventScoreUpdate,
		Timestamp: time.Now().UTC(),
		Data:      domain.ScoreUpdateEvent{UserID: "u1", Username: "alice", BestScore: 4096},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, domain.EventScoreUpdate, ev["event"])

	cancel()
	require.Eventually(t, func() bool { return f.router.Hub().ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.router.Hub().Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
