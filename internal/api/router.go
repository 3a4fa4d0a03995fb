package api

import (
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ernie/play4096/internal/auth"
	"github.com/ernie/play4096/internal/config"
	"github.com/ernie/play4096/internal/game"
	"github.com/ernie/play4096/internal/mail"
	"github.com/ernie/play4096/internal/metrics"
	"github.com/ernie/play4096/internal/payments"
	"github.com/ernie/play4096/internal/storage"
)

// Deps are the services the router dispatches to
type Deps struct {
	Config   *config.Config
	Store    *storage.Store
	Sessions *auth.Sessions
	Tokens   *auth.Service
	Games    *game.Service
	Payments *payments.Service
	Mailer   mail.Mailer
	Metrics  *metrics.Metrics
	Log      *logrus.Entry
}

// limits are the per-flow token buckets
type limits struct {
	register    *auth.RefillingTokenBucket[string]
	login       *auth.Throttler[string]
	verifyEmail *auth.ExpiringTokenBucket[string]
	resendEmail *auth.ExpiringTokenBucket[string]
	forgotIP    *auth.RefillingTokenBucket[string]
	forgotUser  *auth.RefillingTokenBucket[string]
	resetVerify *auth.ExpiringTokenBucket[string]
}

func newLimits() limits {
	return limits{
		register:    auth.NewRefillingTokenBucket[string](3, 10*time.Second),
		login:       auth.NewThrottler[string](auth.LoginTimeouts),
		verifyEmail: auth.NewExpiringTokenBucket[string](5, 30*time.Minute),
		resendEmail: auth.NewExpiringTokenBucket[string](3, 10*time.Minute),
		forgotIP:    auth.NewRefillingTokenBucket[string](3, 60*time.Second),
		forgotUser:  auth.NewRefillingTokenBucket[string](3, 60*time.Second),
		resetVerify: auth.NewExpiringTokenBucket[string](5, 30*time.Minute),
	}
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux     *http.ServeMux
	handler http.Handler

	cfg      *config.Config
	store    *storage.Store
	sessions *auth.Sessions
	tokens   *auth.Service
	games    *game.Service
	payments *payments.Service
	mailer   mail.Mailer
	metrics  *metrics.Metrics
	log      *logrus.Entry

	wsHub     *WebSocketHub
	ipLimiter      *ipLimiter
	trustedProxies []netip.Prefix
	limits         limits
	now       func() time.Time
}

// NewRouter creates a new HTTP router
func NewRouter(d Deps) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		cfg:       d.Config,
		store:     d.Store,
		sessions:  d.Sessions,
		tokens:    d.Tokens,
		games:     d.Games,
		payments:  d.Payments,
		mailer:    d.Mailer,
		metrics:   d.Metrics,
		log:       d.Log.WithField("component", "api"),
		limits:    newLimits(),
		ipLimiter: newIPLimiter(d.Config.RateLimit.RequestsPerSecond, d.Config.RateLimit.Burst),
		now:       time.Now,
	}
	r.wsHub = NewWebSocketHub(d.Metrics, r.log)

	trusted, err := d.Config.Server.TrustedNets()
	if err != nil {
		r.log.WithError(err).Warn("Ignoring trusted proxies")
	}
	r.trustedProxies = trusted

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/register", r.handleRegister)
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /api/auth/logout", r.handleLogout)
	r.mux.HandleFunc("POST /api/auth/token", r.handleToken)
	r.mux.HandleFunc("GET /api/auth/me", r.handleMe)

	// Account routes (authenticated users only)
	r.mux.HandleFunc("GET /api/account", r.requireAuth(r.handleGetAccount))
	r.mux.HandleFunc("POST /api/account/details", r.requireAuth(r.handleUpdateDetails))
	r.mux.HandleFunc("POST /api/account/password", r.requireAuth(r.handleChangePassword))

	// Email verification
	r.mux.HandleFunc("GET /api/verify-email", r.requireAuth(r.handleGetVerifyEmail))
	r.mux.HandleFunc("POST /api/verify-email", r.handleVerifyEmail)
	r.mux.HandleFunc("POST /api/verify-email/resend", r.handleResendVerification)

	// Password reset
	r.mux.HandleFunc("POST /api/forgot-password", r.handleForgotPassword)
	r.mux.HandleFunc("GET /api/reset-password", r.handleGetResetPassword)
	r.mux.HandleFunc("POST /api/reset-password/verify-email", r.handleResetVerifyEmail)
	r.mux.HandleFunc("POST /api/reset-password", r.handleResetPassword)

	// Game routes
	r.mux.HandleFunc("GET /api/game", r.handleGetGame)
	r.mux.HandleFunc("POST /api/game/save", r.handleSaveGame)
	r.mux.HandleFunc("POST /api/game/score", r.requireAuth(r.handleSaveScore))
	r.mux.HandleFunc("POST /api/game/new", r.requireAuth(r.handleNewGame))
	r.mux.HandleFunc("POST /api/game/{id}/move", r.requireAuth(r.handleMove))
	r.mux.HandleFunc("GET /api/game/history", r.requireAuth(r.handleGameHistory))

	r.mux.HandleFunc("GET /api/leaderboard", r.handleGetLeaderboard)

	// Checkout
	r.mux.HandleFunc("GET /api/checkout", r.requireAuth(r.handleGetCheckout))
	r.mux.HandleFunc("POST /api/checkout", r.requireAuth(r.handleStartCheckout))
	r.mux.HandleFunc("GET /stripe/success", r.handleCheckoutSuccess)
	r.mux.HandleFunc("GET /stripe/cancel", r.handleCheckoutCancel)
	r.mux.HandleFunc("POST /api/stripe/webhook", r.handleStripeWebhook)

	// User management routes (admin only)
	r.mux.HandleFunc("GET /api/admin/users", r.requireAdmin(r.handleListUsers))
	r.mux.HandleFunc("PATCH /api/admin/users/{id}", r.requireAdmin(r.handleUpdateUser))
	r.mux.HandleFunc("DELETE /api/admin/users/{id}", r.requireAdmin(r.handleDeleteUser))

	r.mux.HandleFunc("POST /sus", r.handleSus)

	// WebSocket endpoint
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)
	if d.Metrics != nil {
		r.mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	// Static files - only serve if staticDir is configured
	if d.Config.Server.StaticDir != "" {
		r.mux.HandleFunc("GET /", r.handleStatic)
	}

	r.handler = r.middleware(r.mux)
	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Hub returns the websocket hub so callers can feed it events
func (r *Router) Hub() *WebSocketHub {
	return r.wsHub
}

// Limiters returns every in-memory limiter, keyed by name, for pruning
func (r *Router) Limiters() map[string]auth.Pruner {
	return map[string]auth.Pruner{
		"api":                r.ipLimiter,
		"register":           r.limits.register,
		"login":              r.limits.login,
		"verify_email":       r.limits.verifyEmail,
		"resend_email":       r.limits.resendEmail,
		"forgot_ip":          r.limits.forgotIP,
		"forgot_user":        r.limits.forgotUser,
		"reset_verify_email": r.limits.resetVerify,
	}
}

// handleStatic serves static files from the configured directory
// For SPA support, serves index.html for any path that doesn't match a file
func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	staticDir := r.cfg.Server.StaticDir
	path := filepath.Clean(req.URL.Path)
	if path == "/" {
		path = "/index.html"
	}

	fullPath := filepath.Join(staticDir, path)

	// Security: ensure the path is within staticDir
	absStaticDir, _ := filepath.Abs(staticDir)
	absPath, _ := filepath.Abs(fullPath)
	if !strings.HasPrefix(absPath, absStaticDir) {
		http.NotFound(w, req)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		// SPA fallback
		fullPath = filepath.Join(staticDir, "index.html")
		if _, err := os.Stat(fullPath); err != nil {
			http.NotFound(w, req)
			return
		}
	}

	if contentType := getContentType(fullPath); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeFile(w, req, fullPath)
}

// getContentType returns the content type for a file based on extension
func getContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json", ".webmanifest":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".ico":
		return "image/x-icon"
	case ".woff2":
		return "font/woff2"
	default:
		return ""
	}
}
