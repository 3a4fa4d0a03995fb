package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ernie/play4096/internal/auth"
	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/logging"
)

type ctxKey int

const (
	userKey ctxKey = iota
	sessionKey
)

// currentUser returns the signed-in user, or nil
func currentUser(req *http.Request) *domain.User {
	user, _ := req.Context().Value(userKey).(*domain.User)
	return user
}

// currentSession returns the cookie session, or nil for anonymous and
// bearer-token requests
func currentSession(req *http.Request) *domain.Session {
	session, _ := req.Context().Value(sessionKey).(*domain.Session)
	return session
}

func withAuth(ctx context.Context, user *domain.User, session *domain.Session) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, sessionKey, session)
}

// middleware wraps the mux, outermost first
func (r *Router) middleware(next http.Handler) http.Handler {
	h := r.compress(next)
	h = r.instrument(h)
	h = r.rateLimit(h)
	h = r.authenticate(h)
	h = r.cors(h)
	return r.requestLogger(h)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.written = true
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// requestLogger tags every request with an id and logs its outcome
func (r *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		requestID := req.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		entry := r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     req.Method,
			"path":       req.URL.Path,
		})
		req = req.WithContext(logging.WithContext(req.Context(), entry))

		rw := wrap(w)
		next.ServeHTTP(rw, req)

		fields := logrus.Fields{
			"status":   rw.statusCode,
			"duration": time.Since(start).Round(time.Microsecond).String(),
			"ip":       r.clientIP(req),
		}
		switch {
		case rw.statusCode >= 500:
			entry.WithFields(fields).Error("Request failed")
		case req.URL.Path == "/health" || req.URL.Path == "/metrics":
			entry.WithFields(fields).Trace("Request handled")
		default:
			entry.WithFields(fields).Debug("Request handled")
		}
	})
}

// instrument records Prometheus request metrics keyed by route pattern
func (r *Router) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		r.metrics.InFlightInc()
		defer r.metrics.InFlightDec()

		rw := wrap(w)
		next.ServeHTTP(rw, req)

		// the mux sets Pattern on this request once it matches
		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		r.metrics.RecordHTTPRequest(req.Method, route, rw.statusCode, time.Since(start))
	})
}

// compress gzips responses except the websocket upgrade
func (r *Router) compress(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/ws" {
			next.ServeHTTP(w, req)
			return
		}
		gz.ServeHTTP(w, req)
	})
}

// cors answers preflight requests and tags responses for the configured
// origin
func (r *Router) cors(next http.Handler) http.Handler {
	allowed := r.cfg.Server.AllowedOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if allowed != "" && (allowed == "*" || origin == allowed) {
			if allowed == "*" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// authenticate resolves the session cookie or bearer token. A valid
// session refreshes its cookie; an invalid one deletes it.
func (r *Router) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		log := logging.FromContext(ctx)

		if token := readCookie(req, sessionCookie); token != "" {
			session, user, err := r.sessions.Validate(ctx, token)
			switch {
			case err == nil:
				r.setCookie(w, sessionCookie, token, session.ExpiresAt)
				log = log.WithField("user_id", user.ID)
				ctx = logging.WithContext(withAuth(ctx, user, session), log)
			case errors.Is(err, auth.ErrInvalidSession):
				r.deleteCookie(w, sessionCookie)
			default:
				log.WithError(err).Error("Validating session")
			}
		} else if header := req.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") && r.tokens != nil {
			claims, err := r.tokens.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err == nil {
				user, err := r.store.GetUserByID(ctx, claims.UserID)
				if err == nil {
					log = log.WithField("user_id", user.ID)
					ctx = logging.WithContext(withAuth(ctx, user, nil), log)
				}
			}
		}

		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// requireAuth is middleware that rejects anonymous requests
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if currentUser(req) == nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next(w, req)
	}
}

// requireAdmin is middleware that also checks admin status
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		user := currentUser(req)
		if user == nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if !user.Admin {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next(w, req)
	}
}

// ipLimiter hands out an x/time/rate limiter per client address
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (l *ipLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[key]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Prune drops limiters not used since the cutoff
func (l *ipLimiter) Prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
			removed++
		}
	}
	return removed
}

// rateLimit applies the per-IP limiter to /api/ routes. The webhook is
// exempt so provider retries are never throttled.
func (r *Router) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.ipLimiter.burst <= 0 || !strings.HasPrefix(req.URL.Path, "/api/") || req.URL.Path == "/api/stripe/webhook" {
			next.ServeHTTP(w, req)
			return
		}

		ip := r.clientIP(req)
		if !r.ipLimiter.allow(ip, r.now()) {
			r.metrics.RateLimited("api")
			logging.FromContext(req.Context()).WithField("ip", ip).Warn("Rate limit exceeded")
			w.Header().Set("Retry-After", fmt.Sprint(retryAfter(r.ipLimiter.rate)))
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func retryAfter(l rate.Limit) int {
	if l <= 0 {
		return 1
	}
	secs := int(1 / float64(l))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// clientIP returns the address the request came from. Forwarding
// headers are only believed when the peer is a trusted proxy; the
// X-Forwarded-For chain is walked from the right, skipping trusted hops.
func (r *Router) clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if !r.trusted(host) {
		return host
	}

	if xff := req.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !r.trusted(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(req.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return host
}

func (r *Router) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
