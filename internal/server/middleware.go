// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// ============================================================================
// Basic Auth
// ============================================================================

// AuthConfig contains HTTP basic auth credentials.
type AuthConfig struct {
	Username     string
	PasswordHash string // bcrypt

	// Exempt paths skip authentication.
	Exempt []string

	// Realm is sent in the WWW-Authenticate challenge.
	Realm string

	mu       sync.Mutex
	verified map[[sha256.Size]byte]struct{}
}

// maxVerifiedCredentials bounds the cache of passwords that passed bcrypt.
const maxVerifiedCredentials = 64

// Enabled reports whether credentials are configured.
func (c *AuthConfig) Enabled() bool {
	return c != nil && c.Username != "" && c.PasswordHash != ""
}

func (c *AuthConfig) isExempt(path string) bool {
	for _, p := range c.Exempt {
		if p == path {
			return true
		}
	}
	return false
}

// checkPassword compares against the bcrypt hash. Browsers resend credentials
// with every request, so passwords that already matched are remembered by
// digest instead of running bcrypt each time.
func (c *AuthConfig) checkPassword(password string) bool {
	digest := sha256.Sum256([]byte(password))

	c.mu.Lock()
	_, ok := c.verified[digest]
	c.mu.Unlock()
	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) != nil {
		return false
	}

	c.mu.Lock()
	if c.verified == nil || len(c.verified) >= maxVerifiedCredentials {
		c.verified = make(map[[sha256.Size]byte]struct{})
	}
	c.verified[digest] = struct{}{}
	c.mu.Unlock()
	return true
}

// BasicAuthMiddleware returns middleware that requires HTTP basic auth.
// It passes everything through when cfg is not Enabled.
//
// The username is compared in constant time; the password with bcrypt.
// Returns 401 with a WWW-Authenticate challenge on failure.
func BasicAuthMiddleware(cfg *AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled() {
			return next
		}
		realm := cfg.Realm
		if realm == "" {
			realm = "chatportal"
		}
		challenge := `Basic realm="` + realm + `", charset="UTF-8"`

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.isExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			reason := ""
			switch {
			case !ok:
				reason = "missing_credentials"
			case subtle.ConstantTimeCompare([]byte(user), []byte(cfg.Username)) != 1:
				reason = "unknown_user"
			case !cfg.checkPassword(pass):
				reason = "bad_password"
			}
			if reason != "" {
				slog.Warn("AUTH_DENIED", "ip", GetClientIP(r), "path", r.URL.Path, "reason", reason)
				w.Header().Set("WWW-Authenticate", challenge)
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Rate Limiter
// ============================================================================

// visitorIdleTimeout is how long an idle client's limiter is kept.
const visitorIdleTimeout = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	rpm   int

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

// NewRateLimiter allows requestsPerMinute per IP with the given burst.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &RateLimiter{
		limit:     limit,
		burst:     burst,
		rpm:       requestsPerMinute,
		visitors:  make(map[string]*visitor),
		lastSweep: time.Now(),
	}
}

// DefaultRateLimiter returns a RateLimiter with 60 requests per minute and a burst of 10.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(60, 10)
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.limiterFor(ip, time.Now()).Allow()
}

// RetryAfter is the suggested wait once a client is limited.
func (rl *RateLimiter) RetryAfter() time.Duration {
	if rl.rpm <= 0 {
		return time.Second
	}
	secs := math.Ceil(60 / float64(rl.rpm))
	return time.Duration(secs) * time.Second
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *RateLimiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > visitorIdleTimeout {
		rl.sweep(now)
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// sweep drops idle visitors. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTimeout {
			delete(rl.visitors, ip)
		}
	}
	rl.lastSweep = now
}

// RateLimitMiddleware returns middleware that enforces limiter per client IP.
// Paths in exempt are never limited. Returns 429 when the bucket is empty.
func RateLimitMiddleware(limiter *RateLimiter, exempt ...string) Middleware {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range exempt {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			clientIP := GetClientIP(r)
			if !limiter.Allow(clientIP) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.RetryAfter().Seconds())))
				slog.Warn("RATE_LIMIT_EXCEEDED", "ip", clientIP, "rpm", limiter.rpm, "burst", limiter.burst)
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Error:   "Too many requests",
					Details: "Rate limit exceeded. Please wait and try again.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Request ID
// ============================================================================

type requestIDKey struct{}

// RequestIDFromContext returns the request id set by RequestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware tags each request with a UUID, echoed in X-Request-Id.
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			w.Header().Set("X-Request-Id", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// ============================================================================
// Request Logging
// ============================================================================

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingMiddleware logs every request as HTTP_REQUEST. Health checks log at
// debug level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			if r.URL.Path == "/health" {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "HTTP_REQUEST",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"bytes", wrapped.bytes,
				"duration", time.Since(start).Round(time.Millisecond),
				"ip", GetClientIP(r),
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

// ============================================================================
// Security Headers
// ============================================================================

// defaultCSP allows the chat page's own assets plus data: images for previews.
const defaultCSP = "default-src 'self'; img-src 'self' data:"

// SecurityHeadersMiddleware returns middleware that adds security headers.
// Handlers may replace Content-Security-Policy before writing.
func SecurityHeadersMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", defaultCSP)
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if r.URL.Path != "/" && !strings.HasPrefix(r.URL.Path, "/static/") {
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Recovery
// ============================================================================

// RecoveryMiddleware turns a handler panic into a 500 and logs the stack.
func RecoveryMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					slog.Error("PANIC_RECOVERED",
						"method", r.Method,
						"path", r.URL.Path,
						"error", err,
						"stack", string(debug.Stack()),
					)
					writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Middleware Chain Helper
// ============================================================================

// Chain composes middlewares; the first one listed is the outermost.
//
//	handler := Chain(
//	    RecoveryMiddleware(),
//	    LoggingMiddleware(logger),
//	    BasicAuthMiddleware(auth),
//	)(mux)
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ============================================================================
// IP Extraction Helper
// ============================================================================

// trustedProxies may set X-Forwarded-For and X-Real-IP. Other peers cannot
// dodge the rate limiter by spoofing those headers.
var trustedProxies = []string{
	"127.0.0.1/32",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
}

var (
	parsedTrustedProxies []*net.IPNet
	trustedProxiesOnce   sync.Once
)

func isTrustedProxy(ipStr string) bool {
	trustedProxiesOnce.Do(func() {
		for _, cidr := range trustedProxies {
			if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
				parsedTrustedProxies = append(parsedTrustedProxies, ipNet)
			}
		}
	})

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range parsedTrustedProxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// getRemoteIP strips the port from r.RemoteAddr.
func getRemoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// GetClientIP returns the client address. Forwarded headers are honored only
// when the direct peer is a trusted proxy, and only if they hold a valid IP.
func GetClientIP(r *http.Request) string {
	connIP := getRemoteIP(r.RemoteAddr)
	if !isTrustedProxy(connIP) {
		return connIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if clientIP := strings.TrimSpace(first); net.ParseIP(clientIP) != nil {
			return clientIP
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}
	return connIP
}
