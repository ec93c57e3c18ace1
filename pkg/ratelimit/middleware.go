package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"
)

// KeyFunc picks the bucket a request is charged to. An empty key skips the
// check.
type KeyFunc func(r *http.Request) string

// ByCookie charges requests to the value of the named cookie and falls back
// to the client IP when the cookie is missing.
func ByCookie(name string) KeyFunc {
	return func(r *http.Request) string {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return "cookie:" + c.Value
		}
		return ClientIP(r)
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return "ip:" + strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

type Middleware struct {
	limiter    *Limiter
	key        KeyFunc
	retryAfter time.Duration
}

func NewMiddleware(limiter *Limiter, key KeyFunc) *Middleware {
	retryAfter := time.Minute
	if limiter.refillRate > 0 {
		retryAfter = time.Duration(float64(time.Second) / limiter.refillRate)
	}
	return &Middleware{limiter: limiter, key: key, retryAfter: retryAfter}
}

func (m *Middleware) Limiter() *Limiter {
	return m.limiter
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.key(r)
		if key != "" && !m.limiter.Allow(key) {
			slog.Warn("Rate limit exceeded", "path", r.URL.Path, "method", r.Method, "ip", ClientIP(r))
			w.Header().Set("Retry-After", strconv.Itoa(int(m.retryAfter.Seconds()+0.5)))
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, map[string]string{
				"code":    "RATE_LIMITED",
				"message": "Too many attempts. Please wait and try again.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
