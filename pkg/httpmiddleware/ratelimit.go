package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures a sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window. Zero disables limiting.
	Max    int
	Window time.Duration
	// Key picks the bucket for a request; defaults to ClientIP.
	Key func(*http.Request) string
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// Limiter approximates a sliding window by weighting the previous fixed
// window with its remaining overlap.
type Limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*window
}

// NewLimiter creates a Limiter, filling config defaults.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*window)}
}

// Allow records a request for key and reports whether it fits the limit,
// with the requests left and when the current window ends.
func (l *Limiter) Allow(key string) (ok bool, remaining int, reset time.Time) {
	now := l.cfg.Now()
	size := l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[key]
	if b == nil {
		b = &window{start: now.Truncate(size)}
		l.buckets[key] = b
	}
	switch elapsed := now.Sub(b.start); {
	case elapsed >= 2*size:
		b.start, b.prev, b.curr = now.Truncate(size), 0, 0
	case elapsed >= size:
		b.start, b.prev, b.curr = b.start.Add(size), b.curr, 0
	}

	overlap := 1 - float64(now.Sub(b.start))/float64(size)
	used := b.prev*math.Max(overlap, 0) + b.curr
	reset = b.start.Add(size)
	if used >= float64(l.cfg.Max) {
		return false, 0, reset
	}
	b.curr++
	return true, max(int(float64(l.cfg.Max)-used-1), 0), reset
}

// Prune drops buckets idle for two windows.
func (l *Limiter) Prune() {
	now := l.cfg.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.start) >= 2*l.cfg.Window {
			delete(l.buckets, k)
		}
	}
}

// Run prunes idle buckets every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	t := time.NewTicker(2 * l.cfg.Window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			l.Prune()
		}
	}
}

// Middleware rejects requests over the limit with 429 and sets the
// X-RateLimit-* headers on every response.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		if l.cfg.Max <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, reset := l.Allow(l.cfg.Key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := reset.Sub(l.cfg.Now())
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(math.Max(wait.Seconds(), 0)))))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by the first X-Forwarded-For hop, X-Real-IP, or
// the remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
