// Package middleware provides HTTP middleware for the evaluation server.
package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// staleAfter is how long a client may stay idle before its limiter is dropped.
const staleAfter = 5 * time.Minute

// RateLimiter limits requests per client IP with one token bucket each.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rate     rate.Limit
	burst    int
	now      func() time.Time

	stop chan struct{}
	once sync.Once
}

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	// CleanupInterval is how often idle clients are dropped. Zero disables
	// the cleanup goroutine.
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig allows one request per second with bursts of 5.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             5,
		CleanupInterval:   time.Minute,
	}
}

// NewRateLimiter creates a rate limiter. Call Close to stop its cleanup.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	rl := &RateLimiter{
		clients:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go rl.cleanupLoop(cfg.CleanupInterval)
	}
	return rl
}

func (rl *RateLimiter) limiter(clientIP string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lastSeen[clientIP] = rl.now()
	l, ok := rl.clients[clientIP]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.clients[clientIP] = l
	}
	return l
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

// sweep drops limiters of clients idle for longer than staleAfter.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-staleAfter)
	for ip, seen := range rl.lastSeen {
		if seen.Before(threshold) {
			delete(rl.clients, ip)
			delete(rl.lastSeen, ip)
		}
	}
}

// Allow reports whether a request from clientIP may proceed.
func (rl *RateLimiter) Allow(clientIP string) bool {
	return rl.limiter(clientIP).Allow()
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() error {
	rl.once.Do(func() { close(rl.stop) })
	return nil
}

// Middleware rejects requests over the limit with 429. Only requests whose
// method is in methods are limited; an empty list limits every request.
func (rl *RateLimiter) Middleware(next http.Handler, methods ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limited(r.Method, methods) && !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			apperrors.WriteError(w, apperrors.New(apperrors.CodeRateLimited, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limited(method string, methods []string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

// clientIP returns the first X-Forwarded-For address, then X-Real-IP, then
// the remote address without its port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
