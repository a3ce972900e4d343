// Package middleware: rate limiting for the admin login endpoint.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/iSundram/gruxi/pkg/utils"
)

// RateLimiter is a per-key token bucket.
type RateLimiter struct {
	requests map[string]*rateLimitEntry
	mu       sync.Mutex

	requestsPerMinute int
	burstSize         int
}

type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a token-bucket rate limiter and starts its cleanup loop.
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	rl := &RateLimiter{
		requests:          make(map[string]*rateLimitEntry),
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request under key may proceed, consuming a token if so.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.requests[key]
	if !exists {
		rl.requests[key] = &rateLimitEntry{tokens: float64(rl.burstSize - 1), lastUpdate: now}
		return true
	}

	elapsed := now.Sub(entry.lastUpdate).Seconds()
	tokensPerSecond := float64(rl.requestsPerMinute) / 60.0
	entry.tokens += elapsed * tokensPerSecond
	if entry.tokens > float64(rl.burstSize) {
		entry.tokens = float64(rl.burstSize)
	}
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for key, entry := range rl.requests {
			if entry.lastUpdate.Before(cutoff) {
				delete(rl.requests, key)
			}
		}
		rl.mu.Unlock()
	}
}

// LoginRateLimitMiddleware throttles POST /login attempts per client IP.
func LoginRateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/login" && !rl.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "60")
				utils.WriteError(w, http.StatusTooManyRequests, utils.ErrCodeRateLimited, "too many login attempts, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
	}
	return ip
}
