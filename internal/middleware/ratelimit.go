// Package middleware provides shared HTTP middleware utilities.
package middleware

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter applies a fixed-window rate limit backed by Redis.
type RateLimiter struct {
	cache  *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with the given limit and window.
func NewRateLimiter(cache *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		cache:  cache,
		limit:  limit,
		window: window,
	}
}

// Limit enforces the rate limit, keyed by client IP and, when available, the token subject.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}

		key := fmt.Sprintf("ratelimit:%s", ip)
		if subject, ok := SubjectFromContext(r.Context()); ok {
			key = fmt.Sprintf("ratelimit:%s:%s", ip, subject)
		}

		count, err := rl.cache.Incr(r.Context(), key).Result()
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "internal", "Internal server error")
			return
		}

		if count == 1 {
			if err := rl.cache.Expire(r.Context(), key, rl.window).Err(); err != nil {
				jsonError(w, http.StatusInternalServerError, "internal", "Internal server error")
				return
			}
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
		if count > int64(rl.limit) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			jsonError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", rl.limit-int(count)))

		next.ServeHTTP(w, r)
	})
}
