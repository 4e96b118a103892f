package api

import (
	"sync"

	"golang.org/x/time/rate"
)

const rateLimiterBurst = 10

// RateLimiter tracks one token bucket per client address.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
}

// NewRateLimiter creates a limiter granting requestsPerSec to each client.
func NewRateLimiter(requestsPerSec int) *RateLimiter {
	if requestsPerSec < 1 {
		requestsPerSec = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(requestsPerSec),
	}
}

// Allow reports whether the client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rateLimiterBurst)
		rl.limiters[client] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}
