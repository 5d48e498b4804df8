package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gives each client a token bucket holding limit requests that
// refills over window.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter // IP -> bucket
	limit   rate.Limit
	burst   int
	window  time.Duration
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter. limit <= 0 disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		burst:   limit,
		window:  window,
		now:     time.Now,
	}
	if limit > 0 {
		rl.limit = rate.Limit(float64(limit) / window.Seconds())
	}
	return rl
}

// Allow records a request from ip and reports whether it is within the limit.
func (r *RateLimiter) Allow(ip string) bool {
	if r.burst <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	c, ok := r.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Prune drops clients idle for a full window; their buckets are full again.
func (r *RateLimiter) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	for ip, c := range r.clients {
		if !c.lastSeen.After(cutoff) {
			delete(r.clients, ip)
		}
	}
}

// Len returns the number of tracked clients.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
