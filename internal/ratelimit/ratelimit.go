// Package ratelimit caps how many chat messages one connection may send in
// a sliding window.
package ratelimit

import (
	"sync"
	"time"
)

type RateLimiter struct {
	limits      map[string][]time.Time
	mu          sync.Mutex
	maxMessages int
	window      time.Duration
	now         func() time.Time
}

// NewRateLimiter returns a limiter allowing maxMessages per window per key.
// A non-positive maxMessages disables limiting.
func NewRateLimiter(maxMessages int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limits:      make(map[string][]time.Time),
		maxMessages: maxMessages,
		window:      window,
		now:         time.Now,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	if r.maxMessages <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	recent := r.limits[key][:0]
	for _, t := range r.limits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.maxMessages {
		r.limits[key] = recent
		return false
	}

	r.limits[key] = append(recent, now)
	return true
}

// Forget drops a key's history, called when its connection goes away.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limits, key)
}

func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limits)
}
