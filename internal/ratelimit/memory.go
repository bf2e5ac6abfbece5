package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is an in-process sliding log limiter keyed by client address.
type RateLimiter struct {
	mu          sync.RWMutex
	requests    map[string][]time.Time
	limit       int
	window      time.Duration
	lastCleanup time.Time
}

// NewRateLimiter allows limit requests per key in any window-long interval. A limit of
// zero or less denies everything.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 0 {
		limit = 0
	}
	return &RateLimiter{
		requests:    make(map[string][]time.Time),
		limit:       limit,
		window:      window,
		lastCleanup: time.Now(),
	}
}

// Allow never fails; the error return satisfies Limiter.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.allow(key, time.Now()), nil
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)

	if now.Sub(rl.lastCleanup) > rl.window {
		for k, times := range rl.requests {
			if len(times) == 0 || !times[len(times)-1].After(cutoff) {
				delete(rl.requests, k)
			}
		}
		rl.lastCleanup = now
	}

	recent := rl.requests[key][:0:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.limit {
		if len(recent) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = recent
		}
		return false
	}

	rl.requests[key] = append(recent, now)
	return true
}

// Limits returns the configured request count and window.
func (rl *RateLimiter) Limits() (int, time.Duration) {
	return rl.limit, rl.window
}
