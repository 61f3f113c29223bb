package guard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter implements a sliding window rate limiter keyed by caller.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	window  time.Duration
	now     Clock
}

// NewRateLimiter creates a rate limiter with the given limit per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// WithClock replaces the limiter's time source.
func (rl *RateLimiter) WithClock(now Clock) *RateLimiter {
	rl.now = now
	return rl
}

// Check records a hit for key and reports whether it is within the limit.
func (rl *RateLimiter) Check(_ context.Context, key string) Result {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.prune(key, now)

	if len(valid) >= rl.limit {
		rl.windows[key] = valid
		return Result{
			Allowed:    false,
			Reason:     fmt.Sprintf("rate limit exceeded: %d/%s", rl.limit, rl.window),
			Guard:      "rate_limiter",
			RetryAfter: valid[0].Add(rl.window).Sub(now),
		}
	}

	rl.windows[key] = append(valid, now)
	return allow()
}

// Sweep drops keys with no hits inside the window.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	var dropped int
	for key := range rl.windows {
		valid := rl.prune(key, now)
		if len(valid) == 0 {
			delete(rl.windows, key)
			dropped++
			continue
		}
		rl.windows[key] = valid
	}
	return dropped
}

// prune returns key's hits inside the window, oldest first.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	entries := rl.windows[key]
	valid := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
