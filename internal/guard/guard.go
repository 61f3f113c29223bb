// Package guard holds in-process admission checks: a sliding-window rate
// limiter for operator routes and a circuit breaker for the event publisher.
package guard

import "time"

// Result is the outcome of a guard check.
type Result struct {
	Allowed bool
	Reason  string
	Guard   string
	// RetryAfter is how long the caller should wait before trying again.
	RetryAfter time.Duration
}

func allow() Result { return Result{Allowed: true} }

// Clock returns the current time.
type Clock func() time.Time
