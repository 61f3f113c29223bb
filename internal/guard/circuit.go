package guard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker tracks failures per downstream key (for example a Kafka
// topic) and stops calls to it after failThreshold consecutive failures.
type CircuitBreaker struct {
	mu            sync.Mutex
	circuits      map[string]*circuit
	failThreshold int
	resetTimeout  time.Duration
	halfOpenMax   int
	now           Clock
}

type circuit struct {
	state       CircuitState
	failures    int
	probes      int
	lastFailure time.Time
}

// NewCircuitBreaker creates a circuit breaker with configurable thresholds.
func NewCircuitBreaker(failThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		circuits:      make(map[string]*circuit),
		failThreshold: max(failThreshold, 1),
		resetTimeout:  resetTimeout,
		halfOpenMax:   1,
		now:           time.Now,
	}
}

// WithClock replaces the breaker's time source.
func (cb *CircuitBreaker) WithClock(now Clock) *CircuitBreaker {
	cb.now = now
	return cb
}

// Check returns whether the circuit for key lets a call through. In the
// half-open state only halfOpenMax probes are admitted until one reports.
func (cb *CircuitBreaker) Check(_ context.Context, key string) Result {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	switch c.state {
	case CircuitOpen:
		elapsed := cb.now().Sub(c.lastFailure)
		if elapsed < cb.resetTimeout {
			return Result{
				Allowed:    false,
				Reason:     fmt.Sprintf("circuit open for %s", key),
				Guard:      "circuit_breaker",
				RetryAfter: cb.resetTimeout - elapsed,
			}
		}
		c.state = CircuitHalfOpen
		c.probes = 0
		fallthrough
	case CircuitHalfOpen:
		if c.probes >= cb.halfOpenMax {
			return Result{Allowed: false, Reason: "circuit half-open, probe in flight", Guard: "circuit_breaker"}
		}
		c.probes++
		return allow()
	default:
		return allow()
	}
}

// RecordSuccess closes the circuit for key.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	c.state = CircuitClosed
	c.failures = 0
	c.probes = 0
}

// RecordFailure counts a failed call; a failed probe reopens the circuit.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	c.failures++
	c.lastFailure = cb.now()
	if c.state == CircuitHalfOpen || c.failures >= cb.failThreshold {
		c.state = CircuitOpen
	}
}

// State returns the current state for key.
func (cb *CircuitBreaker) State(key string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.get(key).state
}

func (cb *CircuitBreaker) get(key string) *circuit {
	c, ok := cb.circuits[key]
	if !ok {
		c = &circuit{state: CircuitClosed}
		cb.circuits[key] = c
	}
	return c
}
