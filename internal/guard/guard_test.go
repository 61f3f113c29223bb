package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

// --- RateLimiter Tests ---

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := rl.Check(ctx, "admin-1")
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(2, time.Minute).WithClock(clock.now)
	ctx := context.Background()

	rl.Check(ctx, "admin-1")
	clock.advance(10 * time.Second)
	rl.Check(ctx, "admin-1")
	result := rl.Check(ctx, "admin-1")

	assert.False(t, result.Allowed)
	assert.Equal(t, "rate_limiter", result.Guard)
	assert.Equal(t, 50*time.Second, result.RetryAfter)

	clock.advance(51 * time.Second)
	assert.True(t, rl.Check(ctx, "admin-1").Allowed, "oldest hit left the window")
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ctx := context.Background()

	assert.True(t, rl.Check(ctx, "admin-a").Allowed)
	assert.True(t, rl.Check(ctx, "admin-b").Allowed)
	assert.False(t, rl.Check(ctx, "admin-a").Allowed)
}

func TestRateLimiter_Sweep(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(5, time.Minute).WithClock(clock.now)
	ctx := context.Background()

	rl.Check(ctx, "a")
	rl.Check(ctx, "b")
	clock.advance(30 * time.Second)
	rl.Check(ctx, "b")
	clock.advance(45 * time.Second)

	assert.Equal(t, 1, rl.Sweep())
	assert.Len(t, rl.windows, 1)
}

// --- CircuitBreaker Tests ---

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second)
	assert.True(t, cb.Check(context.Background(), "casino.transaction.completed").Allowed)
	assert.Equal(t, CircuitClosed, cb.State("casino.transaction.completed"))
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clock := newClock()
	cb := NewCircuitBreaker(2, 5*time.Second).WithClock(clock.now)
	ctx := context.Background()
	const key = "topic"

	cb.RecordFailure(key)
	assert.True(t, cb.Check(ctx, key).Allowed, "one failure is below threshold")
	cb.RecordFailure(key)
	assert.Equal(t, CircuitOpen, cb.State(key))

	res := cb.Check(ctx, key)
	assert.False(t, res.Allowed)
	assert.Equal(t, "circuit_breaker", res.Guard)
	assert.Equal(t, 5*time.Second, res.RetryAfter)

	clock.advance(6 * time.Second)
	require.True(t, cb.Check(ctx, key).Allowed, "first probe after reset timeout")
	assert.Equal(t, CircuitHalfOpen, cb.State(key))
	assert.False(t, cb.Check(ctx, key).Allowed, "second probe waits")

	t.Run("failed probe reopens", func(t *testing.T) {
		cb.RecordFailure(key)
		assert.Equal(t, CircuitOpen, cb.State(key))
	})

	t.Run("successful probe closes", func(t *testing.T) {
		clock.advance(6 * time.Second)
		require.True(t, cb.Check(ctx, key).Allowed)
		cb.RecordSuccess(key)
		assert.Equal(t, CircuitClosed, cb.State(key))
		assert.True(t, cb.Check(ctx, key).Allowed)
	})
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
}
