package guard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := rl.Check(ctx, "test-key")
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	ctx := context.Background()

	rl.Check(ctx, "test-key")
	rl.Check(ctx, "test-key")
	result := rl.Check(ctx, "test-key")

	assert.False(t, result.Allowed)
	assert.Equal(t, "rate_limiter", result.Guard)
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ctx := context.Background()

	r1 := rl.Check(ctx, "key-a")
	r2 := rl.Check(ctx, "key-b")

	assert.True(t, r1.Allowed)
	assert.True(t, r2.Allowed)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	require.True(t, rl.Check(ctx, "u").Allowed)
	require.False(t, rl.Check(ctx, "u").Allowed)

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Check(ctx, "u").Allowed)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, rl.Sweep())
}

func TestRateLimiter_SweepBoundsTrackedKeys(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10000; i++ {
		rl.Check(ctx, fmt.Sprintf("user-%d", i))
	}
	now = now.Add(30 * time.Second)
	rl.Check(ctx, "active")

	now = now.Add(45 * time.Second)
	assert.Equal(t, 10000, rl.Sweep())
	assert.Len(t, rl.windows, 1)
	assert.Contains(t, rl.windows, "active")
}

func TestRateLimiter_DisabledWhenLimitZero(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Check(context.Background(), "u").Allowed)
	}
}

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second)
	ctx := context.Background()

	result := cb.Check(ctx, "progression-events")
	assert.True(t, result.Allowed)
	assert.Equal(t, CircuitClosed, cb.State("progression-events"))
}

func TestCircuitBreaker_OpensOnThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)
	ctx := context.Background()

	cb.Check(ctx, "progression-events")
	cb.RecordFailure("progression-events")
	cb.RecordFailure("progression-events")

	result := cb.Check(ctx, "progression-events")
	assert.False(t, result.Allowed)
	assert.Equal(t, "circuit_breaker", result.Guard)
	assert.Equal(t, "open", cb.State("progression-events").String())
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)
	ctx := context.Background()

	cb.Check(ctx, "progression-events")
	cb.RecordFailure("progression-events")
	cb.RecordSuccess("progression-events")
	cb.RecordFailure("progression-events")

	result := cb.Check(ctx, "progression-events")
	assert.True(t, result.Allowed)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 5*time.Second)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	cb.RecordFailure("t")
	require.False(t, cb.Check(ctx, "t").Allowed)

	now = now.Add(6 * time.Second)
	require.True(t, cb.Check(ctx, "t").Allowed, "first probe allowed")
	assert.False(t, cb.Check(ctx, "t").Allowed, "second probe blocked")

	cb.RecordFailure("t")
	assert.Equal(t, CircuitOpen, cb.State("t"))

	now = now.Add(6 * time.Second)
	require.True(t, cb.Check(ctx, "t").Allowed)
	cb.RecordSuccess("t")
	assert.Equal(t, CircuitClosed, cb.State("t"))
}

func TestUserLocks_SerializesSameUser(t *testing.T) {
	locks := NewUserLocks()
	user := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(user)
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, locks.Len())
}

func TestUserLocks_IndependentUsers(t *testing.T) {
	locks := NewUserLocks()
	unlockA := locks.Lock(uuid.New())
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(uuid.New())
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for a different user blocked")
	}
	assert.Equal(t, 1, locks.Len())
}
