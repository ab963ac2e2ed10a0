package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure("timeout")
	cb.RecordFailure("timeout")
	assert.True(t, cb.Allow())

	cb.RecordFailure("timeout")
	assert.False(t, cb.Allow())
	assert.True(t, cb.IsOpen())

	failures, open, reason := cb.Stats()
	assert.Equal(t, 3, failures)
	assert.True(t, open)
	assert.Equal(t, "timeout", reason)
}

func TestBreakerSuccessResetsRun(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure("timeout")
	cb.RecordFailure("timeout")
	cb.RecordSuccess()
	cb.RecordFailure("timeout")
	cb.RecordFailure("timeout")

	assert.True(t, cb.Allow())
	assert.False(t, cb.IsOpen())
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	cb.RecordFailure("500")
	require.False(t, cb.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.False(t, cb.IsOpen())
}

func TestTokenBucketTryAcquire(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(2, 0.001) // effectively no refill during the test

	assert.True(t, tb.TryAcquire())
	assert.True(t, tb.TryAcquire())
	assert.False(t, tb.TryAcquire())
}

func TestTokenBucketWaitRefills(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 50) // one token every 20ms

	require.True(t, tb.TryAcquire())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTokenBucketWaitHonorsContext(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 0.001)
	require.True(t, tb.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, tb.Wait(ctx))
}
