package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(rate TokenBucketConfig, breaker BreakerConfig) *Guard {
	return NewGuard(GuardConfig{
		RateLimit: rate,
		Breaker:   breaker,
		Retry:     fastRetryConfig(3),
	}, nil, nil)
}

func TestGuard_SuccessPath(t *testing.T) {
	g := newTestGuard(
		TokenBucketConfig{Capacity: 10, RefillRate: 10},
		BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute},
	)

	calls := 0
	err := g.Do(context.Background(), "wa:user1", func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuard_RateLimitDenialNeverReachesBreaker(t *testing.T) {
	g := newTestGuard(
		TokenBucketConfig{Capacity: 1, RefillRate: 0.001},
		BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute},
	)

	require.NoError(t, g.Do(context.Background(), "k", func(ctx context.Context) error { return nil }))

	calls := 0
	err := g.Do(context.Background(), "k", func(ctx context.Context) error {
		calls++
		return nil
	})

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Zero(t, calls)
	// The denied call never touched the breaker, so it stays closed.
	assert.Equal(t, StateClosed, g.Breaker("k").State())
	assert.Zero(t, g.Breaker("k").Stats().TotalCalls)
}

func TestGuard_BreakerOpenSkipsRetryLoop(t *testing.T) {
	g := newTestGuard(
		TokenBucketConfig{Capacity: 100, RefillRate: 100},
		BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute},
	)

	// Trip the breaker. The retry loop runs the failing call up to its
	// attempt budget first.
	err := g.Do(context.Background(), "k", func(ctx context.Context) error { return errBoom })
	require.Error(t, err)

	calls := 0
	err = g.Do(context.Background(), "k", func(ctx context.Context) error {
		calls++
		return nil
	})

	var coe *CircuitOpenError
	require.True(t, errors.As(err, &coe))
	assert.Zero(t, calls, "open breaker must fail fast without entering retry")
}

func TestGuard_RetriesTransientFailures(t *testing.T) {
	g := newTestGuard(
		TokenBucketConfig{Capacity: 100, RefillRate: 100},
		BreakerConfig{FailureThreshold: 10, RecoveryTimeout: time.Minute},
	)

	calls := 0
	err := g.Do(context.Background(), "k", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errBoom
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGuard_KeysDoNotInterfere(t *testing.T) {
	g := newTestGuard(
		TokenBucketConfig{Capacity: 100, RefillRate: 100},
		BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute},
	)

	require.Error(t, g.Do(context.Background(), "down", func(ctx context.Context) error { return errBoom }))

	err := g.Do(context.Background(), "up", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)

	stats := g.Stats()
	assert.Equal(t, "open", stats["down"].State)
	assert.Equal(t, "closed", stats["up"].State)
}
