package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures the retry-with-backoff loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0..1 fraction of the delay randomized both ways

	// RetryGuardErrors controls whether rate-limit and circuit-open
	// errors consume the retry budget. Off by default: local guard
	// rejections are backpressure and should surface to the caller fast.
	RetryGuardErrors bool

	// Retryable classifies errors; nil means everything not marked
	// permanent is retried.
	Retryable func(error) bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Jitter:      0.5,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(2, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		// delay * (1 ± jitter)
		d *= 1 + c.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

func (c RetryConfig) retryable(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}

	if !c.RetryGuardErrors {
		var rle *RateLimitError
		var coe *CircuitOpenError
		if errors.As(err, &rle) || errors.As(err, &coe) {
			return false
		}
	}

	if c.Retryable != nil {
		return c.Retryable(err)
	}
	return true
}

// Retry runs op up to MaxAttempts times with exponential backoff between
// attempts. Non-retryable failures surface immediately; exhaustion wraps
// the last error with attempt-count context. Backoff sleeps respect ctx.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(cfg.delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.retryable(err) {
			var perm *PermanentError
			if errors.As(err, &perm) {
				return perm.Err
			}
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
