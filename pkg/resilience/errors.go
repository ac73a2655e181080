package resilience

import (
	"fmt"
	"time"
)

// RateLimitError is returned when a call is denied by the rate limiter.
// It never indicates a downstream fault; callers should back off for
// RetryAfter before trying again.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for key %q, retry after %s", e.Key, e.RetryAfter)
}

// CircuitOpenError is returned when the circuit breaker for a key is open
// and the cooldown has not elapsed. The protected dependency is presumed
// unhealthy; calls fail fast without reaching it.
type CircuitOpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Key, e.RetryAfter)
}

// PermanentError marks an error as non-retryable. Retry unwraps it and
// surfaces the inner error immediately without consuming further attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the retry loop stops on it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
