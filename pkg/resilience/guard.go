package resilience

import (
	"context"

	"github.com/sellerpulse/automation-hub/pkg/logger"
	"github.com/sellerpulse/automation-hub/pkg/metrics"
)

// GuardConfig composes the three resilience layers.
type GuardConfig struct {
	RateLimit TokenBucketConfig
	Breaker   BreakerConfig
	Retry     RetryConfig
}

// Guard is the single call path every external integration goes through:
// rate-limit check, then circuit-breaker gate, then retry loop. Each
// layer's failure short-circuits the remaining layers, so cheap local
// checks always run before expensive network calls.
type Guard struct {
	limiter  Limiter
	breakers *BreakerRegistry
	retry    RetryConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewGuard(cfg GuardConfig, log *logger.Logger, m *metrics.Metrics) *Guard {
	registry := NewBreakerRegistry(cfg.Breaker)
	if m != nil {
		registry.OnTransition(func(key string, state State) {
			m.BreakerState.WithLabelValues(key).Set(float64(stateGaugeValue(state)))
			m.BreakerTransitions.WithLabelValues(key, state.String()).Inc()
		})
	}

	return &Guard{
		limiter:  NewTokenBucketLimiter(cfg.RateLimit),
		breakers: registry,
		retry:    cfg.Retry,
		logger:   log,
		metrics:  m,
	}
}

func stateGaugeValue(s State) int {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Do runs fn guarded by rate limiter, circuit breaker and retry, keyed by
// key. A rate-limit denial never reaches the breaker; a breaker-open
// error never enters the retry loop.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := g.limiter.Allow(key); err != nil {
		if g.metrics != nil {
			g.metrics.RateLimitDenials.WithLabelValues(key).Inc()
		}
		if g.logger != nil {
			g.logger.Debug("rate limit denied", "key", key)
		}
		return err
	}

	cb := g.breakers.Get(key)

	return Retry(ctx, g.retry, func(ctx context.Context) error {
		return cb.Do(func() error {
			return fn(ctx)
		})
	})
}

// OnTransition registers an extra breaker state-change hook alongside the
// metrics export. Hooks run under the breaker's lock and must not block;
// register before the guard serves calls.
func (g *Guard) OnTransition(fn func(key string, state State)) {
	g.breakers.OnTransition(fn)
}

// Breaker exposes the breaker for key, mainly for health endpoints.
func (g *Guard) Breaker(key string) *CircuitBreaker {
	return g.breakers.Get(key)
}

// Stats snapshots breaker state for every key the guard has seen.
func (g *Guard) Stats() map[string]BreakerStats {
	return g.breakers.Stats()
}
