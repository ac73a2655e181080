package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	RecoveryTimeout  time.Duration // time spent open before admitting probes
	HalfOpenMaxCalls int           // probe calls admitted while half-open
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// BreakerStats is a point-in-time snapshot of one breaker.
type BreakerStats struct {
	Key             string    `json:"key"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	OpenedAt        time.Time `json:"opened_at,omitempty"`
	TotalCalls      uint64    `json:"total_calls"`
	TotalFailures   uint64    `json:"total_failures"`
	TotalSuccesses  uint64    `json:"total_successes"`
}

// CircuitBreaker guards one protected-call key. State transitions happen
// lazily on the next call attempt, never on a background timer.
type CircuitBreaker struct {
	key string
	cfg BreakerConfig

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	halfOpenCalls int
	openedAt      time.Time

	totalCalls     uint64
	totalFailures  uint64
	totalSuccesses uint64

	now          func() time.Time
	onTransition func(key string, state State)
}

func NewCircuitBreaker(key string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = cfg.SuccessThreshold
	}
	// A close threshold above the probe budget could never be reached
	// and the breaker would wedge half-open.
	if cfg.SuccessThreshold > cfg.HalfOpenMaxCalls {
		cfg.SuccessThreshold = cfg.HalfOpenMaxCalls
	}
	return &CircuitBreaker{
		key:   key,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

func (cb *CircuitBreaker) transition(state State) {
	cb.state = state
	if cb.onTransition != nil {
		cb.onTransition(cb.key, state)
	}
}

// admit decides whether a call may proceed, applying the lazy
// open -> half-open transition first.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.state == StateOpen {
		if now.Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenCalls = 0
			cb.successCount = 0
		} else {
			return &CircuitOpenError{
				Key:        cb.key,
				RetryAfter: cb.openedAt.Add(cb.cfg.RecoveryTimeout).Sub(now),
			}
		}
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return &CircuitOpenError{Key: cb.key, RetryAfter: cb.cfg.RecoveryTimeout}
		}
		cb.halfOpenCalls++
	}

	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.totalSuccesses++

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.totalFailures++
	cb.failureCount++

	switch cb.state {
	case StateHalfOpen:
		// Any probe failure reopens immediately and resets the cooldown.
		cb.transition(StateOpen)
		cb.openedAt = cb.now()
	case StateClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
			cb.openedAt = cb.now()
		}
	}
}

// Do runs fn under the breaker. In open state (cooldown not elapsed) it
// returns CircuitOpenError without invoking fn; otherwise failures count
// toward the threshold and the original error is returned unchanged.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// State returns the current state, applying the lazy open -> half-open
// check so observers see the same state a call would.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Key:            cb.key,
		State:          cb.state.String(),
		FailureCount:   cb.failureCount,
		SuccessCount:   cb.successCount,
		OpenedAt:       cb.openedAt,
		TotalCalls:     cb.totalCalls,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
	}
}

// Reset forces the breaker back to closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
	cb.openedAt = time.Time{}
}

// BreakerRegistry hands out one breaker per key, all sharing a config.
// Unrelated keys never contend on the same lock.
type BreakerRegistry struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	now   func() time.Time
	hooks []func(key string, state State)
}

func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
		now:      time.Now,
	}
}

// OnTransition registers a hook invoked on every state change, used to
// export breaker state to metrics and event streams. Hooks only apply to
// breakers created after registration, so register before first use.
func (r *BreakerRegistry) OnTransition(fn func(key string, state State)) {
	r.hooks = append(r.hooks, fn)
}

// fire runs with the owning breaker's lock held; hooks must not block.
func (r *BreakerRegistry) fire(key string, state State) {
	for _, fn := range r.hooks {
		fn(key, state)
	}
}

func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key, r.cfg)
		cb.now = r.now
		if len(r.hooks) > 0 {
			cb.onTransition = r.fire
		}
		r.breakers[key] = cb
	}
	return cb
}

// Stats snapshots every breaker in the registry, keyed by call key.
func (r *BreakerRegistry) Stats() map[string]BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerStats, len(r.breakers))
	for key, cb := range r.breakers {
		out[key] = cb.Stats()
	}
	return out
}
