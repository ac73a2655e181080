package resilience

import (
	"context"
	"sync"
	"time"
)

// Limiter bounds call frequency per key. Allow is a non-blocking
// check-and-consume; Acquire blocks until a slot frees or ctx is done.
type Limiter interface {
	Allow(key string) error
	Acquire(ctx context.Context, key string) error
}

// TokenBucketConfig configures a token-bucket limiter.
type TokenBucketConfig struct {
	Capacity   float64
	RefillRate float64 // tokens per second
}

// TokenBucketLimiter implements a keyed token bucket. Each key refills
// lazily based on elapsed time; a denied call consumes nothing.
type TokenBucketLimiter struct {
	cfg TokenBucketConfig
	mu  sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func NewTokenBucketLimiter(cfg TokenBucketConfig) *TokenBucketLimiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = 1
	}
	return &TokenBucketLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// bucketFor returns the bucket for key, creating it full on first use.
// The outer mutex guards only map access so contention on one key does
// not serialize calls on other keys.
func (l *TokenBucketLimiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.cfg.Capacity, last: l.now()}
		l.buckets[key] = b
	}
	return b
}

func (l *TokenBucketLimiter) Allow(key string) error {
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = min(l.cfg.Capacity, b.tokens+elapsed*l.cfg.RefillRate)
		b.last = now
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return nil
	}

	return &RateLimitError{
		Key:        key,
		RetryAfter: time.Duration(float64(time.Second) / l.cfg.RefillRate),
	}
}

func (l *TokenBucketLimiter) Acquire(ctx context.Context, key string) error {
	return acquire(ctx, l, key)
}

// Remaining reports the tokens currently available for key without
// consuming any.
func (l *TokenBucketLimiter) Remaining(key string) float64 {
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := l.now().Sub(b.last).Seconds()
	return min(l.cfg.Capacity, b.tokens+elapsed*l.cfg.RefillRate)
}

// SlidingWindowConfig configures a sliding-window limiter.
type SlidingWindowConfig struct {
	MaxCalls int
	Window   time.Duration
}

// SlidingWindowLimiter tracks call timestamps within a trailing window.
// Stricter than the token bucket: no burst credit accumulates.
type SlidingWindowLimiter struct {
	cfg     SlidingWindowConfig
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	mu    sync.Mutex
	calls []time.Time
}

func NewSlidingWindowLimiter(cfg SlidingWindowConfig) *SlidingWindowLimiter {
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &SlidingWindowLimiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *SlidingWindowLimiter) windowFor(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

func (l *SlidingWindowLimiter) Allow(key string) error {
	w := l.windowFor(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.cfg.Window)
	evicted := 0
	for evicted < len(w.calls) && w.calls[evicted].Before(cutoff) {
		evicted++
	}
	if evicted > 0 {
		w.calls = append(w.calls[:0], w.calls[evicted:]...)
	}

	if len(w.calls) < l.cfg.MaxCalls {
		w.calls = append(w.calls, now)
		return nil
	}

	// RetryAfter is when the oldest timestamp exits the window.
	return &RateLimitError{
		Key:        key,
		RetryAfter: w.calls[0].Add(l.cfg.Window).Sub(now),
	}
}

func (l *SlidingWindowLimiter) Acquire(ctx context.Context, key string) error {
	return acquire(ctx, l, key)
}

// acquire polls Allow, sleeping for the suggested retry-after between
// attempts, until a slot frees or ctx is done.
func acquire(ctx context.Context, l Limiter, key string) error {
	for {
		err := l.Allow(key)
		if err == nil {
			return nil
		}
		rle, ok := err.(*RateLimitError)
		if !ok {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
