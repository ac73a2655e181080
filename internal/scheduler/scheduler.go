// Package scheduler drives the durable automation-event queue: it
// periodically claims due events and pushes them through the
// orchestrator, applying the retry budget on failures.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sellerpulse/automation-hub/internal/model"
	"github.com/sellerpulse/automation-hub/internal/orchestrator"
	"github.com/sellerpulse/automation-hub/internal/repository"
	"github.com/sellerpulse/automation-hub/pkg/logger"
	"github.com/sellerpulse/automation-hub/pkg/metrics"
	"github.com/sellerpulse/automation-hub/pkg/resilience"
	"github.com/sellerpulse/automation-hub/pkg/workflow"
)

type Config struct {
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		PollInterval: 30 * time.Second,
		MaxAttempts:  3,
		RetryDelay:   60 * time.Second,
	}
}

// Dispatcher is the orchestrator surface the scheduler drives.
type Dispatcher interface {
	Trigger(ctx context.Context, event *model.AutomationEvent) orchestrator.AutomationResult
}

// Stats is a point-in-time snapshot for the stats endpoint.
type Stats struct {
	Counts        map[model.EventStatus]int `json:"counts"`
	Passes        int64                     `json:"passes"`
	Dispatched    int64                     `json:"dispatched"`
	Failed        int64                     `json:"failed"`
	AvgDispatchMS float64                   `json:"avg_dispatch_ms"`
	LastPassAt    time.Time                 `json:"last_pass_at"`
	LastBatchSize int                       `json:"last_batch_size"`
}

type Scheduler struct {
	repo       repository.EventRepository
	dispatcher Dispatcher
	cfg        Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu            sync.Mutex
	passes        int64
	dispatched    int64
	failed        int64
	latencySum    time.Duration
	latencyCount  int64
	lastPassAt    time.Time
	lastBatchSize int
}

func New(repo repository.EventRepository, dispatcher Dispatcher, cfg Config, log *logger.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Scheduler{
		repo:       repo,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     log,
		metrics:    m,
		now:        time.Now,
	}
}

// Start runs the polling loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		"batch_size", s.cfg.BatchSize,
		"poll_interval", s.cfg.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return
		case <-ticker.C:
			if _, err := s.ProcessDueEvents(ctx, s.cfg.BatchSize); err != nil {
				s.logger.Error(err, "scheduler pass failed")
			}
		}
	}
}

// ProcessDueEvents claims one batch of due events and dispatches them
// concurrently. It returns the number of events processed.
func (s *Scheduler) ProcessDueEvents(ctx context.Context, batchSize int) (int, error) {
	events, err := s.repo.ClaimDue(ctx, batchSize, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to claim due events: %w", err)
	}

	var wg sync.WaitGroup
	for _, event := range events {
		wg.Add(1)
		go func(ev *model.AutomationEvent) {
			defer wg.Done()
			s.dispatch(ctx, ev)
		}(event)
	}
	wg.Wait()

	s.recordPass(len(events))
	s.updateQueueDepth(ctx)
	return len(events), nil
}

func (s *Scheduler) dispatch(ctx context.Context, event *model.AutomationEvent) {
	result := s.dispatcher.Trigger(ctx, event)
	s.recordLatency(result.Duration)

	var err error
	switch result.Status {
	case orchestrator.StatusDispatched:
		err = s.repo.MarkCompleted(ctx, event.ID, result.ExecutionID)
		s.bumpDispatched()

	case orchestrator.StatusSkipped:
		err = s.repo.MarkSkipped(ctx, event.ID, result.Reason)

	case orchestrator.StatusDeferred:
		err = s.repo.Reschedule(ctx, event.ID, result.DeferredUntil, result.Reason, false)

	case orchestrator.StatusFailed:
		err = s.handleFailure(ctx, event, result)
	}

	if errors.Is(err, repository.ErrStaleStatus) {
		// Lost a race with a concurrent transition, e.g. a cancel.
		s.logger.Info("discarding dispatch result for concurrently updated event",
			"event_id", event.ID.String(),
			"outcome", string(result.Status))
		return
	}
	if err != nil {
		s.logger.Error(err, "failed to finalize event",
			"event_id", event.ID.String(),
			"outcome", string(result.Status))
		return
	}

	if event.RecurEvery > 0 &&
		(result.Status == orchestrator.StatusDispatched || result.Status == orchestrator.StatusSkipped) {
		s.enqueueNext(ctx, event)
	}
}

// ProcessEvent claims one pending event by id and dispatches it
// immediately, ignoring its schedule. The caller sees ErrNotFound or
// ErrStaleStatus when the event cannot be claimed.
func (s *Scheduler) ProcessEvent(ctx context.Context, id uuid.UUID) error {
	event, err := s.repo.ClaimByID(ctx, id)
	if err != nil {
		return err
	}
	s.dispatch(ctx, event)
	return nil
}

// enqueueNext schedules the following occurrence of a recurring event
// as a fresh pending row, so each occurrence keeps its own attempt
// budget and audit trail.
func (s *Scheduler) enqueueNext(ctx context.Context, event *model.AutomationEvent) {
	next := event.NextOccurrence(s.now())
	if err := s.repo.Enqueue(ctx, &next); err != nil {
		s.logger.Error(err, "failed to enqueue next occurrence",
			"event_id", event.ID.String(),
			"event_type", string(event.Type))
		return
	}
	s.logger.Info("recurring event re-enqueued",
		"event_id", event.ID.String(),
		"next_id", next.ID.String(),
		"scheduled_at", next.ScheduledAt.Format(time.RFC3339))
}

// handleFailure applies the retry budget. Guard rejections are
// backpressure, not downstream failures: they reschedule without
// consuming an attempt. Permanent errors fail immediately; everything
// else retries with linear backoff until the budget runs out.
func (s *Scheduler) handleFailure(ctx context.Context, event *model.AutomationEvent, result orchestrator.AutomationResult) error {
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	if retryAfter, rejected := guardRejection(result.Err); rejected {
		delay := retryAfter
		if delay <= 0 {
			delay = s.cfg.RetryDelay
		}
		return s.repo.Reschedule(ctx, event.ID, s.now().Add(delay), errMsg, false)
	}

	maxAttempts := event.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	if terminalFailure(result.Err) || event.Attempts+1 >= maxAttempts {
		s.bumpFailed()
		return s.repo.MarkFailed(ctx, event.ID, errMsg)
	}

	if s.metrics != nil {
		s.metrics.DispatchRetries.WithLabelValues(string(event.Type)).Inc()
	}
	delay := s.cfg.RetryDelay * time.Duration(event.Attempts+1)
	return s.repo.Reschedule(ctx, event.ID, s.now().Add(delay), errMsg, true)
}

// guardRejection reports whether err is a rate-limit or circuit-open
// rejection and returns its suggested retry delay.
func guardRejection(err error) (time.Duration, bool) {
	var rl *resilience.RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	var co *resilience.CircuitOpenError
	if errors.As(err, &co) {
		return co.RetryAfter, true
	}
	return 0, false
}

// terminalFailure reports whether err can never succeed on retry.
func terminalFailure(err error) bool {
	var pe *resilience.PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var re *workflow.RequestError
	if errors.As(err, &re) {
		return !workflow.IsRetryable(re)
	}
	return false
}

func (s *Scheduler) recordPass(batch int) {
	s.mu.Lock()
	s.passes++
	s.lastPassAt = s.now()
	s.lastBatchSize = batch
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SchedulerPasses.Inc()
	}
}

func (s *Scheduler) recordLatency(d time.Duration) {
	s.mu.Lock()
	s.latencySum += d
	s.latencyCount++
	s.mu.Unlock()
}

func (s *Scheduler) bumpDispatched() {
	s.mu.Lock()
	s.dispatched++
	s.mu.Unlock()
}

func (s *Scheduler) bumpFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *Scheduler) updateQueueDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logger.Warn("failed to read queue depth", "error", err.Error())
		return
	}
	for status, count := range counts {
		s.metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(count))
	}
}

// Stats snapshots scheduler counters alongside live queue depths.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	avg := 0.0
	if s.latencyCount > 0 {
		avg = float64(s.latencySum.Milliseconds()) / float64(s.latencyCount)
	}
	return Stats{
		Counts:        counts,
		Passes:        s.passes,
		Dispatched:    s.dispatched,
		Failed:        s.failed,
		AvgDispatchMS: avg,
		LastPassAt:    s.lastPassAt,
		LastBatchSize: s.lastBatchSize,
	}, nil
}
