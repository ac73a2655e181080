package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerpulse/automation-hub/internal/model"
	"github.com/sellerpulse/automation-hub/internal/orchestrator"
	"github.com/sellerpulse/automation-hub/internal/repository"
	"github.com/sellerpulse/automation-hub/pkg/logger"
	"github.com/sellerpulse/automation-hub/pkg/resilience"
)

// memoryRepo mirrors the Postgres queue semantics: conditional
// transitions keyed on the expected status, ErrStaleStatus on a miss.
type memoryRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*model.AutomationEvent
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{events: make(map[uuid.UUID]*model.AutomationEvent)}
}

func (r *memoryRepo) Enqueue(ctx context.Context, event *model.AutomationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Status = model.EventStatusPending
	cp := *event
	r.events[event.ID] = &cp
	return nil
}

func (r *memoryRepo) ClaimDue(ctx context.Context, batchSize int, now time.Time) ([]*model.AutomationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*model.AutomationEvent
	for _, ev := range r.events {
		if ev.Status == model.EventStatusPending && !ev.ScheduledAt.After(now) {
			due = append(due, ev)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > batchSize {
		due = due[:batchSize]
	}

	claimed := make([]*model.AutomationEvent, 0, len(due))
	for _, ev := range due {
		ev.Status = model.EventStatusDispatching
		cp := *ev
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (r *memoryRepo) ClaimByID(ctx context.Context, id uuid.UUID) (*model.AutomationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if ev.Status != model.EventStatusPending {
		return nil, repository.ErrStaleStatus
	}
	ev.Status = model.EventStatusDispatching
	cp := *ev
	return &cp, nil
}

func (r *memoryRepo) transition(id uuid.UUID, expect model.EventStatus, apply func(*model.AutomationEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok || ev.Status != expect {
		return repository.ErrStaleStatus
	}
	apply(ev)
	return nil
}

func (r *memoryRepo) MarkCompleted(ctx context.Context, id uuid.UUID, executionID string) error {
	return r.transition(id, model.EventStatusDispatching, func(ev *model.AutomationEvent) {
		ev.Status = model.EventStatusCompleted
		ev.ExecutionID = &executionID
		ev.LastError = nil
	})
}

func (r *memoryRepo) MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	return r.transition(id, model.EventStatusDispatching, func(ev *model.AutomationEvent) {
		ev.Status = model.EventStatusCompleted
		ev.LastError = &reason
	})
}

func (r *memoryRepo) Reschedule(ctx context.Context, id uuid.UUID, nextAt time.Time, lastError string, consumeAttempt bool) error {
	return r.transition(id, model.EventStatusDispatching, func(ev *model.AutomationEvent) {
		ev.Status = model.EventStatusPending
		ev.ScheduledAt = nextAt
		if lastError != "" {
			ev.LastError = &lastError
		}
		if consumeAttempt {
			ev.Attempts++
		}
	})
}

func (r *memoryRepo) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.transition(id, model.EventStatusDispatching, func(ev *model.AutomationEvent) {
		ev.Status = model.EventStatusFailed
		ev.LastError = &lastError
		ev.Attempts++
	})
}

func (r *memoryRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, model.EventStatusPending, func(ev *model.AutomationEvent) {
		ev.Status = model.EventStatusCancelled
	})
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (*model.AutomationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (r *memoryRepo) List(ctx context.Context, filter repository.ListFilter) ([]*model.AutomationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AutomationEvent
	for _, ev := range r.events {
		if filter.Status != "" && ev.Status != filter.Status {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memoryRepo) CountByStatus(ctx context.Context) (map[model.EventStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[model.EventStatus]int)
	for _, ev := range r.events {
		counts[ev.Status]++
	}
	return counts, nil
}

// setStatus force-updates an event, bypassing transition checks, to
// simulate a concurrent actor.
func (r *memoryRepo) setStatus(id uuid.UUID, status model.EventStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[id].Status = status
}

func (r *memoryRepo) status(id uuid.UUID) model.EventStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id].Status
}

func (r *memoryRepo) snapshot(id uuid.UUID) model.AutomationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.events[id]
}

// scriptedDispatcher returns canned results, optionally invoking a hook
// before responding.
type scriptedDispatcher struct {
	mu      sync.Mutex
	results map[uuid.UUID]orchestrator.AutomationResult
	hook    func(ev *model.AutomationEvent)
	calls   int
}

func (d *scriptedDispatcher) Trigger(ctx context.Context, ev *model.AutomationEvent) orchestrator.AutomationResult {
	d.mu.Lock()
	d.calls++
	hook := d.hook
	res, ok := d.results[ev.ID]
	d.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	if !ok {
		res = orchestrator.AutomationResult{Status: orchestrator.StatusDispatched, ExecutionID: "exec-1"}
	}
	res.EventID = ev.ID
	return res
}

func enqueue(t *testing.T, repo *memoryRepo, priority model.Priority, at time.Time) uuid.UUID {
	t.Helper()
	ev := &model.AutomationEvent{
		ID:          uuid.New(),
		Type:        model.AutomationCartAbandoned,
		Channel:     model.ChannelWhatsApp,
		UserID:      "user-1",
		Priority:    priority,
		ScheduledAt: at,
		Payload:     []byte(`{"name":"Ana"}`),
	}
	require.NoError(t, repo.Enqueue(context.Background(), ev))
	return ev.ID
}

func newScheduler(repo repository.EventRepository, d Dispatcher, cfg Config) *Scheduler {
	return New(repo, d, cfg, logger.NewLogger(nil), nil)
}

func TestProcessDueEventsClaimsOnlyDue(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	dueID := enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))
	futureID := enqueue(t, repo, model.PriorityNormal, now.Add(time.Hour))

	s := newScheduler(repo, &scriptedDispatcher{}, Config{})
	s.now = func() time.Time { return now }

	n, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.EventStatusCompleted, repo.status(dueID))
	assert.Equal(t, model.EventStatusPending, repo.status(futureID))
}

func TestProcessDueEventsPriorityOrder(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	enqueue(t, repo, model.PriorityLow, now.Add(-3*time.Minute))
	critical := enqueue(t, repo, model.PriorityCritical, now.Add(-time.Minute))
	enqueue(t, repo, model.PriorityNormal, now.Add(-2*time.Minute))

	// Batch of one must pick the critical event even though it was
	// scheduled last.
	s := newScheduler(repo, &scriptedDispatcher{}, Config{})
	s.now = func() time.Time { return now }

	n, err := s.ProcessDueEvents(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.EventStatusCompleted, repo.status(critical))
}

func TestDispatchedMarksCompleted(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	id := enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))

	d := &scriptedDispatcher{results: map[uuid.UUID]orchestrator.AutomationResult{
		id: {Status: orchestrator.StatusDispatched, ExecutionID: "exec-42"},
	}}
	s := newScheduler(repo, d, Config{})
	s.now = func() time.Time { return now }

	_, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)

	ev := repo.snapshot(id)
	assert.Equal(t, model.EventStatusCompleted, ev.Status)
	require.NotNil(t, ev.ExecutionID)
	assert.Equal(t, "exec-42", *ev.ExecutionID)
}

func TestDeferredReschedulesWithoutAttempt(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	id := enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))

	later := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	d := &scriptedDispatcher{results: map[uuid.UUID]orchestrator.AutomationResult{
		id: {Status: orchestrator.StatusDeferred, DeferredUntil: later, Reason: "outside allowed send hours"},
	}}
	s := newScheduler(repo, d, Config{})
	s.now = func() time.Time { return now }

	_, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)

	ev := repo.snapshot(id)
	assert.Equal(t, model.EventStatusPending, ev.Status)
	assert.Equal(t, later, ev.ScheduledAt)
	assert.Zero(t, ev.Attempts)
}

func TestGuardRejectionDoesNotConsumeAttempts(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	id := enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))

	d := &scriptedDispatcher{results: map[uuid.UUID]orchestrator.AutomationResult{
		id: {
			Status: orchestrator.StatusFailed,
			Err:    &resilience.CircuitOpenError{Key: "workflow:cart-recovery", RetryAfter: 30 * time.Second},
		},
	}}
	s := newScheduler(repo, d, Config{})
	s.now = func() time.Time { return now }

	_, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)

	ev := repo.snapshot(id)
	assert.Equal(t, model.EventStatusPending, ev.Status)
	assert.Equal(t, now.Add(30*time.Second), ev.ScheduledAt)
	assert.Zero(t, ev.Attempts)
}

func TestRetryableFailureConsumesBudgetThenFails(t *testing.T) {
	repo := newMemoryRepo()
	clock := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	id := enqueue(t, repo, model.PriorityNormal, clock.Add(-time.Minute))

	d := &scriptedDispatcher{results: map[uuid.UUID]orchestrator.AutomationResult{
		id: {Status: orchestrator.StatusFailed, Err: errors.New("provider timeout")},
	}}
	s := newScheduler(repo, d, Config{MaxAttempts: 3, RetryDelay: time.Minute})
	s.now = func() time.Time { return clock }

	for pass := 0; pass < 3; pass++ {
		clock = clock.Add(10 * time.Minute)
		_, err := s.ProcessDueEvents(context.Background(), 10)
		require.NoError(t, err)
	}

	ev := repo.snapshot(id)
	assert.Equal(t, model.EventStatusFailed, ev.Status)
	assert.Equal(t, 3, ev.Attempts)
	require.NotNil(t, ev.LastError)
	assert.Contains(t, *ev.LastError, "provider timeout")
	assert.Equal(t, 3, d.calls)

	// A further pass finds nothing to do.
	clock = clock.Add(10 * time.Minute)
	n, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPermanentFailureFailsImmediately(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	id := enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))

	d := &scriptedDispatcher{results: map[uuid.UUID]orchestrator.AutomationResult{
		id: {Status: orchestrator.StatusFailed, Err: resilience.Permanent(errors.New("no such channel"))},
	}}
	s := newScheduler(repo, d, Config{MaxAttempts: 3})
	s.now = func() time.Time { return now }

	_, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusFailed, repo.status(id))
	assert.Equal(t, 1, d.calls)
}

func TestClaimIdempotenceUnderConcurrentPasses(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d := &scriptedDispatcher{hook: func(ev *model.AutomationEvent) {
		started <- struct{}{}
		<-release
	}}
	s := newScheduler(repo, d, Config{})
	s.now = func() time.Time { return now }

	done := make(chan int, 1)
	go func() {
		n, _ := s.ProcessDueEvents(context.Background(), 10)
		done <- n
	}()
	<-started

	// A second pass while the event is in flight claims nothing.
	n, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	close(release)
	assert.Equal(t, 1, <-done)
	assert.Equal(t, 1, d.calls)
}

func TestStaleResultDiscarded(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	id := enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))

	// Another actor rewrites the event while the dispatch is in flight;
	// the scheduler's completed result must lose and be discarded.
	d := &scriptedDispatcher{hook: func(ev *model.AutomationEvent) {
		repo.setStatus(id, model.EventStatusCancelled)
	}}
	s := newScheduler(repo, d, Config{})
	s.now = func() time.Time { return now }

	_, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusCancelled, repo.status(id))
}

func TestCancelOnlyPending(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	ctx := context.Background()

	id := enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))
	require.NoError(t, repo.Cancel(ctx, id))
	assert.ErrorIs(t, repo.Cancel(ctx, id), repository.ErrStaleStatus)

	// Cancelled events are never claimed.
	s := newScheduler(repo, &scriptedDispatcher{}, Config{})
	s.now = func() time.Time { return now }
	n, err := s.ProcessDueEvents(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func enqueueRecurring(t *testing.T, repo *memoryRepo, at time.Time, every time.Duration) uuid.UUID {
	t.Helper()
	ev := &model.AutomationEvent{
		ID:          uuid.New(),
		Type:        model.AutomationDailyReport,
		Channel:     model.ChannelEmail,
		UserID:      "seller-1",
		Priority:    model.PriorityLow,
		ScheduledAt: at,
		RecurEvery:  every,
		Payload:     []byte(`{"period":"daily"}`),
	}
	require.NoError(t, repo.Enqueue(context.Background(), ev))
	return ev.ID
}

func TestRecurringEventReenqueuedOnCompletion(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	at := now.Add(-time.Minute)
	id := enqueueRecurring(t, repo, at, 24*time.Hour)

	s := newScheduler(repo, &scriptedDispatcher{}, Config{})
	s.now = func() time.Time { return now }

	_, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusCompleted, repo.status(id))

	pending, err := repo.List(context.Background(), repository.ListFilter{Status: model.EventStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	next := pending[0]
	assert.NotEqual(t, id, next.ID)
	assert.Equal(t, model.AutomationDailyReport, next.Type)
	assert.Equal(t, "seller-1", next.UserID)
	assert.Equal(t, at.Add(24*time.Hour), next.ScheduledAt)
	assert.Equal(t, 24*time.Hour, next.RecurEvery)
	assert.Zero(t, next.Attempts)
}

func TestRecurringEventBacklogAnchorsToNow(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	// Two missed intervals; the next slot must land one interval from
	// now rather than in the past.
	enqueueRecurring(t, repo, now.Add(-48*time.Hour), 24*time.Hour)

	s := newScheduler(repo, &scriptedDispatcher{}, Config{})
	s.now = func() time.Time { return now }

	_, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)

	pending, err := repo.List(context.Background(), repository.ListFilter{Status: model.EventStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, now.Add(24*time.Hour), pending[0].ScheduledAt)
}

func TestRecurringEventNotReenqueuedOnTerminalFailure(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	id := enqueueRecurring(t, repo, now.Add(-time.Minute), 24*time.Hour)

	d := &scriptedDispatcher{results: map[uuid.UUID]orchestrator.AutomationResult{
		id: {Status: orchestrator.StatusFailed, Err: resilience.Permanent(errors.New("report workflow removed"))},
	}}
	s := newScheduler(repo, d, Config{MaxAttempts: 3})
	s.now = func() time.Time { return now }

	_, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusFailed, repo.status(id))

	pending, err := repo.List(context.Background(), repository.ListFilter{Status: model.EventStatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessEventIgnoresSchedule(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	id := enqueue(t, repo, model.PriorityNormal, now.Add(time.Hour))

	s := newScheduler(repo, &scriptedDispatcher{}, Config{})
	s.now = func() time.Time { return now }

	require.NoError(t, s.ProcessEvent(context.Background(), id))
	assert.Equal(t, model.EventStatusCompleted, repo.status(id))
}

func TestProcessEventRequiresPending(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	ctx := context.Background()

	s := newScheduler(repo, &scriptedDispatcher{}, Config{})
	s.now = func() time.Time { return now }

	assert.ErrorIs(t, s.ProcessEvent(ctx, uuid.New()), repository.ErrNotFound)

	id := enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))
	require.NoError(t, repo.Cancel(ctx, id))
	assert.ErrorIs(t, s.ProcessEvent(ctx, id), repository.ErrStaleStatus)
}

func TestStats(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	enqueue(t, repo, model.PriorityNormal, now.Add(-time.Minute))
	enqueue(t, repo, model.PriorityNormal, now.Add(time.Hour))

	s := newScheduler(repo, &scriptedDispatcher{}, Config{})
	s.now = func() time.Time { return now }

	_, err := s.ProcessDueEvents(context.Background(), 10)
	require.NoError(t, err)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Passes)
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, 1, stats.Counts[model.EventStatusCompleted])
	assert.Equal(t, 1, stats.Counts[model.EventStatusPending])
	assert.Equal(t, now, stats.LastPassAt)
}
