package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sellerpulse/automation-hub/internal/model"
)

// ErrStaleStatus is returned when a conditional status update matched
// zero rows: the event moved to a different status concurrently (for
// example a cancel landed while the scheduler was dispatching) and the
// caller's in-flight result must be discarded.
var ErrStaleStatus = errors.New("event status changed concurrently")

// ErrNotFound is returned when no event exists for the given id.
var ErrNotFound = errors.New("event not found")

// ListFilter narrows List queries. Zero values mean "no filter".
type ListFilter struct {
	Status model.EventStatus
	Type   model.AutomationType
	UserID string
	Limit  int
	Offset int
}

// EventRepository is the durable automation-event queue. Every status
// transition is a conditional write keyed on the expected current
// status, so concurrent schedulers and API cancels can never corrupt an
// event's lifecycle.
type EventRepository interface {
	Enqueue(ctx context.Context, event *model.AutomationEvent) error

	// ClaimDue atomically moves up to batchSize due pending events to
	// dispatching and returns them, ordered priority DESC then
	// scheduled_at ASC. Rows locked by a concurrent claimer are skipped.
	ClaimDue(ctx context.Context, batchSize int, now time.Time) ([]*model.AutomationEvent, error)

	// ClaimByID atomically moves one pending event to dispatching,
	// ignoring its schedule. ErrNotFound when no such event exists,
	// ErrStaleStatus when it is not pending.
	ClaimByID(ctx context.Context, id uuid.UUID) (*model.AutomationEvent, error)

	// MarkCompleted finishes a dispatching event, recording the workflow
	// execution id.
	MarkCompleted(ctx context.Context, id uuid.UUID, executionID string) error

	// Reschedule returns a dispatching event to pending with a new due
	// time. consumeAttempt controls whether the attempts counter is
	// bumped; guard rejections reschedule without consuming the budget.
	Reschedule(ctx context.Context, id uuid.UUID, nextAt time.Time, lastError string, consumeAttempt bool) error

	// MarkSkipped completes a dispatching event that was intentionally
	// not dispatched (disabled, unknown type, suppressed), recording the
	// skip reason.
	MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error

	// MarkFailed terminally fails a dispatching event.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error

	// Cancel moves a pending event to cancelled. Events already claimed
	// or finished return ErrStaleStatus.
	Cancel(ctx context.Context, id uuid.UUID) error

	Get(ctx context.Context, id uuid.UUID) (*model.AutomationEvent, error)
	List(ctx context.Context, filter ListFilter) ([]*model.AutomationEvent, error)
	CountByStatus(ctx context.Context) (map[model.EventStatus]int, error)
}
