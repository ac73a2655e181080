package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sellerpulse/automation-hub/internal/model"
	"github.com/sellerpulse/automation-hub/internal/repository"
)

const eventColumns = `id, event_type, channel, user_id, payload, priority, scheduled_at,
		recur_every, status, attempts, max_attempts, last_error, execution_id, created_at, updated_at`

type eventRepository struct {
	BaseRepository
}

func NewEventRepository(base BaseRepository) repository.EventRepository {
	return &eventRepository{base}
}

func (r *eventRepository) Enqueue(ctx context.Context, event *model.AutomationEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	query := `
		INSERT INTO automation_events (
			id, event_type, channel, user_id, payload, priority,
			scheduled_at, recur_every, status, attempts, max_attempts, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`
	now := time.Now()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ScheduledAt.IsZero() {
		event.ScheduledAt = now
	}
	event.Status = model.EventStatusPending
	event.CreatedAt = now
	event.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Channel,
		event.UserID,
		event.Payload,
		event.Priority,
		event.ScheduledAt,
		event.RecurEvery,
		event.Status,
		event.Attempts,
		event.MaxAttempts,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

// ClaimDue claims due pending events with a single conditional UPDATE.
// SKIP LOCKED lets concurrent scheduler replicas claim disjoint batches
// without blocking each other.
func (r *eventRepository) ClaimDue(ctx context.Context, batchSize int, now time.Time) ([]*model.AutomationEvent, error) {
	query := fmt.Sprintf(`
		UPDATE automation_events AS e
		SET status = 'dispatching', updated_at = $2
		FROM (
			SELECT id
			FROM automation_events
			WHERE status = 'pending' AND scheduled_at <= $2
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		) AS due
		WHERE e.id = due.id
		RETURNING %s
	`, prefixColumns("e", eventColumns))

	var events []*model.AutomationEvent
	if err := r.db.SelectContext(ctx, &events, query, batchSize, now); err != nil {
		return nil, fmt.Errorf("failed to claim due events: %w", err)
	}

	// RETURNING does not preserve the subquery order.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Priority != events[j].Priority {
			return events[i].Priority > events[j].Priority
		}
		return events[i].ScheduledAt.Before(events[j].ScheduledAt)
	})
	return events, nil
}

// ClaimByID claims a single pending event regardless of its schedule,
// for on-demand processing. ErrNotFound when the event does not exist,
// ErrStaleStatus when it is no longer pending.
func (r *eventRepository) ClaimByID(ctx context.Context, id uuid.UUID) (*model.AutomationEvent, error) {
	query := fmt.Sprintf(`
		UPDATE automation_events
		SET status = 'dispatching', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING %s
	`, eventColumns)

	var event model.AutomationEvent
	err := r.db.GetContext(ctx, &event, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, repository.ErrStaleStatus
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim event: %w", err)
	}
	return &event, nil
}

func (r *eventRepository) MarkCompleted(ctx context.Context, id uuid.UUID, executionID string) error {
	query := `
		UPDATE automation_events
		SET status = 'completed', execution_id = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'dispatching'
	`
	return r.conditionalExec(ctx, query, id, executionID)
}

func (r *eventRepository) MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE automation_events
		SET status = 'completed', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'dispatching'
	`
	return r.conditionalExec(ctx, query, id, reason)
}

func (r *eventRepository) Reschedule(ctx context.Context, id uuid.UUID, nextAt time.Time, lastError string, consumeAttempt bool) error {
	query := `
		UPDATE automation_events
		SET status = 'pending',
			scheduled_at = $2,
			last_error = NULLIF($3, ''),
			attempts = attempts + $4,
			updated_at = NOW()
		WHERE id = $1 AND status = 'dispatching'
	`
	bump := 0
	if consumeAttempt {
		bump = 1
	}
	return r.conditionalExec(ctx, query, id, nextAt, lastError, bump)
}

func (r *eventRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE automation_events
		SET status = 'failed', last_error = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'dispatching'
	`
	return r.conditionalExec(ctx, query, id, lastError)
}

func (r *eventRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE automation_events
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.conditionalExec(ctx, query, id)
}

func (r *eventRepository) Get(ctx context.Context, id uuid.UUID) (*model.AutomationEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM automation_events WHERE id = $1`, eventColumns)

	var event model.AutomationEvent
	err := r.db.GetContext(ctx, &event, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

func (r *eventRepository) List(ctx context.Context, filter repository.ListFilter) ([]*model.AutomationEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM automation_events WHERE 1=1`, eventColumns)
	args := []interface{}{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var events []*model.AutomationEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

func (r *eventRepository) CountByStatus(ctx context.Context) (map[model.EventStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM automation_events GROUP BY status`

	rows := []struct {
		Status model.EventStatus `db:"status"`
		Count  int               `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	counts := make(map[model.EventStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// conditionalExec runs a status-guarded UPDATE and maps "zero rows
// affected" to ErrStaleStatus.
func (r *eventRepository) conditionalExec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrStaleStatus
	}
	return nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
