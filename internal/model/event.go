package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventStatusPending     EventStatus = "pending"
	EventStatusDispatching EventStatus = "dispatching"
	EventStatusCompleted   EventStatus = "completed"
	EventStatusFailed      EventStatus = "failed"
	EventStatusCancelled   EventStatus = "cancelled"
)

// CanTransition reports whether a status change is legal. Terminal
// statuses (completed, failed, cancelled) have no outgoing transitions;
// cancelled is reachable only from pending.
func CanTransition(from, to EventStatus) bool {
	switch from {
	case EventStatusPending:
		return to == EventStatusDispatching || to == EventStatusCancelled
	case EventStatusDispatching:
		return to == EventStatusCompleted || to == EventStatusPending || to == EventStatusFailed
	default:
		return false
	}
}

func (s EventStatus) Terminal() bool {
	switch s {
	case EventStatusCompleted, EventStatusFailed, EventStatusCancelled:
		return true
	}
	return false
}

// Priority orders events within a scheduler pass. Stored numerically so
// the queue can sort with a plain ORDER BY.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelEmail     Channel = "email"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelInstagram, ChannelEmail:
		return true
	}
	return false
}

// AutomationEvent is one unit of work in the durable queue. Events are
// never deleted; they end in a terminal status and are retained for audit.
type AutomationEvent struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Type        AutomationType  `db:"event_type" json:"event_type"`
	Channel     Channel         `db:"channel" json:"channel"`
	UserID      string          `db:"user_id" json:"user_id"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Priority    Priority        `db:"priority" json:"priority"`
	ScheduledAt time.Time       `db:"scheduled_at" json:"scheduled_at"`
	RecurEvery  time.Duration   `db:"recur_every" json:"recur_every,omitempty"`
	Status      EventStatus     `db:"status" json:"status"`
	Attempts    int             `db:"attempts" json:"attempts"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	LastError   *string         `db:"last_error" json:"last_error,omitempty"`
	ExecutionID *string         `db:"execution_id" json:"execution_id,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// NextOccurrence returns a fresh pending copy of a recurring event,
// scheduled one interval after the previous slot. When the queue has
// fallen behind, the next slot is anchored to now instead so a backlog
// does not burst-fire the automation.
func (e *AutomationEvent) NextOccurrence(now time.Time) AutomationEvent {
	next := e.ScheduledAt.Add(e.RecurEvery)
	if !next.After(now) {
		next = now.Add(e.RecurEvery)
	}
	return AutomationEvent{
		ID:          uuid.New(),
		Type:        e.Type,
		Channel:     e.Channel,
		UserID:      e.UserID,
		Payload:     e.Payload,
		Priority:    e.Priority,
		ScheduledAt: next,
		RecurEvery:  e.RecurEvery,
		Status:      EventStatusPending,
		MaxAttempts: e.MaxAttempts,
	}
}

// PayloadMap decodes the opaque payload into a map for template
// rendering and workflow-engine payload building.
func (e *AutomationEvent) PayloadMap() map[string]interface{} {
	if len(e.Payload) == 0 {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}
