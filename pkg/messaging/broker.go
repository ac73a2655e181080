package messaging

import (
	"context"
	"time"
)

// Broker defines the interface for message brokers carrying dispatch
// outcome events to downstream consumers (dashboards, alerting).
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Channels used by the automation core.
const (
	ChannelDispatches  = "automation.dispatches"
	ChannelTransitions = "automation.breaker_transitions"
)

// DispatchEvent is the structured observability record published for
// every dispatch attempt.
type DispatchEvent struct {
	EventID    string  `json:"event_id"`
	EventType  string  `json:"event_type"`
	Channel    string  `json:"channel"`
	Outcome    string  `json:"outcome"` // dispatched, skipped, deferred, failed
	LatencyMS  float64 `json:"latency_ms"`
	ErrorClass string  `json:"error_class,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// BreakerTransition is published whenever a circuit breaker changes state.
type BreakerTransition struct {
	Key   string    `json:"key"`
	State string    `json:"state"`
	At    time.Time `json:"at"`
}
