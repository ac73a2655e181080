// Package orchestrator turns queued automation events into workflow
// executions and outbound messages, applying per-user suppression,
// quiet hours and the resilience guard along the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/sellerpulse/automation-hub/internal/model"
	"github.com/sellerpulse/automation-hub/pkg/channel"
	"github.com/sellerpulse/automation-hub/pkg/logger"
	"github.com/sellerpulse/automation-hub/pkg/messaging"
	"github.com/sellerpulse/automation-hub/pkg/metrics"
	"github.com/sellerpulse/automation-hub/pkg/resilience"
	"github.com/sellerpulse/automation-hub/pkg/workflow"
)

type Status string

const (
	StatusDispatched Status = "dispatched"
	StatusSkipped    Status = "skipped"
	StatusDeferred   Status = "deferred"
	StatusFailed     Status = "failed"
)

// AutomationResult is the outcome of one Trigger call. Trigger never
// returns an error; failures are carried in Err so the scheduler can
// classify them.
type AutomationResult struct {
	EventID       uuid.UUID
	Status        Status
	Channel       model.Channel
	Reason        string
	ExecutionID   string
	DeliveryID    string
	DeferredUntil time.Time
	Err           error
	Duration      time.Duration
}

// WorkflowTrigger is the slice of the workflow-engine client the
// orchestrator needs.
type WorkflowTrigger interface {
	TriggerWorkflow(ctx context.Context, workflowID string, payload map[string]interface{}) (string, error)
}

type Orchestrator struct {
	configs  *model.ConfigTable
	engine   WorkflowTrigger
	channels *channel.Registry
	guard    *resilience.Guard
	broker   messaging.Broker
	metrics  *metrics.Metrics
	logger   *logger.Logger

	// suppressions tracks last-trigger times and daily counters per
	// (type, user) so bursty upstream signals don't spam users.
	suppressions *gocache.Cache

	now func() time.Time
}

func New(
	configs *model.ConfigTable,
	engine WorkflowTrigger,
	channels *channel.Registry,
	guard *resilience.Guard,
	broker messaging.Broker,
	m *metrics.Metrics,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		configs:      configs,
		engine:       engine,
		channels:     channels,
		guard:        guard,
		broker:       broker,
		metrics:      m,
		logger:       log,
		suppressions: gocache.New(24*time.Hour, 10*time.Minute),
		now:          time.Now,
	}
}

// WithClock overrides the time source. Quiet hours and suppression
// windows follow the injected clock.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Trigger dispatches one automation event. It resolves the event's
// config, applies quiet hours and per-user suppression, then runs
// workflow trigger plus channel send under the resilience guard. The
// result always comes back; the method never panics or propagates.
func (o *Orchestrator) Trigger(ctx context.Context, event *model.AutomationEvent) AutomationResult {
	start := o.now()
	result := AutomationResult{EventID: event.ID, Channel: event.Channel}

	defer func() {
		if p := recover(); p != nil {
			result.Status = StatusFailed
			result.Err = fmt.Errorf("dispatch panicked: %v", p)
			result.Duration = o.now().Sub(start)
			o.observe(ctx, event, &result)
		}
	}()

	cfg, ok := o.configs.Lookup(event.Type)
	if !ok {
		result.Status = StatusSkipped
		result.Reason = fmt.Sprintf("unknown automation type %q", event.Type)
		result.Duration = o.now().Sub(start)
		o.observe(ctx, event, &result)
		return result
	}
	if !cfg.Enabled {
		result.Status = StatusSkipped
		result.Reason = fmt.Sprintf("automation %s disabled", event.Type)
		result.Duration = o.now().Sub(start)
		o.observe(ctx, event, &result)
		return result
	}

	ch := event.Channel
	if !ch.Valid() {
		ch = cfg.DefaultChannel
	}
	result.Channel = ch

	if cfg.QuietHoursApply(o.now()) {
		result.Status = StatusDeferred
		result.Reason = "outside allowed send hours"
		result.DeferredUntil = nextAllowedTime(o.now(), cfg)
		result.Duration = o.now().Sub(start)
		o.observe(ctx, event, &result)
		return result
	}

	if reason, suppressed := o.suppressed(cfg, event.UserID); suppressed {
		result.Status = StatusSkipped
		result.Reason = reason
		result.Duration = o.now().Sub(start)
		o.observe(ctx, event, &result)
		return result
	}

	adapter, err := o.channels.Get(string(ch))
	if err != nil {
		result.Status = StatusFailed
		result.Err = resilience.Permanent(err)
		result.Duration = o.now().Sub(start)
		o.observe(ctx, event, &result)
		return result
	}

	payload := o.buildPayload(event, ch)
	msg := o.buildMessage(event, cfg, ch)

	guardKey := "workflow:" + cfg.WorkflowID
	err = o.guard.Do(ctx, guardKey, func(ctx context.Context) error {
		execID, err := o.engine.TriggerWorkflow(ctx, cfg.WorkflowID, payload)
		if o.metrics != nil {
			o.metrics.WorkflowCalls.WithLabelValues(cfg.WorkflowID, callStatus(err)).Inc()
		}
		if err != nil {
			return err
		}
		result.ExecutionID = execID

		deliveryID, err := adapter.Send(ctx, msg)
		if o.metrics != nil {
			o.metrics.ChannelSends.WithLabelValues(string(ch), callStatus(err)).Inc()
		}
		if err != nil {
			return err
		}
		result.DeliveryID = deliveryID
		return nil
	})

	result.Duration = o.now().Sub(start)
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		o.observe(ctx, event, &result)
		return result
	}

	result.Status = StatusDispatched
	o.recordTrigger(cfg, event.UserID)
	o.observe(ctx, event, &result)
	return result
}

func (o *Orchestrator) buildPayload(event *model.AutomationEvent, ch model.Channel) map[string]interface{} {
	return map[string]interface{}{
		"event_id":        event.ID.String(),
		"automation_type": string(event.Type),
		"user_id":         event.UserID,
		"channel":         string(ch),
		"data":            event.PayloadMap(),
		"triggered_at":    o.now().UTC().Format(time.RFC3339),
	}
}

func (o *Orchestrator) buildMessage(event *model.AutomationEvent, cfg model.AutomationConfig, ch model.Channel) channel.Message {
	data := event.PayloadMap()

	recipient := event.UserID
	if r, ok := data["recipient"].(string); ok && r != "" {
		recipient = r
	}

	subject := ""
	if s, ok := data["subject"].(string); ok {
		subject = s
	}

	return channel.Message{
		Recipient: recipient,
		Subject:   subject,
		Text:      RenderTemplate(cfg.Template(ch), data),
	}
}

// suppressed checks the in-memory per-user trigger caches.
func (o *Orchestrator) suppressed(cfg model.AutomationConfig, userID string) (string, bool) {
	if cfg.Internal || userID == "" {
		return "", false
	}

	lastKey := fmt.Sprintf("last:%s:%s", cfg.Type, userID)
	if v, ok := o.suppressions.Get(lastKey); ok {
		last := v.(time.Time)
		if o.now().Sub(last) < cfg.SuppressionWindow {
			return fmt.Sprintf("suppressed: last %s trigger for user was %s ago",
				cfg.Type, o.now().Sub(last).Round(time.Second)), true
		}
	}

	if cfg.MaxPerUserPerDay > 0 {
		dayKey := o.dayKey(cfg.Type, userID)
		if v, ok := o.suppressions.Get(dayKey); ok && v.(int) >= cfg.MaxPerUserPerDay {
			return fmt.Sprintf("suppressed: user reached %d %s triggers today",
				cfg.MaxPerUserPerDay, cfg.Type), true
		}
	}
	return "", false
}

func (o *Orchestrator) recordTrigger(cfg model.AutomationConfig, userID string) {
	if cfg.Internal || userID == "" {
		return
	}

	lastKey := fmt.Sprintf("last:%s:%s", cfg.Type, userID)
	o.suppressions.Set(lastKey, o.now(), cfg.SuppressionWindow)

	dayKey := o.dayKey(cfg.Type, userID)
	count := 0
	if v, ok := o.suppressions.Get(dayKey); ok {
		count = v.(int)
	}
	o.suppressions.Set(dayKey, count+1, 24*time.Hour)
}

func (o *Orchestrator) dayKey(typ model.AutomationType, userID string) string {
	return fmt.Sprintf("count:%s:%s:%s", typ, userID, o.now().UTC().Format("2006-01-02"))
}

// observe emits the log line, metrics and broker event for one attempt.
func (o *Orchestrator) observe(ctx context.Context, event *model.AutomationEvent, result *AutomationResult) {
	outcome := string(result.Status)

	if o.metrics != nil {
		o.metrics.EventsDispatched.WithLabelValues(string(event.Type), string(result.Channel), outcome).Inc()
		o.metrics.DispatchLatency.WithLabelValues(string(event.Type), string(result.Channel)).
			Observe(result.Duration.Seconds())
	}

	if result.Err != nil {
		o.logger.Error(result.Err, "automation dispatch failed",
			"event_id", event.ID.String(),
			"event_type", string(event.Type),
			"error_class", ErrorClass(result.Err))
	} else {
		o.logger.Info("automation dispatch finished",
			"event_id", event.ID.String(),
			"event_type", string(event.Type),
			"outcome", outcome,
			"reason", result.Reason)
	}

	if o.broker == nil {
		return
	}
	de := messaging.DispatchEvent{
		EventID:   event.ID.String(),
		EventType: string(event.Type),
		Channel:   string(result.Channel),
		Outcome:   outcome,
		LatencyMS: float64(result.Duration.Milliseconds()),
	}
	if result.Err != nil {
		de.ErrorClass = ErrorClass(result.Err)
		de.Error = result.Err.Error()
	}
	if err := o.broker.Publish(ctx, messaging.ChannelDispatches, de); err != nil {
		o.logger.Warn("failed to publish dispatch event", "error", err.Error())
	}
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ErrorClass buckets a dispatch error for logs and broker events.
func ErrorClass(err error) string {
	var rl *resilience.RateLimitError
	var co *resilience.CircuitOpenError
	var pe *resilience.PermanentError
	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &co):
		return "circuit_open"
	case errors.As(err, &pe):
		return "permanent"
	case workflow.IsRetryable(err):
		return "retryable"
	default:
		return "permanent"
	}
}

// nextAllowedTime returns the next instant inside the config's allowed
// send window.
func nextAllowedTime(now time.Time, cfg model.AutomationConfig) time.Time {
	day := now
	if now.Hour() >= cfg.QuietHoursEnd {
		day = now.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), cfg.QuietHoursStart, 0, 0, 0, now.Location())
}

// RenderTemplate fills {placeholder} fields from the payload. Unknown
// placeholders are left in place so missing data is visible downstream.
func RenderTemplate(tpl string, data map[string]interface{}) string {
	if tpl == "" || len(data) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
