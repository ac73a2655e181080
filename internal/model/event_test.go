package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to EventStatus }{
		{EventStatusPending, EventStatusDispatching},
		{EventStatusPending, EventStatusCancelled},
		{EventStatusDispatching, EventStatusCompleted},
		{EventStatusDispatching, EventStatusPending},
		{EventStatusDispatching, EventStatusFailed},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	terminals := []EventStatus{EventStatusCompleted, EventStatusFailed, EventStatusCancelled}
	all := []EventStatus{EventStatusPending, EventStatusDispatching, EventStatusCompleted, EventStatusFailed, EventStatusCancelled}
	for _, from := range terminals {
		assert.True(t, from.Terminal())
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	assert.False(t, CanTransition(EventStatusDispatching, EventStatusCancelled))
	assert.False(t, CanTransition(EventStatusPending, EventStatusCompleted))
}

func TestPriorityJSONRoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical} {
		data, err := json.Marshal(p)
		require.NoError(t, err)

		var got Priority
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, p, got)
	}

	var bad Priority
	assert.Error(t, json.Unmarshal([]byte(`"urgent-ish"`), &bad))
}

func TestPriorityOrdering(t *testing.T) {
	assert.True(t, PriorityCritical > PriorityHigh)
	assert.True(t, PriorityHigh > PriorityNormal)
	assert.True(t, PriorityNormal > PriorityLow)
}

func TestChannelValid(t *testing.T) {
	assert.True(t, ChannelWhatsApp.Valid())
	assert.True(t, ChannelInstagram.Valid())
	assert.True(t, ChannelEmail.Valid())
	assert.False(t, Channel("sms").Valid())
}

func TestPayloadMap(t *testing.T) {
	e := &AutomationEvent{Payload: json.RawMessage(`{"name":"Ana","order_id":42}`)}
	m := e.PayloadMap()
	assert.Equal(t, "Ana", m["name"])

	empty := &AutomationEvent{}
	assert.NotNil(t, empty.PayloadMap())

	garbage := &AutomationEvent{Payload: json.RawMessage(`not-json`)}
	assert.Empty(t, garbage.PayloadMap())
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	e := &AutomationEvent{
		Type:        AutomationDailyReport,
		Channel:     ChannelEmail,
		UserID:      "seller-1",
		ScheduledAt: now.Add(-time.Minute),
		RecurEvery:  24 * time.Hour,
		Attempts:    2,
		MaxAttempts: 3,
	}

	next := e.NextOccurrence(now)
	assert.NotEqual(t, e.ID, next.ID)
	assert.Equal(t, e.ScheduledAt.Add(24*time.Hour), next.ScheduledAt)
	assert.Equal(t, EventStatusPending, next.Status)
	assert.Zero(t, next.Attempts)
	assert.Equal(t, 3, next.MaxAttempts)

	// A stale slot anchors to now instead of firing immediately.
	e.ScheduledAt = now.Add(-48 * time.Hour)
	next = e.NextOccurrence(now)
	assert.Equal(t, now.Add(24*time.Hour), next.ScheduledAt)
}

func TestDefaultConfigClosedEnum(t *testing.T) {
	known := []AutomationType{
		AutomationOnboarding, AutomationCartAbandoned, AutomationPriceDrop,
		AutomationFollowUp, AutomationReviewRequest, AutomationReengagement,
		AutomationComplaintAlert, AutomationHumanHandoff, AutomationDailyReport,
	}
	for _, typ := range known {
		cfg, ok := DefaultConfig(typ)
		require.True(t, ok, "%s", typ)
		assert.True(t, cfg.Enabled)
		assert.NotEmpty(t, cfg.WorkflowID)
		assert.True(t, cfg.DefaultChannel.Valid())
		assert.NotEmpty(t, cfg.Templates)
	}

	_, ok := DefaultConfig(AutomationType("flash_mob"))
	assert.False(t, ok)
}

func TestQuietHours(t *testing.T) {
	cfg, _ := DefaultConfig(AutomationCartAbandoned)

	at := func(hour int) time.Time {
		return time.Date(2025, 6, 1, hour, 30, 0, 0, time.UTC)
	}
	assert.True(t, cfg.QuietHoursApply(at(3)))
	assert.True(t, cfg.QuietHoursApply(at(22)))
	assert.False(t, cfg.QuietHoursApply(at(8)))
	assert.False(t, cfg.QuietHoursApply(at(14)))

	internal, _ := DefaultConfig(AutomationComplaintAlert)
	assert.False(t, internal.QuietHoursApply(at(3)))
}

func TestConfigTableOverridesAndDisable(t *testing.T) {
	table := NewConfigTable()

	cfg, ok := table.Lookup(AutomationOnboarding)
	require.True(t, ok)
	assert.True(t, cfg.Enabled)

	table.SetEnabled(AutomationOnboarding, false)
	cfg, ok = table.Lookup(AutomationOnboarding)
	require.True(t, ok)
	assert.False(t, cfg.Enabled)

	custom, _ := DefaultConfig(AutomationPriceDrop)
	custom.WorkflowID = "price-drop-v2"
	table.Override(custom)
	cfg, ok = table.Lookup(AutomationPriceDrop)
	require.True(t, ok)
	assert.Equal(t, "price-drop-v2", cfg.WorkflowID)

	_, ok = table.Lookup(AutomationType("unknown"))
	assert.False(t, ok)
}
