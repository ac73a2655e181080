package model

import "time"

// AutomationType is the closed set of automation kinds the hub knows how
// to dispatch. New kinds require a new constant and a DefaultConfig case.
type AutomationType string

const (
	AutomationOnboarding     AutomationType = "onboarding"
	AutomationCartAbandoned  AutomationType = "cart_abandoned"
	AutomationPriceDrop      AutomationType = "price_drop"
	AutomationFollowUp       AutomationType = "follow_up"
	AutomationReviewRequest  AutomationType = "review_request"
	AutomationReengagement   AutomationType = "reengagement"
	AutomationComplaintAlert AutomationType = "complaint_alert"
	AutomationHumanHandoff   AutomationType = "human_handoff"
	AutomationDailyReport    AutomationType = "daily_report"
)

// AutomationConfig describes how one automation type is dispatched:
// which workflow to trigger, on which channel, and the per-user
// suppression and quiet-hours rules that gate user-facing sends.
type AutomationConfig struct {
	Type           AutomationType
	WorkflowID     string
	DefaultChannel Channel
	Enabled        bool
	Priority       Priority

	// SuppressionWindow is the minimum delay between two triggers of
	// this type for the same user. MaxPerUserPerDay caps daily volume.
	SuppressionWindow time.Duration
	MaxPerUserPerDay  int

	// QuietHoursStart/End bound the local hours in which user-facing
	// channels may send. Internal notifications set Internal and skip
	// the check entirely.
	QuietHoursStart int
	QuietHoursEnd   int
	Internal        bool

	// Templates maps channel to a message template with {placeholder}
	// fields filled from the event payload.
	Templates map[Channel]string
}

// QuietHoursApply reports whether t falls outside the allowed send
// window. Internal automations are never muted.
func (c AutomationConfig) QuietHoursApply(t time.Time) bool {
	if c.Internal {
		return false
	}
	h := t.Hour()
	return h < c.QuietHoursStart || h >= c.QuietHoursEnd
}

// Template returns the message template for ch, falling back to the
// default channel's template.
func (c AutomationConfig) Template(ch Channel) string {
	if tpl, ok := c.Templates[ch]; ok {
		return tpl
	}
	return c.Templates[c.DefaultChannel]
}

// DefaultConfig returns the built-in configuration for an automation
// type. The switch is exhaustive over the closed enum; an unknown type
// returns ok=false and the caller treats the event as skippable.
func DefaultConfig(t AutomationType) (AutomationConfig, bool) {
	base := AutomationConfig{
		Type:              t,
		Enabled:           true,
		Priority:          PriorityNormal,
		SuppressionWindow: 24 * time.Hour,
		MaxPerUserPerDay:  3,
		QuietHoursStart:   8,
		QuietHoursEnd:     22,
	}
	switch t {
	case AutomationOnboarding:
		base.WorkflowID = "onboarding-sequence"
		base.DefaultChannel = ChannelWhatsApp
		base.Priority = PriorityHigh
		base.Templates = map[Channel]string{
			ChannelWhatsApp: "Hi {name}! Welcome aboard. I'm your shopping assistant, what are you looking for today?",
			ChannelEmail:    "Welcome, {name}!",
		}
	case AutomationCartAbandoned:
		base.WorkflowID = "cart-recovery"
		base.DefaultChannel = ChannelWhatsApp
		base.Priority = PriorityHigh
		base.SuppressionWindow = 8 * time.Hour
		base.Templates = map[Channel]string{
			ChannelWhatsApp: "Hey {name}, you left {product_name} in your cart. It's still available, want to finish checkout?",
		}
	case AutomationPriceDrop:
		base.WorkflowID = "price-drop-alert"
		base.DefaultChannel = ChannelWhatsApp
		base.Priority = PriorityCritical
		base.Templates = map[Channel]string{
			ChannelWhatsApp: "Price alert! {product_name} dropped from {old_price} to {new_price}: {product_url}",
		}
	case AutomationFollowUp:
		base.WorkflowID = "post-purchase-followup"
		base.DefaultChannel = ChannelWhatsApp
		base.Templates = map[Channel]string{
			ChannelWhatsApp: "Thanks for your purchase, {name}! Order #{order_id} is confirmed, I'll let you know when it ships.",
		}
	case AutomationReviewRequest:
		base.WorkflowID = "review-request"
		base.DefaultChannel = ChannelWhatsApp
		base.Priority = PriorityLow
		base.SuppressionWindow = 168 * time.Hour
		base.Templates = map[Channel]string{
			ChannelWhatsApp: "Hi {name}! How was {product_name}? We'd love a quick review.",
		}
	case AutomationReengagement:
		base.WorkflowID = "reengagement"
		base.DefaultChannel = ChannelWhatsApp
		base.Priority = PriorityLow
		base.SuppressionWindow = 168 * time.Hour
		base.Templates = map[Channel]string{
			ChannelWhatsApp: "Hi {name}, we missed you! There are new offers waiting for you.",
		}
	case AutomationComplaintAlert:
		base.WorkflowID = "complaint-alert"
		base.DefaultChannel = ChannelEmail
		base.Priority = PriorityCritical
		base.Internal = true
		base.Templates = map[Channel]string{
			ChannelEmail: "New complaint from {name}: {complaint}",
		}
	case AutomationHumanHandoff:
		base.WorkflowID = "human-handoff"
		base.DefaultChannel = ChannelEmail
		base.Priority = PriorityHigh
		base.Internal = true
		base.Templates = map[Channel]string{
			ChannelEmail: "Handoff requested by {name}: {reason}",
		}
	case AutomationDailyReport:
		base.WorkflowID = "daily-report"
		base.DefaultChannel = ChannelEmail
		base.Priority = PriorityLow
		base.Internal = true
		base.Templates = map[Channel]string{
			ChannelEmail: "Daily report for {date}",
		}
	default:
		return AutomationConfig{}, false
	}
	return base, true
}

// ConfigTable resolves automation configs with optional overrides on
// top of the built-in defaults. Overrides come from the config file.
type ConfigTable struct {
	overrides map[AutomationType]AutomationConfig
	disabled  map[AutomationType]bool
}

func NewConfigTable() *ConfigTable {
	return &ConfigTable{
		overrides: make(map[AutomationType]AutomationConfig),
		disabled:  make(map[AutomationType]bool),
	}
}

func (t *ConfigTable) Override(cfg AutomationConfig) {
	t.overrides[cfg.Type] = cfg
}

func (t *ConfigTable) SetEnabled(typ AutomationType, enabled bool) {
	t.disabled[typ] = !enabled
}

// Lookup returns the effective config for typ. ok=false means the type
// is unknown to this deployment.
func (t *ConfigTable) Lookup(typ AutomationType) (AutomationConfig, bool) {
	cfg, ok := t.overrides[typ]
	if !ok {
		cfg, ok = DefaultConfig(typ)
		if !ok {
			return AutomationConfig{}, false
		}
	}
	if t.disabled[typ] {
		cfg.Enabled = false
	}
	return cfg, true
}
