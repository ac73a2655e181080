package model

import "time"

// ConversationContext is the per-user conversational state shared
// between channels and the workflow engine. Stored in Redis with a TTL;
// LastInteraction also drives a logical expiry check on read.
type ConversationContext struct {
	Channel         string                 `json:"channel"`
	UserID          string                 `json:"user_id"`
	State           map[string]interface{} `json:"state"`
	LastInteraction time.Time              `json:"last_interaction"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Expired reports whether the context is logically stale at now.
func (c *ConversationContext) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.LastInteraction) > ttl
}
