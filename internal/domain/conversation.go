package domain

import "time"

// ConversationStatus enumerates session states.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// ChannelSwitch records a mid-conversation channel change.
type ChannelSwitch struct {
	From MessageChannel `json:"from"`
	To   MessageChannel `json:"to"`
	At   time.Time      `json:"at"`
}

// Conversation is a bounded interaction session. At most one active
// conversation exists per customer within the reuse window.
type Conversation struct {
	ID               string
	CustomerID       string
	InitialChannel   MessageChannel
	Status           ConversationStatus
	StartedAt        time.Time
	EndedAt          *time.Time
	OverallSentiment *float64
	ChannelSwitches  []ChannelSwitch
}

// IsActive reports whether the conversation can still accept messages.
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationActive
}

// WithinWindow reports whether the conversation started recently enough to be reused.
func (c *Conversation) WithinWindow(now time.Time, window time.Duration) bool {
	return now.Sub(c.StartedAt) < window
}
