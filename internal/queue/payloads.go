package queue

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spec-kit/support-pipeline/internal/domain"
	"github.com/spec-kit/support-pipeline/pkg/util"
)

// IncomingEvent is the canonical payload on the ingest.incoming stream.
// Channel adapters produce it; the ingestion worker consumes it.
type IncomingEvent struct {
	Channel            domain.MessageChannel `json:"channel"`
	ChannelMessageID   string                `json:"channel_message_id"`
	CustomerIdentifier string                `json:"customer_identifier"`
	Content            string                `json:"content"`
	Timestamp          time.Time             `json:"timestamp"`
	Metadata           map[string]any        `json:"metadata,omitempty"`
}

// Validate enforces the versioned schema at the queue boundary, before any
// business logic runs.
func (e *IncomingEvent) Validate() error {
	if !domain.ValidChannel(e.Channel) {
		return util.NewValidationError("unknown channel", map[string]any{"channel": string(e.Channel)})
	}
	if strings.TrimSpace(e.ChannelMessageID) == "" {
		return util.NewValidationError("missing channel_message_id", nil)
	}
	if strings.TrimSpace(e.CustomerIdentifier) == "" {
		return util.NewValidationError("missing customer_identifier", nil)
	}
	if strings.TrimSpace(e.Content) == "" {
		return util.NewValidationError("empty content", nil)
	}
	if e.Timestamp.IsZero() {
		return util.NewValidationError("missing timestamp", nil)
	}
	return nil
}

// PartitionKey routes all traffic for one customer to the same partition so
// per-customer ordering holds end to end.
func (e *IncomingEvent) PartitionKey() string {
	return strings.ToLower(strings.TrimSpace(e.CustomerIdentifier))
}

// DeadLetterEvent is the payload on ingest.dead_letter.
type DeadLetterEvent struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	Error           string          `json:"error"`
	FailedAt        time.Time       `json:"failed_at"`
	Source          string          `json:"source"`
}

// EscalationCustomer is the customer block inside an escalation payload.
type EscalationCustomer struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Sentiment float64 `json:"sentiment"`
}

// EscalationTranscriptEntry is one message of the conversation history.
type EscalationTranscriptEntry struct {
	Channel   domain.MessageChannel   `json:"channel"`
	Direction domain.MessageDirection `json:"direction"`
	Role      domain.MessageRole      `json:"role"`
	Content   string                  `json:"content"`
	Timestamp time.Time               `json:"timestamp"`
}

// EscalationEvent is the payload on the escalations stream, consumed by the
// human-handoff channel.
type EscalationEvent struct {
	TicketID            string                      `json:"ticket_id"`
	Reason              domain.EscalationReason     `json:"reason"`
	Priority            domain.TicketPriority       `json:"priority"`
	Customer            EscalationCustomer          `json:"customer"`
	ConversationHistory []EscalationTranscriptEntry `json:"conversation_history"`
	EscalatedAt         time.Time                   `json:"escalated_at"`
}
