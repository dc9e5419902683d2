package events

import (
	"time"

	"github.com/spec-kit/support-pipeline/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCustomerCreated     EventType = "customer_created"
	EventConversationOpened  EventType = "conversation_opened"
	EventChannelSwitched     EventType = "channel_switched"
	EventConversationsMerged EventType = "conversations_merged"
	EventTicketCreated       EventType = "ticket_created"
	EventTicketEscalated     EventType = "ticket_escalated"
	EventTicketResolved      EventType = "ticket_resolved"
	EventMessageProcessed    EventType = "message_processed"
)

// Event represents a domain event emitted by pipeline components.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	CustomerID string      `json:"customer_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// CustomerCreatedPayload payload.
type CustomerCreatedPayload struct {
	IdentifierType  domain.IdentifierType `json:"identifier_type"`
	IdentifierValue string                `json:"identifier_value"`
}

// ConversationOpenedPayload payload.
type ConversationOpenedPayload struct {
	ConversationID string                `json:"conversation_id"`
	Channel        domain.MessageChannel `json:"channel"`
}

// ChannelSwitchedPayload is the cross-channel continuity signal: the customer
// moved channels inside one active conversation.
type ChannelSwitchedPayload struct {
	ConversationID string                `json:"conversation_id"`
	From           domain.MessageChannel `json:"from"`
	To             domain.MessageChannel `json:"to"`
}

// ConversationsMergedPayload payload.
type ConversationsMergedPayload struct {
	PrimaryID   string `json:"primary_id"`
	SecondaryID string `json:"secondary_id"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketID string                `json:"ticket_id"`
	Channel  domain.MessageChannel `json:"channel"`
	Priority domain.TicketPriority `json:"priority"`
	Status   domain.TicketStatus   `json:"status"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	TicketID string                  `json:"ticket_id"`
	Reason   domain.EscalationReason `json:"reason"`
	Priority domain.TicketPriority   `json:"priority"`
	Repeated bool                    `json:"repeated"`
}

// TicketResolvedPayload payload.
type TicketResolvedPayload struct {
	TicketID string `json:"ticket_id"`
}

// MessageProcessedPayload payload.
type MessageProcessedPayload struct {
	MessageID      string                `json:"message_id"`
	ConversationID string                `json:"conversation_id"`
	Channel        domain.MessageChannel `json:"channel"`
}
