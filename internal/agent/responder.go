// Package agent defines the boundary to the external reasoning engine that
// composes replies. The pipeline only depends on the Responder contract; reply
// phrasing and tool selection happen on the other side of it.
package agent

import (
	"context"
	"time"

	"github.com/spec-kit/support-pipeline/internal/domain"
)

// Turn is one prior message of the conversation, oldest first.
type Turn struct {
	Role      domain.MessageRole    `json:"role"`
	Channel   domain.MessageChannel `json:"channel"`
	Content   string                `json:"content"`
	Timestamp time.Time             `json:"timestamp"`
}

// ConversationContext carries everything the engine needs to respond.
type ConversationContext struct {
	CustomerID     string                `json:"customer_id"`
	ConversationID string                `json:"conversation_id"`
	TicketID       string                `json:"ticket_id"`
	Channel        domain.MessageChannel `json:"channel"`
	Message        string                `json:"message"`
	History        []Turn                `json:"history,omitempty"`
	Metadata       map[string]any        `json:"metadata,omitempty"`
}

// Reply is what the engine decided. The engine may itself request escalation;
// the pipeline honors that identically to a classifier-triggered one.
type Reply struct {
	Text      string   `json:"text"`
	Sentiment *float64 `json:"sentiment,omitempty"`
	Escalate  bool     `json:"escalate,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Responder is the reasoning-engine contract.
type Responder interface {
	Respond(ctx context.Context, conversation ConversationContext) (*Reply, error)
}
