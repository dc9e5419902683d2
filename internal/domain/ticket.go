package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusEscalated  TicketStatus = "escalated"
)

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// TicketCategory classifies the request.
type TicketCategory string

const (
	CategoryGeneral   TicketCategory = "general"
	CategoryTechnical TicketCategory = "technical"
	CategoryBilling   TicketCategory = "billing"
	CategoryFeedback  TicketCategory = "feedback"
	CategoryBugReport TicketCategory = "bug_report"
)

// EscalationReason names why a ticket left automated handling.
type EscalationReason string

const (
	ReasonPricingInquiry    EscalationReason = "pricing_inquiry"
	ReasonRefundRequest     EscalationReason = "refund_request"
	ReasonLegalMatter       EscalationReason = "legal_matter"
	ReasonAggressiveTone    EscalationReason = "aggressive_language"
	ReasonHumanRequest      EscalationReason = "explicit_human_request"
	ReasonNegativeSentiment EscalationReason = "negative_sentiment"
	ReasonAgentRequested    EscalationReason = "agent_requested"
)

// Ticket is the work-tracking aggregate bound to a conversation.
type Ticket struct {
	ID               string
	ConversationID   string
	CustomerID       string
	SourceChannel    MessageChannel
	Category         TicketCategory
	Priority         TicketPriority
	Status           TicketStatus
	EscalationReason *EscalationReason
	CreatedAt        time.Time
	ResolvedAt       *time.Time
	UpdatedAt        time.Time
}

// ticketTransitions is the allowed state machine. resolved and escalated are
// terminal for this pipeline; escalated tickets are closed by humans externally.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusResolved, TicketStatusEscalated},
	TicketStatusInProgress: {TicketStatusResolved, TicketStatusEscalated},
}

// CanTransition reports whether moving from to next is permitted.
func CanTransition(from, to TicketStatus) bool {
	for _, allowed := range ticketTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the pipeline may no longer mutate the ticket.
func (t *Ticket) IsTerminal() bool {
	return t.Status == TicketStatusResolved || t.Status == TicketStatusEscalated
}
