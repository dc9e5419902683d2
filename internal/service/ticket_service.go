package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/classifier"
	"github.com/spec-kit/support-pipeline/internal/domain"
	"github.com/spec-kit/support-pipeline/internal/events"
	"github.com/spec-kit/support-pipeline/internal/queue"
	"github.com/spec-kit/support-pipeline/internal/repository"
	"github.com/spec-kit/support-pipeline/pkg/util"
)

// EscalationPublisher delivers escalation events to the human-handoff channel.
type EscalationPublisher interface {
	PublishEscalation(ctx context.Context, event *queue.EscalationEvent) (string, error)
}

// TicketService enforces the ticket state machine.
type TicketService struct {
	tickets     repository.TicketRepository
	customers   repository.CustomerRepository
	messages    repository.MessageRepository
	dispatcher  events.Dispatcher
	escalations EscalationPublisher
	logger      *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo   repository.TicketRepository
	CustomerRepo repository.CustomerRepository
	MessageRepo  repository.MessageRepository
	Dispatcher   events.Dispatcher
	Escalations  EscalationPublisher
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies, logger *zap.Logger) *TicketService {
	return &TicketService{
		tickets:     deps.TicketRepo,
		customers:   deps.CustomerRepo,
		messages:    deps.MessageRepo,
		dispatcher:  deps.Dispatcher,
		escalations: deps.Escalations,
		logger:      logger,
	}
}

// EnsureTicket returns the ticket backing the conversation, creating one when
// none exists or the previous one was resolved. When the classifier already
// demands escalation at creation time the ticket is created directly in the
// escalated state with the classifier's reason and priority.
func (s *TicketService) EnsureTicket(ctx context.Context, conversationID, customerID string, channel domain.MessageChannel, cls classifier.Result, now time.Time) (*domain.Ticket, bool, error) {
	// Reuse anything still under automated handling, plus an escalated
	// ticket so repeated triggers republish instead of opening a new one.
	// Only a resolved ticket forces a fresh ticket.
	existing, err := s.tickets.GetLatestByConversation(ctx, conversationID)
	if err == nil && (!existing.IsTerminal() || existing.Status == domain.TicketStatusEscalated) {
		return existing, false, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, util.NewTransientError("ticket lookup failed", err)
	}

	ticket := &domain.Ticket{
		ConversationID: conversationID,
		CustomerID:     customerID,
		SourceChannel:  channel,
		Category:       domain.CategoryGeneral,
		Priority:       domain.TicketPriorityMedium,
		Status:         domain.TicketStatusOpen,
	}
	if cls.Escalate {
		reason := cls.Reason
		ticket.Status = domain.TicketStatusEscalated
		ticket.Priority = cls.Priority
		ticket.EscalationReason = &reason
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, false, util.NewTransientError("ticket creation failed", err)
	}
	s.logger.Info("created ticket",
		zap.String("ticket_id", ticket.ID),
		zap.String("conversation_id", conversationID),
		zap.String("status", string(ticket.Status)))
	s.publish(ctx, events.Event{
		Type:       events.EventTicketCreated,
		CustomerID: customerID,
		Payload: events.TicketCreatedPayload{
			TicketID: ticket.ID,
			Channel:  channel,
			Priority: ticket.Priority,
			Status:   ticket.Status,
		},
	})

	if cls.Escalate {
		if err := s.completeEscalation(ctx, ticket, cls.Reason, cls.Priority, now, false); err != nil {
			return nil, false, err
		}
	}
	return ticket, true, nil
}

// Escalate moves an open or in-progress ticket to escalated. Escalating an
// already-escalated ticket is a no-op that still republishes the escalation
// event, satisfying at-least-once delivery to the handoff channel without
// double-incrementing the customer's counter. Escalating a resolved ticket is
// an invalid transition.
func (s *TicketService) Escalate(ctx context.Context, ticket *domain.Ticket, reason domain.EscalationReason, priority domain.TicketPriority, now time.Time) error {
	if ticket.Status == domain.TicketStatusEscalated {
		return s.completeEscalation(ctx, ticket, reason, priority, now, true)
	}
	if !domain.CanTransition(ticket.Status, domain.TicketStatusEscalated) {
		return util.NewInvalidTransitionError(string(ticket.Status), string(domain.TicketStatusEscalated))
	}

	applied, err := s.tickets.EscalateCAS(ctx, ticket.ID, reason, priority)
	if err != nil {
		return util.NewTransientError("escalation update failed", err)
	}
	if !applied {
		// A concurrent worker got there first; re-read and treat as repeat.
		current, lookupErr := s.tickets.GetByID(ctx, ticket.ID)
		if lookupErr != nil {
			return util.NewTransientError("ticket re-read failed", lookupErr)
		}
		*ticket = *current
		if ticket.Status != domain.TicketStatusEscalated {
			return util.NewInvalidTransitionError(string(ticket.Status), string(domain.TicketStatusEscalated))
		}
		return s.completeEscalation(ctx, ticket, reason, priority, now, true)
	}

	r := reason
	ticket.Status = domain.TicketStatusEscalated
	ticket.Priority = priority
	ticket.EscalationReason = &r
	return s.completeEscalation(ctx, ticket, reason, priority, now, false)
}

// Resolve is the hook for the external resolution signal. Resolving a
// resolved or escalated ticket is rejected as an invalid transition.
func (s *TicketService) Resolve(ctx context.Context, ticketID string, now time.Time) error {
	applied, err := s.tickets.ResolveCAS(ctx, ticketID, now)
	if err != nil {
		return util.NewTransientError("resolve update failed", err)
	}
	if !applied {
		current, lookupErr := s.tickets.GetByID(ctx, ticketID)
		if lookupErr != nil {
			return util.NewTransientError("ticket re-read failed", lookupErr)
		}
		return util.NewInvalidTransitionError(string(current.Status), string(domain.TicketStatusResolved))
	}
	s.publish(ctx, events.Event{
		Type:    events.EventTicketResolved,
		Payload: events.TicketResolvedPayload{TicketID: ticketID},
	})
	return nil
}

// MarkInProgress flags that automated handling has picked the ticket up.
func (s *TicketService) MarkInProgress(ctx context.Context, ticketID string) error {
	if _, err := s.tickets.MarkInProgressCAS(ctx, ticketID); err != nil {
		return util.NewTransientError("in-progress update failed", err)
	}
	return nil
}

// completeEscalation increments the customer counter (first escalation only)
// and publishes to the escalations stream on every call.
func (s *TicketService) completeEscalation(ctx context.Context, ticket *domain.Ticket, reason domain.EscalationReason, priority domain.TicketPriority, now time.Time, repeated bool) error {
	if !repeated {
		if err := s.customers.IncrementEscalations(ctx, ticket.CustomerID); err != nil {
			return util.NewTransientError("escalation counter update failed", err)
		}
	}

	event, err := s.buildEscalationEvent(ctx, ticket, reason, priority, now)
	if err != nil {
		return err
	}
	if _, err := s.escalations.PublishEscalation(ctx, event); err != nil {
		return util.NewTransientError("escalation publish failed", err)
	}

	s.logger.Info("ticket escalated",
		zap.String("ticket_id", ticket.ID),
		zap.String("reason", string(reason)),
		zap.Bool("repeated", repeated))
	s.publish(ctx, events.Event{
		Type:       events.EventTicketEscalated,
		CustomerID: ticket.CustomerID,
		Payload: events.TicketEscalatedPayload{
			TicketID: ticket.ID,
			Reason:   reason,
			Priority: priority,
			Repeated: repeated,
		},
	})
	return nil
}

func (s *TicketService) buildEscalationEvent(ctx context.Context, ticket *domain.Ticket, reason domain.EscalationReason, priority domain.TicketPriority, now time.Time) (*queue.EscalationEvent, error) {
	customer, err := s.customers.GetByID(ctx, ticket.CustomerID)
	if err != nil {
		return nil, util.NewTransientError("customer lookup failed", err)
	}
	history, err := s.messages.ListByConversation(ctx, ticket.ConversationID)
	if err != nil {
		return nil, util.NewTransientError("transcript lookup failed", err)
	}

	transcript := make([]queue.EscalationTranscriptEntry, 0, len(history))
	for _, msg := range history {
		transcript = append(transcript, queue.EscalationTranscriptEntry{
			Channel:   msg.Channel,
			Direction: msg.Direction,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
		})
	}

	return &queue.EscalationEvent{
		TicketID: ticket.ID,
		Reason:   reason,
		Priority: priority,
		Customer: queue.EscalationCustomer{
			ID:        customer.ID,
			Name:      customer.Name,
			Email:     customer.PrimaryEmail,
			Sentiment: customer.SentimentScore,
		},
		ConversationHistory: transcript,
		EscalatedAt:         now,
	}, nil
}

func (s *TicketService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.Timestamp = time.Now()
	_ = s.dispatcher.Publish(ctx, event)
}
