package worker

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/agent"
	"github.com/spec-kit/support-pipeline/internal/classifier"
	"github.com/spec-kit/support-pipeline/internal/config"
	"github.com/spec-kit/support-pipeline/internal/domain"
	"github.com/spec-kit/support-pipeline/internal/events"
	"github.com/spec-kit/support-pipeline/internal/observability"
	"github.com/spec-kit/support-pipeline/internal/queue"
	"github.com/spec-kit/support-pipeline/internal/repository"
	"github.com/spec-kit/support-pipeline/pkg/util"
)

// Source is the incoming-stream side of the queue contract: at-least-once
// delivery with manual acknowledgement as the offset commit.
type Source interface {
	EnsureGroup(ctx context.Context) error
	Fetch(ctx context.Context) ([]queue.Delivery, error)
	Ack(ctx context.Context, deliveryID string) error
}

// DeadLetterSink routes exhausted events aside.
type DeadLetterSink interface {
	PublishDeadLetter(ctx context.Context, event *queue.DeadLetterEvent) (string, error)
}

// DuplicateChecker is the dedup guard contract.
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, channel domain.MessageChannel, channelMessageID string) bool
}

// IdentityResolver is the identity-store contract consumed by the worker.
type IdentityResolver interface {
	ResolveOrCreateCustomer(ctx context.Context, identType domain.IdentifierType, value string, displayName *string, now time.Time) (*domain.Customer, error)
	ResolveByAnyIdentifier(ctx context.Context, email, phone, whatsapp *string) (*domain.Customer, error)
	LinkIdentifier(ctx context.Context, customerID string, identType domain.IdentifierType, value string) error
	RecordContact(ctx context.Context, customerID string, at time.Time) error
	ApplySentiment(ctx context.Context, customerID string, score float64) error
}

// SessionResolver is the session-manager contract consumed by the worker.
type SessionResolver interface {
	ResolveOrOpenConversation(ctx context.Context, customerID string, channel domain.MessageChannel, now time.Time) (*domain.Conversation, bool, error)
	RepairDuplicateSessions(ctx context.Context, customerID string, now time.Time) error
	RecordSentiment(ctx context.Context, conversationID string, sentiment float64) error
}

// TicketManager is the lifecycle contract consumed by the worker.
type TicketManager interface {
	EnsureTicket(ctx context.Context, conversationID, customerID string, channel domain.MessageChannel, cls classifier.Result, now time.Time) (*domain.Ticket, bool, error)
	Escalate(ctx context.Context, ticket *domain.Ticket, reason domain.EscalationReason, priority domain.TicketPriority, now time.Time) error
	MarkInProgress(ctx context.Context, ticketID string) error
}

// IngestWorker is the orchestrating consumer loop.
type IngestWorker struct {
	source      Source
	deadLetters DeadLetterSink
	dedup       DuplicateChecker
	identity    IdentityResolver
	sessions    SessionResolver
	tickets     TicketManager
	messages    repository.MessageRepository
	responder   agent.Responder
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	cfg         config.WorkerConfig
	agentCfg    config.AgentConfig
	logger      *zap.Logger
	now         func() time.Time
	sleep       func(time.Duration)
}

// Dependencies bundles worker collaborators; every stateful one is injected so
// tests can substitute doubles.
type Dependencies struct {
	Source      Source
	DeadLetters DeadLetterSink
	Dedup       DuplicateChecker
	Identity    IdentityResolver
	Sessions    SessionResolver
	Tickets     TicketManager
	Messages    repository.MessageRepository
	Responder   agent.Responder
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
}

// NewIngestWorker constructs the worker.
func NewIngestWorker(deps Dependencies, cfg config.WorkerConfig, agentCfg config.AgentConfig, logger *zap.Logger) *IngestWorker {
	return &IngestWorker{
		source:      deps.Source,
		deadLetters: deps.DeadLetters,
		dedup:       deps.Dedup,
		identity:    deps.Identity,
		sessions:    deps.Sessions,
		tickets:     deps.Tickets,
		messages:    deps.Messages,
		responder:   deps.Responder,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		cfg:         cfg,
		agentCfg:    agentCfg,
		logger:      logger,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Run pulls batches until the context is cancelled. Deliveries within a batch
// are processed sequentially to preserve per-partition ordering.
func (w *IngestWorker) Run(ctx context.Context) error {
	if err := w.source.EnsureGroup(ctx); err != nil {
		return util.NewFatalError("consumer group setup failed", err)
	}
	w.logger.Info("ingestion worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ingestion worker stopping")
			return nil
		default:
		}

		deliveries, err := w.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("queue fetch failed", zap.Error(err))
			w.sleep(time.Second)
			continue
		}
		for _, delivery := range deliveries {
			w.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery applies the full failure contract to one event: schema
// validation straight to dead-letter, transient failures retried with backoff,
// and the offset committed in every terminal outcome so a poison message never
// blocks the partition.
func (w *IngestWorker) handleDelivery(ctx context.Context, delivery queue.Delivery) {
	var event queue.IncomingEvent
	if err := json.Unmarshal(delivery.Payload, &event); err != nil {
		w.deadLetter(ctx, delivery, "malformed payload: "+err.Error())
		w.ack(ctx, delivery)
		return
	}
	if err := event.Validate(); err != nil {
		w.deadLetter(ctx, delivery, err.Error())
		w.ack(ctx, delivery)
		return
	}

	// Dedup is judged once per delivery. Checking it inside the attempt loop
	// would let attempt one's stored message shadow the remaining attempts as
	// a duplicate and swallow the handoff.
	if w.dedup.IsDuplicate(ctx, event.Channel, event.ChannelMessageID) {
		w.metrics.Inc(observability.MetricDuplicates)
		w.ack(ctx, delivery)
		return
	}

	var state pipelineState
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		lastErr = w.processEvent(ctx, &event, &state)
		if lastErr == nil {
			w.ack(ctx, delivery)
			return
		}
		if !util.IsRetriable(lastErr) {
			break
		}
		if attempt < w.cfg.MaxAttempts {
			delay := w.backoff(attempt)
			w.metrics.Inc(observability.MetricRetries)
			w.logger.Warn("processing failed; retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", w.cfg.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			w.sleep(delay)
		}
	}

	w.logger.Error("processing failed permanently",
		zap.String("delivery_id", delivery.ID),
		zap.Error(lastErr))
	w.deadLetter(ctx, delivery, lastErr.Error())
	w.ack(ctx, delivery)
}

// pipelineState carries what earlier attempts of the same delivery already
// persisted, so a retried attempt resumes after the inbound store instead of
// reporting its own first attempt as a duplicate.
type pipelineState struct {
	inbound *domain.Message
}

// processEvent runs the pipeline for one validated event:
// identity -> session -> store -> classify -> ticket -> handoff.
func (w *IngestWorker) processEvent(ctx context.Context, event *queue.IncomingEvent, state *pipelineState) error {
	now := w.now()

	customer, err := w.resolveCustomer(ctx, event, now)
	if err != nil {
		return err
	}

	conv, _, err := w.sessions.ResolveOrOpenConversation(ctx, customer.ID, event.Channel, now)
	if err != nil {
		return err
	}
	if err := w.sessions.RepairDuplicateSessions(ctx, customer.ID, now); err != nil {
		return err
	}

	if state.inbound == nil {
		stored, err := w.storeInbound(ctx, conv.ID, event)
		if err != nil {
			return err
		}
		if stored == nil {
			// Unique-constraint backstop caught a duplicate the guard missed.
			w.metrics.Inc(observability.MetricDuplicates)
			return nil
		}
		state.inbound = stored
	}

	if err := w.identity.RecordContact(ctx, customer.ID, now); err != nil {
		return err
	}

	cls := classifier.ClassifyWithSentiment(event.Content, sentimentFromMetadata(event.Metadata))
	ticket, created, err := w.tickets.EnsureTicket(ctx, conv.ID, customer.ID, event.Channel, cls, now)
	if err != nil {
		return err
	}
	if !created && cls.Escalate {
		if err := w.tickets.Escalate(ctx, ticket, cls.Reason, cls.Priority, now); err != nil {
			if !util.IsInvalidTransition(err) {
				return err
			}
			w.logger.Warn("escalation rejected by state machine",
				zap.String("ticket_id", ticket.ID),
				zap.String("status", string(ticket.Status)))
		}
	}

	if err := w.handoff(ctx, event, customer, conv, ticket, now); err != nil {
		return err
	}

	w.publish(ctx, events.Event{
		Type:       events.EventMessageProcessed,
		CustomerID: customer.ID,
		Payload: events.MessageProcessedPayload{
			MessageID:      state.inbound.ID,
			ConversationID: conv.ID,
			Channel:        event.Channel,
		},
	})
	return nil
}

// resolveCustomer first tries cross-channel recognition over every identifier
// the event carries, then falls back to create. A recognized customer gets the
// event's identifier linked so the next contact matches directly.
func (w *IngestWorker) resolveCustomer(ctx context.Context, event *queue.IncomingEvent, now time.Time) (*domain.Customer, error) {
	identType := domain.IdentifierTypeForChannel(event.Channel)
	email, phone, whatsapp := identifierSlots(identType, event.CustomerIdentifier, event.Metadata)

	customer, err := w.identity.ResolveByAnyIdentifier(ctx, email, phone, whatsapp)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		if err := w.identity.LinkIdentifier(ctx, customer.ID, identType, event.CustomerIdentifier); err != nil {
			if util.CategoryOf(err) != util.CategoryConflict {
				return nil, err
			}
		}
		return customer, nil
	}

	return w.identity.ResolveOrCreateCustomer(ctx, identType, event.CustomerIdentifier, displayNameFromMetadata(event.Metadata), now)
}

// handoff calls the external reasoning engine under a hard timeout, applies
// its sentiment and escalation decisions, and stores the outbound reply.
func (w *IngestWorker) handoff(ctx context.Context, event *queue.IncomingEvent, customer *domain.Customer, conv *domain.Conversation, ticket *domain.Ticket, now time.Time) error {
	history, err := w.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return util.NewTransientError("history lookup failed", err)
	}
	turns := make([]agent.Turn, 0, len(history))
	for _, msg := range history {
		turns = append(turns, agent.Turn{
			Role:      msg.Role,
			Channel:   msg.Channel,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, w.agentCfg.Timeout())
	defer cancel()

	reply, err := w.responder.Respond(callCtx, agent.ConversationContext{
		CustomerID:     customer.ID,
		ConversationID: conv.ID,
		TicketID:       ticket.ID,
		Channel:        event.Channel,
		Message:        event.Content,
		History:        turns,
		Metadata:       event.Metadata,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return util.NewTransientError("reasoning engine timed out", err)
		}
		return err
	}

	if reply.Sentiment != nil {
		if err := w.identity.ApplySentiment(ctx, customer.ID, *reply.Sentiment); err != nil {
			return err
		}
		if err := w.sessions.RecordSentiment(ctx, conv.ID, *reply.Sentiment); err != nil {
			return err
		}
	}

	if escalation := replyEscalation(reply); escalation != nil {
		if err := w.tickets.Escalate(ctx, ticket, escalation.Reason, escalation.Priority, now); err != nil {
			if !util.IsInvalidTransition(err) {
				return err
			}
			w.logger.Warn("engine escalation rejected by state machine",
				zap.String("ticket_id", ticket.ID))
		}
	} else if ticket.Status == domain.TicketStatusOpen {
		if err := w.tickets.MarkInProgress(ctx, ticket.ID); err != nil {
			return err
		}
	}

	if reply.Text != "" {
		status := domain.DeliveryQueued
		outbound := &domain.Message{
			ConversationID: conv.ID,
			Channel:        event.Channel,
			Direction:      domain.DirectionOutbound,
			Role:           domain.RoleAgent,
			Content:        reply.Text,
			DeliveryStatus: &status,
		}
		if err := w.messages.Create(ctx, outbound); err != nil {
			return util.NewTransientError("outbound message store failed", err)
		}
	}
	return nil
}

func (w *IngestWorker) storeInbound(ctx context.Context, conversationID string, event *queue.IncomingEvent) (*domain.Message, error) {
	msg := &domain.Message{
		ConversationID:   conversationID,
		Channel:          event.Channel,
		Direction:        domain.DirectionInbound,
		Role:             domain.RoleCustomer,
		Content:          event.Content,
		ChannelMessageID: &event.ChannelMessageID,
		Metadata:         event.Metadata,
	}
	if err := w.messages.Create(ctx, msg); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, nil
		}
		return nil, util.NewTransientError("inbound message store failed", err)
	}
	return msg, nil
}

// backoff computes the delay before the given retry with exponential growth, a
// cap, and additive jitter to avoid thundering-herd retries across workers.
func (w *IngestWorker) backoff(attempt int) time.Duration {
	base := time.Duration(w.cfg.BackoffBaseMS) * time.Millisecond
	max := time.Duration(w.cfg.BackoffMaxMS) * time.Millisecond

	delay := base << (attempt - 1)
	if delay > max || delay <= 0 {
		delay = max
	}
	if w.cfg.JitterFraction > 0 {
		delay += time.Duration(rand.Float64() * w.cfg.JitterFraction * float64(delay))
	}
	return delay
}

func (w *IngestWorker) deadLetter(ctx context.Context, delivery queue.Delivery, reason string) {
	w.metrics.Inc(observability.MetricDeadLettered)
	if _, err := w.deadLetters.PublishDeadLetter(ctx, &queue.DeadLetterEvent{
		OriginalMessage: json.RawMessage(delivery.Payload),
		Error:           reason,
		FailedAt:        w.now(),
		Source:          "ingest_worker",
	}); err != nil {
		// The offset is still committed; losing the dead letter is preferable
		// to blocking the partition.
		w.logger.Error("dead-letter publish failed",
			zap.String("delivery_id", delivery.ID),
			zap.Error(err))
	}
}

func (w *IngestWorker) ack(ctx context.Context, delivery queue.Delivery) {
	if err := w.source.Ack(ctx, delivery.ID); err != nil {
		w.logger.Error("ack failed; event may be redelivered",
			zap.String("delivery_id", delivery.ID),
			zap.Error(err))
	}
}

func (w *IngestWorker) publish(ctx context.Context, event events.Event) {
	if w.dispatcher == nil {
		return
	}
	event.Timestamp = w.now()
	_ = w.dispatcher.Publish(ctx, event)
}

type escalationRequest struct {
	Reason   domain.EscalationReason
	Priority domain.TicketPriority
}

// replyEscalation maps an engine-requested escalation onto the same path a
// classifier trigger takes.
func replyEscalation(reply *agent.Reply) *escalationRequest {
	if reply == nil || !reply.Escalate {
		return nil
	}
	reason := domain.ReasonAgentRequested
	if reply.Reason != "" {
		reason = domain.EscalationReason(reply.Reason)
	}
	return &escalationRequest{Reason: reason, Priority: domain.TicketPriorityHigh}
}

func sentimentFromMetadata(metadata map[string]any) *float64 {
	if metadata == nil {
		return nil
	}
	if raw, ok := metadata["sentiment"]; ok {
		if score, ok := raw.(float64); ok {
			return &score
		}
	}
	return nil
}

func displayNameFromMetadata(metadata map[string]any) *string {
	if metadata == nil {
		return nil
	}
	if raw, ok := metadata["name"]; ok {
		if name, ok := raw.(string); ok && name != "" {
			return &name
		}
	}
	return nil
}

// identifierSlots spreads the event's identifiers over the cross-channel
// lookup slots. The primary identifier fills the slot implied by the channel;
// metadata may carry additional known addresses.
func identifierSlots(identType domain.IdentifierType, value string, metadata map[string]any) (email, phone, whatsapp *string) {
	assign := func(t domain.IdentifierType, v string) {
		switch t {
		case domain.IdentifierTypeEmail:
			email = &v
		case domain.IdentifierTypePhone:
			phone = &v
		case domain.IdentifierTypeWhatsApp:
			whatsapp = &v
		}
	}
	assign(identType, value)

	if metadata != nil {
		if raw, ok := metadata["email"].(string); ok && raw != "" && email == nil {
			email = &raw
		}
		if raw, ok := metadata["phone"].(string); ok && raw != "" && phone == nil {
			phone = &raw
		}
	}
	return email, phone, whatsapp
}
