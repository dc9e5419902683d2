package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/domain"
	"github.com/spec-kit/support-pipeline/internal/events"
	"github.com/spec-kit/support-pipeline/internal/repository"
	"github.com/spec-kit/support-pipeline/pkg/util"
)

// SessionService finds or opens the time-windowed conversation for a customer
// and repairs the rare cross-channel race by merging duplicates.
type SessionService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	tickets       repository.TicketRepository
	dispatcher    events.Dispatcher
	window        time.Duration
	logger        *zap.Logger
}

// SessionDependencies bundles collaborators for the session service.
type SessionDependencies struct {
	ConversationRepo repository.ConversationRepository
	MessageRepo      repository.MessageRepository
	TicketRepo       repository.TicketRepository
	Dispatcher       events.Dispatcher
}

// NewSessionService constructs the service.
func NewSessionService(deps SessionDependencies, window time.Duration, logger *zap.Logger) *SessionService {
	return &SessionService{
		conversations: deps.ConversationRepo,
		messages:      deps.MessageRepo,
		tickets:       deps.TicketRepo,
		dispatcher:    deps.Dispatcher,
		window:        window,
		logger:        logger,
	}
}

// ResolveOrOpenConversation returns the active conversation within the reuse
// window, appending a channel-switch record when the message arrived on a
// different channel, or opens a new conversation. The bool reports whether a
// new conversation was opened.
func (s *SessionService) ResolveOrOpenConversation(ctx context.Context, customerID string, channel domain.MessageChannel, now time.Time) (*domain.Conversation, bool, error) {
	cutoff := now.Add(-s.window)

	conv, err := s.conversations.FindActiveByCustomer(ctx, customerID, cutoff)
	if err == nil {
		if err := s.recordChannelSwitch(ctx, conv, channel, now); err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, util.NewTransientError("conversation lookup failed", err)
	}

	// No reusable conversation. A stale active one past the window must be
	// closed first or the partial unique index blocks the insert.
	if err := s.expireStaleConversations(ctx, customerID, now); err != nil {
		return nil, false, err
	}

	fresh := &domain.Conversation{
		CustomerID:     customerID,
		InitialChannel: channel,
		Status:         domain.ConversationActive,
		StartedAt:      now,
	}
	if err := s.conversations.Create(ctx, fresh); err != nil {
		if repository.IsUniqueViolation(err) {
			// Another worker opened one concurrently; adopt it.
			winner, lookupErr := s.conversations.FindActiveByCustomer(ctx, customerID, cutoff)
			if lookupErr != nil {
				// The race itself is settled; only the re-read failed,
				// so the next attempt can still adopt the winner.
				return nil, false, util.NewTransientError("conversation race lost and winner lookup failed", lookupErr)
			}
			if err := s.recordChannelSwitch(ctx, winner, channel, now); err != nil {
				return nil, false, err
			}
			return winner, false, nil
		}
		return nil, false, util.NewTransientError("conversation creation failed", err)
	}

	s.logger.Info("opened conversation",
		zap.String("conversation_id", fresh.ID),
		zap.String("customer_id", customerID),
		zap.String("channel", string(channel)))
	s.publish(ctx, events.Event{
		Type:       events.EventConversationOpened,
		CustomerID: customerID,
		Payload: events.ConversationOpenedPayload{
			ConversationID: fresh.ID,
			Channel:        channel,
		},
	})
	return fresh, true, nil
}

// MergeConversations repoints messages and tickets from secondary onto
// primary and closes the secondary. Safe to run twice: repointing moved rows
// is a no-op and closing a closed conversation affects nothing. Message order
// is preserved because rows keep their original timestamps.
func (s *SessionService) MergeConversations(ctx context.Context, primaryID, secondaryID string, now time.Time) error {
	if primaryID == secondaryID {
		return nil
	}

	if err := s.messages.Repoint(ctx, secondaryID, primaryID); err != nil {
		return util.NewTransientError("message repoint failed", err)
	}
	if err := s.tickets.Repoint(ctx, secondaryID, primaryID); err != nil {
		return util.NewTransientError("ticket repoint failed", err)
	}
	if err := s.conversations.Close(ctx, secondaryID, now); err != nil {
		return util.NewTransientError("secondary close failed", err)
	}

	s.logger.Info("merged conversations",
		zap.String("primary_id", primaryID),
		zap.String("secondary_id", secondaryID))
	s.publish(ctx, events.Event{
		Type: events.EventConversationsMerged,
		Payload: events.ConversationsMergedPayload{
			PrimaryID:   primaryID,
			SecondaryID: secondaryID,
		},
	})
	return nil
}

// RepairDuplicateSessions merges any concurrently opened conversations for the
// customer into the earliest one. Invoked opportunistically by the worker; a
// clean state is the common case.
func (s *SessionService) RepairDuplicateSessions(ctx context.Context, customerID string, now time.Time) error {
	active, err := s.conversations.ListActiveByCustomer(ctx, customerID)
	if err != nil {
		return util.NewTransientError("active conversation scan failed", err)
	}
	if len(active) < 2 {
		return nil
	}
	primary := active[0]
	for _, secondary := range active[1:] {
		if err := s.MergeConversations(ctx, primary.ID, secondary.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// RecordSentiment stores the latest overall sentiment on the conversation.
func (s *SessionService) RecordSentiment(ctx context.Context, conversationID string, sentiment float64) error {
	if err := s.conversations.UpdateSentiment(ctx, conversationID, sentiment); err != nil {
		return util.NewTransientError("conversation sentiment update failed", err)
	}
	return nil
}

// recordChannelSwitch appends a switch entry when the message channel differs
// from the conversation's current channel and emits the continuity signal.
func (s *SessionService) recordChannelSwitch(ctx context.Context, conv *domain.Conversation, channel domain.MessageChannel, now time.Time) error {
	current := conv.InitialChannel
	if n := len(conv.ChannelSwitches); n > 0 {
		current = conv.ChannelSwitches[n-1].To
	}
	if current == channel {
		return nil
	}

	sw := domain.ChannelSwitch{From: current, To: channel, At: now}
	if err := s.conversations.AppendChannelSwitch(ctx, conv.ID, sw); err != nil {
		return util.NewTransientError("channel switch record failed", err)
	}
	conv.ChannelSwitches = append(conv.ChannelSwitches, sw)

	s.logger.Info("customer switched channels",
		zap.String("conversation_id", conv.ID),
		zap.String("from", string(current)),
		zap.String("to", string(channel)))
	s.publish(ctx, events.Event{
		Type:       events.EventChannelSwitched,
		CustomerID: conv.CustomerID,
		Payload: events.ChannelSwitchedPayload{
			ConversationID: conv.ID,
			From:           current,
			To:             channel,
		},
	})
	return nil
}

func (s *SessionService) expireStaleConversations(ctx context.Context, customerID string, now time.Time) error {
	active, err := s.conversations.ListActiveByCustomer(ctx, customerID)
	if err != nil {
		return util.NewTransientError("active conversation scan failed", err)
	}
	for _, conv := range active {
		if !conv.WithinWindow(now, s.window) {
			if err := s.conversations.Close(ctx, conv.ID, now); err != nil {
				return util.NewTransientError("stale conversation close failed", err)
			}
			s.logger.Info("closed stale conversation", zap.String("conversation_id", conv.ID))
		}
	}
	return nil
}

func (s *SessionService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.Timestamp = time.Now()
	_ = s.dispatcher.Publish(ctx, event)
}
