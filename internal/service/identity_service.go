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

const defaultSentiment = 0.5

// IdentityService resolves external identifiers to a stable customer.
type IdentityService struct {
	customers  repository.CustomerRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewIdentityService constructs the service.
func NewIdentityService(customers repository.CustomerRepository, dispatcher events.Dispatcher, logger *zap.Logger) *IdentityService {
	return &IdentityService{customers: customers, dispatcher: dispatcher, logger: logger}
}

// ResolveOrCreateCustomer finds the customer owning (identType, value) or
// creates one atomically. Two workers racing on the same new identifier are
// resolved by the uniqueness constraint: the loser adopts the winner's row
// instead of creating a duplicate.
func (s *IdentityService) ResolveOrCreateCustomer(ctx context.Context, identType domain.IdentifierType, value string, displayName *string, now time.Time) (*domain.Customer, error) {
	customer, err := s.customers.GetByIdentifier(ctx, identType, value)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, util.NewTransientError("identity lookup failed", err)
	}

	fresh := &domain.Customer{
		Name:           displayName,
		SentimentScore: defaultSentiment,
		FirstContactAt: &now,
		LastContactAt:  &now,
	}
	switch identType {
	case domain.IdentifierTypeEmail:
		fresh.PrimaryEmail = &value
	case domain.IdentifierTypePhone, domain.IdentifierTypeWhatsApp:
		fresh.PrimaryPhone = &value
	}
	ident := &domain.Identifier{Type: identType, Value: value}

	if err := s.customers.CreateWithIdentifier(ctx, fresh, ident); err != nil {
		if repository.IsUniqueViolation(err) {
			// Lost the race; adopt the winner.
			winner, lookupErr := s.customers.GetByIdentifier(ctx, identType, value)
			if lookupErr != nil {
				// The race itself is settled; only the re-read failed,
				// so the next attempt can still adopt the winner.
				return nil, util.NewTransientError("identifier race lost and winner lookup failed", lookupErr)
			}
			s.logger.Info("adopted concurrently created customer",
				zap.String("customer_id", winner.ID),
				zap.String("identifier_type", string(identType)))
			return winner, nil
		}
		return nil, util.NewTransientError("customer creation failed", err)
	}

	s.logger.Info("created customer",
		zap.String("customer_id", fresh.ID),
		zap.String("identifier_type", string(identType)))
	s.publish(ctx, events.Event{
		Type:       events.EventCustomerCreated,
		CustomerID: fresh.ID,
		Payload: events.CustomerCreatedPayload{
			IdentifierType:  identType,
			IdentifierValue: value,
		},
	})
	return fresh, nil
}

// ResolveByAnyIdentifier supports cross-channel recognition: a webform
// submission whose email matches a customer already known by phone resolves to
// the same customer. Returns nil without error when nothing matches.
func (s *IdentityService) ResolveByAnyIdentifier(ctx context.Context, email, phone, whatsapp *string) (*domain.Customer, error) {
	customer, err := s.customers.GetByAnyIdentifier(ctx, email, phone, whatsapp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, util.NewTransientError("identity lookup failed", err)
	}
	return customer, nil
}

// LinkIdentifier attaches an additional identifier to an existing customer.
// Losing a race to another worker is fine as long as the identifier ended up
// on the same customer; anything else is a conflict for the caller to resolve.
func (s *IdentityService) LinkIdentifier(ctx context.Context, customerID string, identType domain.IdentifierType, value string) error {
	ident := &domain.Identifier{CustomerID: customerID, Type: identType, Value: value}
	if err := s.customers.AddIdentifier(ctx, ident); err != nil {
		if repository.IsUniqueViolation(err) {
			owner, lookupErr := s.customers.GetByIdentifier(ctx, identType, value)
			if lookupErr == nil && owner.ID == customerID {
				return nil
			}
			return util.NewConflictError("identifier owned by another customer", err)
		}
		return util.NewTransientError("identifier link failed", err)
	}
	return nil
}

// RecordContact bumps interaction counters and contact timestamps.
func (s *IdentityService) RecordContact(ctx context.Context, customerID string, at time.Time) error {
	if err := s.customers.RecordContact(ctx, customerID, at); err != nil {
		return util.NewTransientError("contact update failed", err)
	}
	return nil
}

// ApplySentiment folds an external sentiment reading into the rolling score.
func (s *IdentityService) ApplySentiment(ctx context.Context, customerID string, score float64) error {
	if err := s.customers.UpdateSentiment(ctx, customerID, score); err != nil {
		return util.NewTransientError("sentiment update failed", err)
	}
	return nil
}

func (s *IdentityService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.Timestamp = time.Now()
	_ = s.dispatcher.Publish(ctx, event)
}
