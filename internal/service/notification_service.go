package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/events"
	"github.com/spec-kit/support-pipeline/internal/observability"
)

// NotificationService observes pipeline events for operator visibility and
// keeps the in-process counters current.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventCustomerCreated, n.handleLogged("CustomerCreated"))
	n.dispatcher.Subscribe(events.EventConversationOpened, n.handleLogged("ConversationOpened"))
	n.dispatcher.Subscribe(events.EventChannelSwitched, n.handleLogged("ChannelSwitched"))
	n.dispatcher.Subscribe(events.EventConversationsMerged, n.handleMerged)
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleLogged("TicketCreated"))
	n.dispatcher.Subscribe(events.EventTicketEscalated, n.handleEscalated)
	n.dispatcher.Subscribe(events.EventTicketResolved, n.handleLogged("TicketResolved"))
	n.dispatcher.Subscribe(events.EventMessageProcessed, n.handleProcessed)
}

func (n *NotificationService) handleLogged(name string) events.EventHandler {
	return func(ctx context.Context, event events.Event) error {
		n.logger.Info(name,
			zap.String("customer_id", event.CustomerID),
			zap.Any("payload", event.Payload))
		return nil
	}
}

func (n *NotificationService) handleEscalated(ctx context.Context, event events.Event) error {
	n.metrics.Inc(observability.MetricEscalations)
	n.logger.Info("TicketEscalated",
		zap.String("customer_id", event.CustomerID),
		zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleMerged(ctx context.Context, event events.Event) error {
	n.metrics.Inc(observability.MetricMerges)
	n.logger.Info("ConversationsMerged", zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleProcessed(ctx context.Context, event events.Event) error {
	n.metrics.Inc(observability.MetricProcessed)
	n.logger.Debug("MessageProcessed",
		zap.String("customer_id", event.CustomerID),
		zap.Any("payload", event.Payload))
	return nil
}
