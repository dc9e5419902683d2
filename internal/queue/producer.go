package queue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/config"
)

// Stream entry field names shared by producer and consumer.
const (
	fieldPayload       = "payload"
	fieldKey           = "key"
	fieldCorrelationID = "correlation_id"
)

// Producer publishes pipeline events onto Redis streams.
type Producer struct {
	rdb    *redis.Client
	cfg    config.QueueConfig
	logger *zap.Logger
}

// NewProducer builds a stream producer.
func NewProducer(rdb *redis.Client, cfg config.QueueConfig, logger *zap.Logger) *Producer {
	return &Producer{rdb: rdb, cfg: cfg, logger: logger}
}

// PublishIncoming places a canonical inbound event on ingest.incoming.
func (p *Producer) PublishIncoming(ctx context.Context, event *IncomingEvent) (string, error) {
	return p.publish(ctx, p.cfg.IncomingStream, event, event.PartitionKey())
}

// PublishDeadLetter routes an exhausted or malformed event aside so the main
// stream keeps moving.
func (p *Producer) PublishDeadLetter(ctx context.Context, event *DeadLetterEvent) (string, error) {
	return p.publish(ctx, p.cfg.DeadLetterStream, event, "")
}

// PublishEscalation emits a human-handoff event. Called on every escalated
// transition, including idempotent re-escalations, to satisfy at-least-once
// delivery to the handoff channel.
func (p *Producer) PublishEscalation(ctx context.Context, event *EscalationEvent) (string, error) {
	return p.publish(ctx, p.cfg.EscalationsStream, event, "ticket-"+event.TicketID)
}

func (p *Producer) publish(ctx context.Context, stream string, payload any, key string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	correlationID := uuid.NewString()
	values := map[string]any{
		fieldPayload:       string(body),
		fieldCorrelationID: correlationID,
	}
	if key != "" {
		values[fieldKey] = key
	}

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", err
	}

	p.logger.Debug("published stream event",
		zap.String("stream", stream),
		zap.String("entry_id", id),
		zap.String("correlation_id", correlationID),
		zap.String("key", key))
	return id, nil
}
