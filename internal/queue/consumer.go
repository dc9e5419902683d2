package queue

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/config"
)

// Delivery is one raw entry pulled from the incoming stream. The payload is
// handed to the worker unparsed so malformed events can still be dead-lettered
// verbatim.
type Delivery struct {
	ID            string
	Payload       []byte
	Key           string
	CorrelationID string
}

// Consumer reads ingest.incoming through a consumer group with manual
// acknowledgement. Ack is the offset commit: until it is called the broker
// will redeliver the entry, which gives the pipeline its at-least-once
// contract.
type Consumer struct {
	rdb    *redis.Client
	cfg    config.QueueConfig
	logger *zap.Logger
}

// NewConsumer builds a consumer bound to the configured group and name.
func NewConsumer(rdb *redis.Client, cfg config.QueueConfig, logger *zap.Logger) *Consumer {
	return &Consumer{rdb: rdb, cfg: cfg, logger: logger}
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.IncomingStream, c.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Fetch blocks up to the configured poll timeout and returns at most one
// batch. An empty result is normal and keeps the loop responsive to shutdown.
func (c *Consumer) Fetch(ctx context.Context) ([]Delivery, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{c.cfg.IncomingStream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.PollTimeout(),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var deliveries []Delivery
	for _, stream := range streams {
		for _, message := range stream.Messages {
			deliveries = append(deliveries, toDelivery(message))
		}
	}
	return deliveries, nil
}

// Ack commits the entry so it is never redelivered.
func (c *Consumer) Ack(ctx context.Context, deliveryID string) error {
	return c.rdb.XAck(ctx, c.cfg.IncomingStream, c.cfg.ConsumerGroup, deliveryID).Err()
}

func toDelivery(message redis.XMessage) Delivery {
	d := Delivery{ID: message.ID}
	if payload, ok := message.Values[fieldPayload].(string); ok {
		d.Payload = []byte(payload)
	}
	if key, ok := message.Values[fieldKey].(string); ok {
		d.Key = key
	}
	if cid, ok := message.Values[fieldCorrelationID].(string); ok {
		d.CorrelationID = cid
	}
	return d
}
