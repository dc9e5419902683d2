package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/domain"
	"github.com/spec-kit/support-pipeline/internal/repository"
)

// DedupGuard rejects redelivered events before any side-effecting work runs.
// It is an existence check against the message table, not a cache, so it
// survives restarts and is shared by concurrent workers.
type DedupGuard struct {
	messages repository.MessageRepository
	logger   *zap.Logger
}

// NewDedupGuard builds the guard.
func NewDedupGuard(messages repository.MessageRepository, logger *zap.Logger) *DedupGuard {
	return &DedupGuard{messages: messages, logger: logger}
}

// IsDuplicate reports whether (channel, channelMessageID) was already
// processed. On an ambiguous lookup failure the guard fails closed: the event
// is treated as non-duplicate and the unique constraint on the message insert
// acts as the final backstop. A false positive here would silently drop a
// customer message, which is never acceptable.
func (g *DedupGuard) IsDuplicate(ctx context.Context, channel domain.MessageChannel, channelMessageID string) bool {
	exists, err := g.messages.ExistsByDedupKey(ctx, channel, channelMessageID)
	if err != nil {
		g.logger.Warn("dedup lookup failed; treating as non-duplicate",
			zap.String("channel", string(channel)),
			zap.String("channel_message_id", channelMessageID),
			zap.Error(err))
		return false
	}
	if exists {
		g.logger.Info("duplicate message detected",
			zap.String("channel", string(channel)),
			zap.String("channel_message_id", channelMessageID))
	}
	return exists
}
