package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-pipeline/internal/domain"
)

// MessageRepository manages the immutable message log.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	ExistsByDedupKey(ctx context.Context, channel domain.MessageChannel, channelMessageID string) (bool, error)
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error)
	Repoint(ctx context.Context, fromConversationID, toConversationID string) error
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds the repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	const query = `
        INSERT INTO messages (conversation_id, channel, direction, role, content, channel_message_id, delivery_status, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		msg.ConversationID,
		msg.Channel,
		msg.Direction,
		msg.Role,
		msg.Content,
		msg.ChannelMessageID,
		msg.DeliveryStatus,
		payload,
	).Scan(&msg.ID, &msg.CreatedAt)
}

// ExistsByDedupKey is the duplicate check. It hits the table directly rather
// than a cache so it survives restarts and works across concurrent workers.
func (r *messageRepository) ExistsByDedupKey(ctx context.Context, channel domain.MessageChannel, channelMessageID string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM messages WHERE channel=$1 AND channel_message_id=$2
        )`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, channel, channelMessageID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	const query = `
        SELECT id, conversation_id, channel, direction, role, content, channel_message_id,
               delivery_status, metadata, created_at
        FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		var metadata []byte
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Channel,
			&msg.Direction,
			&msg.Role,
			&msg.Content,
			&msg.ChannelMessageID,
			&msg.DeliveryStatus,
			&metadata,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return nil, err
			}
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

// Repoint moves all messages to another conversation. Rows keep their original
// created_at, so ordering by timestamp is preserved across a merge.
func (r *messageRepository) Repoint(ctx context.Context, fromConversationID, toConversationID string) error {
	const query = `UPDATE messages SET conversation_id=$1 WHERE conversation_id=$2`
	_, err := r.pool.Exec(ctx, query, toConversationID, fromConversationID)
	return err
}
