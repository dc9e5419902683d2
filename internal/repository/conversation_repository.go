package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-pipeline/internal/domain"
)

// ConversationRepository manages session persistence.
type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	FindActiveByCustomer(ctx context.Context, customerID string, startedAfter time.Time) (*domain.Conversation, error)
	ListActiveByCustomer(ctx context.Context, customerID string) ([]domain.Conversation, error)
	AppendChannelSwitch(ctx context.Context, conversationID string, sw domain.ChannelSwitch) error
	Close(ctx context.Context, conversationID string, endedAt time.Time) error
	UpdateSentiment(ctx context.Context, conversationID string, sentiment float64) error
}

type conversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository builds the repository.
func NewConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepository{pool: pool}
}

const conversationColumns = `id, customer_id, initial_channel, status, started_at, ended_at,
       overall_sentiment, channel_switches`

func (r *conversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	const query = `
        INSERT INTO conversations (customer_id, initial_channel, status, started_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id`
	return r.pool.QueryRow(ctx, query,
		conv.CustomerID,
		conv.InitialChannel,
		conv.Status,
		conv.StartedAt,
	).Scan(&conv.ID)
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanConversation(row)
}

// FindActiveByCustomer returns the most recent active conversation started
// after the window cutoff, or pgx.ErrNoRows.
func (r *conversationRepository) FindActiveByCustomer(ctx context.Context, customerID string, startedAfter time.Time) (*domain.Conversation, error) {
	query := `
        SELECT ` + conversationColumns + `
        FROM conversations
        WHERE customer_id=$1 AND status='active' AND started_at > $2
        ORDER BY started_at DESC
        LIMIT 1`
	row := r.pool.QueryRow(ctx, query, customerID, startedAfter)
	return scanConversation(row)
}

// ListActiveByCustomer returns all active conversations oldest first, so the
// first element is the merge primary.
func (r *conversationRepository) ListActiveByCustomer(ctx context.Context, customerID string) ([]domain.Conversation, error) {
	query := `
        SELECT ` + conversationColumns + `
        FROM conversations
        WHERE customer_id=$1 AND status='active'
        ORDER BY started_at ASC`
	rows, err := r.pool.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *conv)
	}
	return result, rows.Err()
}

func (r *conversationRepository) AppendChannelSwitch(ctx context.Context, conversationID string, sw domain.ChannelSwitch) error {
	payload, err := json.Marshal(sw)
	if err != nil {
		return err
	}
	const query = `
        UPDATE conversations
        SET channel_switches = channel_switches || $1::jsonb
        WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, payload, conversationID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Close marks the conversation closed. Closing an already-closed conversation
// affects zero rows and is reported as no error, which keeps merge idempotent.
func (r *conversationRepository) Close(ctx context.Context, conversationID string, endedAt time.Time) error {
	const query = `
        UPDATE conversations SET status='closed', ended_at=$1
        WHERE id=$2 AND status='active'`
	_, err := r.pool.Exec(ctx, query, endedAt, conversationID)
	return err
}

func (r *conversationRepository) UpdateSentiment(ctx context.Context, conversationID string, sentiment float64) error {
	const query = `UPDATE conversations SET overall_sentiment=$1 WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, sentiment, conversationID)
	return err
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	var switches []byte
	if err := row.Scan(
		&conv.ID,
		&conv.CustomerID,
		&conv.InitialChannel,
		&conv.Status,
		&conv.StartedAt,
		&conv.EndedAt,
		&conv.OverallSentiment,
		&switches,
	); err != nil {
		return nil, err
	}
	if len(switches) > 0 {
		if err := json.Unmarshal(switches, &conv.ChannelSwitches); err != nil {
			return nil, err
		}
	}
	return &conv, nil
}
