package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-pipeline/internal/domain"
)

// TicketRepository encapsulates ticket persistence. Status changes go through
// single-row compare-and-swap statements so concurrent workers cannot apply a
// transition twice.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetLatestByConversation(ctx context.Context, conversationID string) (*domain.Ticket, error)
	EscalateCAS(ctx context.Context, id string, reason domain.EscalationReason, priority domain.TicketPriority) (bool, error)
	ResolveCAS(ctx context.Context, id string, resolvedAt time.Time) (bool, error)
	MarkInProgressCAS(ctx context.Context, id string) (bool, error)
	Repoint(ctx context.Context, fromConversationID, toConversationID string) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, conversation_id, customer_id, source_channel, category, priority,
       status, escalation_reason, created_at, resolved_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (conversation_id, customer_id, source_channel, category, priority, status, escalation_reason)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.ConversationID,
		ticket.CustomerID,
		ticket.SourceChannel,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.EscalationReason,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetLatestByConversation(ctx context.Context, conversationID string) (*domain.Ticket, error) {
	query := `
        SELECT ` + ticketColumns + `
        FROM tickets WHERE conversation_id=$1
        ORDER BY created_at DESC
        LIMIT 1`
	return r.fetchSingle(ctx, query, conversationID)
}

// EscalateCAS moves the ticket to escalated if and only if it is still open or
// in progress. Returns false when the guard did not match, which lets the
// caller keep escalation idempotent without double-incrementing counters.
func (r *ticketRepository) EscalateCAS(ctx context.Context, id string, reason domain.EscalationReason, priority domain.TicketPriority) (bool, error) {
	const query = `
        UPDATE tickets
        SET status='escalated', escalation_reason=$1, priority=$2, updated_at=NOW()
        WHERE id=$3 AND status IN ('open','in_progress')`
	cmd, err := r.pool.Exec(ctx, query, reason, priority, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// ResolveCAS applies the external resolution hook.
func (r *ticketRepository) ResolveCAS(ctx context.Context, id string, resolvedAt time.Time) (bool, error) {
	const query = `
        UPDATE tickets
        SET status='resolved', resolved_at=$1, updated_at=NOW()
        WHERE id=$2 AND status IN ('open','in_progress')`
	cmd, err := r.pool.Exec(ctx, query, resolvedAt, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) MarkInProgressCAS(ctx context.Context, id string) (bool, error) {
	const query = `
        UPDATE tickets SET status='in_progress', updated_at=NOW()
        WHERE id=$1 AND status='open'`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// Repoint moves tickets between conversations during a merge.
func (r *ticketRepository) Repoint(ctx context.Context, fromConversationID, toConversationID string) error {
	const query = `UPDATE tickets SET conversation_id=$1, updated_at=NOW() WHERE conversation_id=$2`
	_, err := r.pool.Exec(ctx, query, toConversationID, fromConversationID)
	return err
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&ticket.ID,
		&ticket.ConversationID,
		&ticket.CustomerID,
		&ticket.SourceChannel,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.EscalationReason,
		&ticket.CreatedAt,
		&ticket.ResolvedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
