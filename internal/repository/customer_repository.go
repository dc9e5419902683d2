package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-pipeline/internal/domain"
)

// CustomerRepository encapsulates customer and identifier persistence.
type CustomerRepository interface {
	CreateWithIdentifier(ctx context.Context, customer *domain.Customer, ident *domain.Identifier) error
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
	GetByIdentifier(ctx context.Context, identType domain.IdentifierType, value string) (*domain.Customer, error)
	GetByAnyIdentifier(ctx context.Context, email, phone, whatsapp *string) (*domain.Customer, error)
	AddIdentifier(ctx context.Context, ident *domain.Identifier) error
	RecordContact(ctx context.Context, customerID string, at time.Time) error
	UpdateSentiment(ctx context.Context, customerID string, score float64) error
	IncrementEscalations(ctx context.Context, customerID string) error
}

type customerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a Postgres-backed implementation.
func NewCustomerRepository(pool *pgxpool.Pool) CustomerRepository {
	return &customerRepository{pool: pool}
}

const customerColumns = `id, name, primary_email, primary_phone, sentiment_score,
       total_interactions, escalation_count, first_contact_at, last_contact_at,
       created_at, updated_at`

const customerJoinedColumns = `c.id, c.name, c.primary_email, c.primary_phone, c.sentiment_score,
       c.total_interactions, c.escalation_count, c.first_contact_at, c.last_contact_at,
       c.created_at, c.updated_at`

// CreateWithIdentifier inserts the customer and its first identifier in one
// transaction. A unique violation on the identifier means a concurrent worker
// won the race; the caller re-queries and adopts the winner.
func (r *customerRepository) CreateWithIdentifier(ctx context.Context, customer *domain.Customer, ident *domain.Identifier) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const customerQuery = `
        INSERT INTO customers (name, primary_email, primary_phone, sentiment_score, first_contact_at, last_contact_at)
        VALUES ($1,$2,$3,$4,$5,$5)
        RETURNING id, created_at, updated_at`
	if err := tx.QueryRow(ctx, customerQuery,
		customer.Name,
		customer.PrimaryEmail,
		customer.PrimaryPhone,
		customer.SentimentScore,
		customer.FirstContactAt,
	).Scan(&customer.ID, &customer.CreatedAt, &customer.UpdatedAt); err != nil {
		return err
	}

	const identQuery = `
        INSERT INTO customer_identifiers (customer_id, identifier_type, identifier_value, verified)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	ident.CustomerID = customer.ID
	if err := tx.QueryRow(ctx, identQuery,
		ident.CustomerID,
		ident.Type,
		ident.Value,
		ident.Verified,
	).Scan(&ident.ID, &ident.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *customerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *customerRepository) GetByIdentifier(ctx context.Context, identType domain.IdentifierType, value string) (*domain.Customer, error) {
	query := `
        SELECT ` + customerJoinedColumns + `
        FROM customers c
        JOIN customer_identifiers ci ON ci.customer_id = c.id
        WHERE ci.identifier_type=$1 AND ci.identifier_value=$2
        LIMIT 1`
	return r.fetchSingle(ctx, query, identType, value)
}

func (r *customerRepository) GetByAnyIdentifier(ctx context.Context, email, phone, whatsapp *string) (*domain.Customer, error) {
	query := `
        SELECT ` + customerJoinedColumns + `
        FROM customers c
        JOIN customer_identifiers ci ON ci.customer_id = c.id
        WHERE (ci.identifier_type='email' AND ci.identifier_value=$1)
           OR (ci.identifier_type='phone' AND ci.identifier_value=$2)
           OR (ci.identifier_type='whatsapp' AND ci.identifier_value=$3)
        ORDER BY c.created_at ASC
        LIMIT 1`
	return r.fetchSingle(ctx, query, email, phone, whatsapp)
}

func (r *customerRepository) AddIdentifier(ctx context.Context, ident *domain.Identifier) error {
	const query = `
        INSERT INTO customer_identifiers (customer_id, identifier_type, identifier_value, verified)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		ident.CustomerID,
		ident.Type,
		ident.Value,
		ident.Verified,
	).Scan(&ident.ID, &ident.CreatedAt)
}

func (r *customerRepository) RecordContact(ctx context.Context, customerID string, at time.Time) error {
	const query = `
        UPDATE customers
        SET total_interactions = total_interactions + 1,
            first_contact_at = COALESCE(first_contact_at, $1),
            last_contact_at = $1,
            updated_at = NOW()
        WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, at, customerID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateSentiment folds a new reading into the rolling score, weighting the
// latest signal at 30%.
func (r *customerRepository) UpdateSentiment(ctx context.Context, customerID string, score float64) error {
	const query = `
        UPDATE customers
        SET sentiment_score = sentiment_score * 0.7 + $1 * 0.3, updated_at = NOW()
        WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, score, customerID)
	return err
}

func (r *customerRepository) IncrementEscalations(ctx context.Context, customerID string) error {
	const query = `
        UPDATE customers SET escalation_count = escalation_count + 1, updated_at = NOW()
        WHERE id=$1`
	_, err := r.pool.Exec(ctx, query, customerID)
	return err
}

func (r *customerRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Customer, error) {
	var customer domain.Customer
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&customer.ID,
		&customer.Name,
		&customer.PrimaryEmail,
		&customer.PrimaryPhone,
		&customer.SentimentScore,
		&customer.TotalInteractions,
		&customer.EscalationCount,
		&customer.FirstContactAt,
		&customer.LastContactAt,
		&customer.CreatedAt,
		&customer.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &customer, nil
}
