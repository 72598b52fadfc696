// Package repository provides data persistence implementations for orders.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/minishop/orders/internal/database"
	apperrors "github.com/minishop/orders/internal/errors"
	"github.com/minishop/orders/internal/order/domain"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// PostgreSQLOrderRepository handles order persistence for PostgreSQL
type PostgreSQLOrderRepository struct {
	db *sql.DB
}

// NewPostgreSQLOrderRepository creates a new PostgreSQLOrderRepository
func NewPostgreSQLOrderRepository(db *sql.DB) *PostgreSQLOrderRepository {
	return &PostgreSQLOrderRepository{
		db: db,
	}
}

// Create inserts a new order. A unique violation on the idempotency key is
// converted to ErrConflict so concurrent identical requests surface as
// duplicates rather than generic failures.
func (r *PostgreSQLOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO orders (id, customer_id, total, status, idempotency_key, correlation_id, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := querier.ExecContext(ctx, query, order.ID, order.CustomerID, order.Total,
		order.Status, order.IdempotencyKey, order.CorrelationID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return apperrors.Wrap(apperrors.ErrConflict, "duplicate idempotency key")
	}

	return err
}

// GetByIdempotencyKey returns the order created under the given idempotency
// key, or ErrNotFound.
func (r *PostgreSQLOrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, customer_id, total, status, idempotency_key, correlation_id, last_error,
				  created_at, processed_at
			  FROM orders
			  WHERE idempotency_key = $1`

	var order domain.Order
	err := querier.QueryRowContext(ctx, query, key).Scan(&order.ID, &order.CustomerID, &order.Total,
		&order.Status, &order.IdempotencyKey, &order.CorrelationID, &order.LastError,
		&order.CreatedAt, &order.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}

	return &order, nil
}

// GetByID returns an order by its primary key, or ErrNotFound.
func (r *PostgreSQLOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, customer_id, total, status, idempotency_key, correlation_id, last_error,
				  created_at, processed_at
			  FROM orders
			  WHERE id = $1`

	var order domain.Order
	err := querier.QueryRowContext(ctx, query, id).Scan(&order.ID, &order.CustomerID, &order.Total,
		&order.Status, &order.IdempotencyKey, &order.CorrelationID, &order.LastError,
		&order.CreatedAt, &order.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}

	return &order, nil
}

// MarkProcessed finalizes an order. Already-processed orders are left
// untouched, which keeps redelivered events from rewriting the terminal state.
func (r *PostgreSQLOrderRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE orders
			  SET status = 'processed', processed_at = NOW(), last_error = NULL
			  WHERE id = $1 AND status <> 'processed'`

	_, err := querier.ExecContext(ctx, query, id)

	return err
}

// MarkFailed records the latest processing error against an unprocessed order.
func (r *PostgreSQLOrderRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE orders
			  SET last_error = $2
			  WHERE id = $1 AND status <> 'processed'`

	_, err := querier.ExecContext(ctx, query, id, lastError)

	return err
}
