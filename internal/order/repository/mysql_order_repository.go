package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/minishop/orders/internal/database"
	apperrors "github.com/minishop/orders/internal/errors"
	"github.com/minishop/orders/internal/order/domain"
)

// mysqlDuplicateEntry is the MySQL error number for duplicate key violations.
const mysqlDuplicateEntry = 1062

// MySQLOrderRepository handles order persistence for MySQL
type MySQLOrderRepository struct {
	db *sql.DB
}

// NewMySQLOrderRepository creates a new MySQLOrderRepository
func NewMySQLOrderRepository(db *sql.DB) *MySQLOrderRepository {
	return &MySQLOrderRepository{
		db: db,
	}
}

// Create inserts a new order. A duplicate key violation on the idempotency
// key is converted to ErrConflict.
func (r *MySQLOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO orders (id, customer_id, total, status, idempotency_key, correlation_id, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, NOW(6))`

	_, err := querier.ExecContext(ctx, query, order.ID.String(), order.CustomerID, order.Total,
		order.Status, order.IdempotencyKey, order.CorrelationID)

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return apperrors.Wrap(apperrors.ErrConflict, "duplicate idempotency key")
	}

	return err
}

// GetByIdempotencyKey returns the order created under the given idempotency
// key, or ErrNotFound.
func (r *MySQLOrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, customer_id, total, status, idempotency_key, correlation_id, last_error,
				  created_at, processed_at
			  FROM orders
			  WHERE idempotency_key = ?`

	return scanOrder(querier.QueryRowContext(ctx, query, key))
}

// GetByID returns an order by its primary key, or ErrNotFound.
func (r *MySQLOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, customer_id, total, status, idempotency_key, correlation_id, last_error,
				  created_at, processed_at
			  FROM orders
			  WHERE id = ?`

	return scanOrder(querier.QueryRowContext(ctx, query, id.String()))
}

// MarkProcessed finalizes an order. Already-processed orders are left untouched.
func (r *MySQLOrderRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE orders
			  SET status = 'processed', processed_at = NOW(6), last_error = NULL
			  WHERE id = ? AND status <> 'processed'`

	_, err := querier.ExecContext(ctx, query, id.String())

	return err
}

// MarkFailed records the latest processing error against an unprocessed order.
func (r *MySQLOrderRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE orders
			  SET last_error = ?
			  WHERE id = ? AND status <> 'processed'`

	_, err := querier.ExecContext(ctx, query, lastError, id.String())

	return err
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var order domain.Order
	var rawID string

	err := row.Scan(&rawID, &order.CustomerID, &order.Total, &order.Status, &order.IdempotencyKey,
		&order.CorrelationID, &order.LastError, &order.CreatedAt, &order.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}

	order.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, err
	}

	return &order, nil
}
