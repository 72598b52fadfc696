package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minishop/orders/internal/database"
	"github.com/minishop/orders/internal/outbox/domain"
)

// mysqlDeadSentinel is the unreachable future instant used to exclude dead
// events from claiming.
const mysqlDeadSentinel = "9999-12-31 23:59:59"

// MySQLOutboxEventRepository handles outbox event persistence for MySQL
type MySQLOutboxEventRepository struct {
	db *sql.DB
}

// NewMySQLOutboxEventRepository creates a new MySQLOutboxEventRepository
func NewMySQLOutboxEventRepository(db *sql.DB) *MySQLOutboxEventRepository {
	return &MySQLOutboxEventRepository{
		db: db,
	}
}

// Create inserts a new outbox event. It participates in any transaction
// carried by the context, so the event co-commits with the business write.
func (r *MySQLOutboxEventRepository) Create(ctx context.Context, event *domain.OutboxEvent) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, topic, payload,
				  correlation_id, idempotency_key, attempts, max_attempts, next_attempt_at, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`

	_, err := querier.ExecContext(ctx, query, event.ID.String(), event.AggregateType, event.AggregateID,
		event.EventType, event.Topic, event.Payload, event.CorrelationID, event.IdempotencyKey,
		event.Attempts, event.MaxAttempts)

	return err
}

// ClaimBatch selects up to limit claimable events, stamps them with the
// claimant's lease, and returns them. Requires MySQL 8.0 for SKIP LOCKED.
func (r *MySQLOutboxEventRepository) ClaimBatch(
	ctx context.Context,
	limit int,
	leaseOwner string,
	leaseTTL time.Duration,
) ([]*domain.OutboxEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	query := `SELECT id, aggregate_type, aggregate_id, event_type, topic, payload, correlation_id,
				  idempotency_key, attempts, max_attempts, locked_at, locked_by, next_attempt_at,
				  sent_at, last_error, created_at
			  FROM outbox_events
			  WHERE sent_at IS NULL
				AND next_attempt_at <= NOW(6)
				AND (locked_at IS NULL OR locked_at < NOW(6) - INTERVAL ? SECOND)
			  ORDER BY created_at ASC
			  LIMIT ?
			  FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryContext(ctx, query, int(leaseTTL.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var events []*domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		var id string

		err := rows.Scan(&id, &event.AggregateType, &event.AggregateID, &event.EventType,
			&event.Topic, &event.Payload, &event.CorrelationID, &event.IdempotencyKey,
			&event.Attempts, &event.MaxAttempts, &event.LockedAt, &event.LockedBy,
			&event.NextAttemptAt, &event.SentAt, &event.LastError, &event.CreatedAt)
		if err != nil {
			return nil, err
		}

		event.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, tx.Commit()
	}

	args := make([]any, 0, len(events)+1)
	args = append(args, leaseOwner)
	placeholders := make([]string, len(events))
	for i, event := range events {
		placeholders[i] = "?"
		args = append(args, event.ID.String())
	}

	stamp := `UPDATE outbox_events SET locked_at = NOW(6), locked_by = ? WHERE id IN (` +
		strings.Join(placeholders, ", ") + `)`
	if _, err := tx.ExecContext(ctx, stamp, args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

// MarkSent records successful delivery and clears the lease. Calling it again
// for the same event is a no-op.
func (r *MySQLOutboxEventRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET sent_at = NOW(6), locked_at = NULL, locked_by = NULL
			  WHERE id = ? AND sent_at IS NULL`

	_, err := querier.ExecContext(ctx, query, id.String())

	return err
}

// MarkFailed records a delivery failure, clears the lease, and schedules the
// next attempt with capped exponential backoff computed in the database.
func (r *MySQLOutboxEventRepository) MarkFailed(
	ctx context.Context,
	id uuid.UUID,
	lastError string,
	baseBackoff time.Duration,
) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET attempts = attempts + 1,
				  last_error = ?,
				  locked_at = NULL,
				  locked_by = NULL,
				  next_attempt_at = NOW(6) + INTERVAL (LEAST(?, ? * POW(2, attempts)) / 1000) SECOND
			  WHERE id = ?`

	_, err := querier.ExecContext(ctx, query, lastError, backoffCapMs, baseBackoff.Milliseconds(), id.String())

	return err
}

// MarkDead permanently excludes the event from claiming by scheduling it at
// an unreachable future instant. The row stays queryable for audit.
func (r *MySQLOutboxEventRepository) MarkDead(ctx context.Context, id uuid.UUID, lastError string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET attempts = attempts + 1,
				  last_error = ?,
				  locked_at = NULL,
				  locked_by = NULL,
				  next_attempt_at = ?
			  WHERE id = ?`

	_, err := querier.ExecContext(ctx, query, lastError, mysqlDeadSentinel, id.String())

	return err
}

// GetByID returns a single outbox event for audit or reprocessing.
func (r *MySQLOutboxEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, aggregate_type, aggregate_id, event_type, topic, payload, correlation_id,
				  idempotency_key, attempts, max_attempts, locked_at, locked_by, next_attempt_at,
				  sent_at, last_error, created_at
			  FROM outbox_events
			  WHERE id = ?`

	var event domain.OutboxEvent
	var rawID string
	err := querier.QueryRowContext(ctx, query, id.String()).Scan(&rawID, &event.AggregateType,
		&event.AggregateID, &event.EventType, &event.Topic, &event.Payload, &event.CorrelationID,
		&event.IdempotencyKey, &event.Attempts, &event.MaxAttempts, &event.LockedAt, &event.LockedBy,
		&event.NextAttemptAt, &event.SentAt, &event.LastError, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	event.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, err
	}

	return &event, nil
}
