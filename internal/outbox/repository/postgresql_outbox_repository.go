// Package repository provides data persistence implementations for outbox events.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/minishop/orders/internal/database"
	"github.com/minishop/orders/internal/outbox/domain"
)

// backoffCapMs is the upper bound for the relay's scheduled retry delay.
const backoffCapMs = 60000

// PostgreSQLOutboxEventRepository handles outbox event persistence for PostgreSQL
type PostgreSQLOutboxEventRepository struct {
	db *sql.DB
}

// NewPostgreSQLOutboxEventRepository creates a new PostgreSQLOutboxEventRepository
func NewPostgreSQLOutboxEventRepository(db *sql.DB) *PostgreSQLOutboxEventRepository {
	return &PostgreSQLOutboxEventRepository{
		db: db,
	}
}

// Create inserts a new outbox event. It participates in any transaction
// carried by the context, so the event co-commits with the business write.
func (r *PostgreSQLOutboxEventRepository) Create(ctx context.Context, event *domain.OutboxEvent) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, topic, payload,
				  correlation_id, idempotency_key, attempts, max_attempts, next_attempt_at, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`

	_, err := querier.ExecContext(ctx, query, event.ID, event.AggregateType, event.AggregateID,
		event.EventType, event.Topic, event.Payload, event.CorrelationID, event.IdempotencyKey,
		event.Attempts, event.MaxAttempts)

	return err
}

// ClaimBatch selects up to limit claimable events (unsent, due, and either
// unlocked or holding an expired lease), stamps them with the claimant's
// lease, and returns them. Rows locked by a concurrent claimant are skipped,
// so two relay instances never claim the same event. The claim runs in its
// own transaction regardless of the caller's context.
func (r *PostgreSQLOutboxEventRepository) ClaimBatch(
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
				AND next_attempt_at <= NOW()
				AND (locked_at IS NULL OR locked_at < NOW() - ($1 * INTERVAL '1 second'))
			  ORDER BY created_at ASC
			  FOR UPDATE SKIP LOCKED
			  LIMIT $2`

	rows, err := tx.QueryContext(ctx, query, leaseTTL.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var events []*domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent

		err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.EventType,
			&event.Topic, &event.Payload, &event.CorrelationID, &event.IdempotencyKey,
			&event.Attempts, &event.MaxAttempts, &event.LockedAt, &event.LockedBy,
			&event.NextAttemptAt, &event.SentAt, &event.LastError, &event.CreatedAt)
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

	ids := make([]uuid.UUID, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}

	stamp := `UPDATE outbox_events SET locked_at = NOW(), locked_by = $1 WHERE id = ANY($2)`
	if _, err := tx.ExecContext(ctx, stamp, leaseOwner, pq.Array(ids)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

// MarkSent records successful delivery and clears the lease. Calling it again
// for the same event is a no-op.
func (r *PostgreSQLOutboxEventRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET sent_at = NOW(), locked_at = NULL, locked_by = NULL
			  WHERE id = $1 AND sent_at IS NULL`

	_, err := querier.ExecContext(ctx, query, id)

	return err
}

// MarkFailed records a delivery failure, clears the lease, and schedules the
// next attempt with capped exponential backoff computed in the database so
// the increment and the schedule commit atomically.
func (r *PostgreSQLOutboxEventRepository) MarkFailed(
	ctx context.Context,
	id uuid.UUID,
	lastError string,
	baseBackoff time.Duration,
) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET attempts = attempts + 1,
				  last_error = $2,
				  locked_at = NULL,
				  locked_by = NULL,
				  next_attempt_at = NOW() + (LEAST($4, $3 * POWER(2, attempts)) * INTERVAL '1 millisecond')
			  WHERE id = $1`

	_, err := querier.ExecContext(ctx, query, id, lastError, baseBackoff.Milliseconds(), backoffCapMs)

	return err
}

// MarkDead permanently excludes the event from claiming by scheduling it at
// an unreachable future instant. The row stays queryable for audit.
func (r *PostgreSQLOutboxEventRepository) MarkDead(ctx context.Context, id uuid.UUID, lastError string) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET attempts = attempts + 1,
				  last_error = $2,
				  locked_at = NULL,
				  locked_by = NULL,
				  next_attempt_at = '9999-12-31 23:59:59Z'::timestamptz
			  WHERE id = $1`

	_, err := querier.ExecContext(ctx, query, id, lastError)

	return err
}

// GetByID returns a single outbox event for audit or reprocessing.
func (r *PostgreSQLOutboxEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, aggregate_type, aggregate_id, event_type, topic, payload, correlation_id,
				  idempotency_key, attempts, max_attempts, locked_at, locked_by, next_attempt_at,
				  sent_at, last_error, created_at
			  FROM outbox_events
			  WHERE id = $1`

	var event domain.OutboxEvent
	err := querier.QueryRowContext(ctx, query, id).Scan(&event.ID, &event.AggregateType,
		&event.AggregateID, &event.EventType, &event.Topic, &event.Payload, &event.CorrelationID,
		&event.IdempotencyKey, &event.Attempts, &event.MaxAttempts, &event.LockedAt, &event.LockedBy,
		&event.NextAttemptAt, &event.SentAt, &event.LastError, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &event, nil
}
