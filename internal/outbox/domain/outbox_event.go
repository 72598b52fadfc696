// Package domain defines the core outbox domain entities and types.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OutboxEvent represents a pending, sent, or dead event in the transactional
// outbox. Rows are created in the same transaction as the business write,
// mutated only by the relay, and never deleted.
type OutboxEvent struct {
	ID             uuid.UUID
	AggregateType  string
	AggregateID    string
	EventType      string
	Topic          string
	Payload        string
	CorrelationID  string
	IdempotencyKey string
	Attempts       int
	MaxAttempts    int
	LockedAt       *time.Time
	LockedBy       *string
	NextAttemptAt  time.Time
	SentAt         *time.Time
	LastError      *string
	CreatedAt      time.Time
}

// ExhaustedAttempts reports whether the event has used up its delivery budget
// and must be dead-lettered instead of published.
func (e *OutboxEvent) ExhaustedAttempts() bool {
	return e.Attempts >= e.MaxAttempts
}
