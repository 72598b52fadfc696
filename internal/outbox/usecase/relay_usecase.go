// Package usecase implements the outbox relay that moves pending events from
// the outbox table to the message broker.
package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/minishop/orders/internal/messaging"
	"github.com/minishop/orders/internal/metrics"
	"github.com/minishop/orders/internal/outbox/domain"
)

// Config holds relay configuration
type Config struct {
	Interval    time.Duration
	BatchSize   int
	LeaseOwner  string
	LeaseTTL    time.Duration
	BaseBackoff time.Duration
}

// OutboxEventRepository defines outbox event repository operations
type OutboxEventRepository interface {
	Create(ctx context.Context, event *domain.OutboxEvent) error
	ClaimBatch(ctx context.Context, limit int, leaseOwner string, leaseTTL time.Duration) ([]*domain.OutboxEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, baseBackoff time.Duration) error
	MarkDead(ctx context.Context, id uuid.UUID, lastError string) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxEvent, error)
}

// UseCase defines the interface for the relay
type UseCase interface {
	Start(ctx context.Context) error
	ProcessEvents(ctx context.Context) error
}

// RelayUseCase claims pending outbox events under a lease and publishes them
// to the broker. Multiple relay instances may run against the same table; the
// lease plus skip-locked claiming keeps them from processing the same row.
type RelayUseCase struct {
	config     Config
	outboxRepo OutboxEventRepository
	publisher  messaging.Publisher
	metrics    metrics.PipelineMetrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewRelayUseCase creates a new RelayUseCase
func NewRelayUseCase(
	config Config,
	outboxRepo OutboxEventRepository,
	publisher messaging.Publisher,
	pipelineMetrics metrics.PipelineMetrics,
	logger *slog.Logger,
) *RelayUseCase {
	return &RelayUseCase{
		config:     config,
		outboxRepo: outboxRepo,
		publisher:  publisher,
		metrics:    pipelineMetrics,
		logger:     logger,
		tracer:     otel.Tracer("outbox-relay"),
	}
}

// Start runs the polling loop until the context is cancelled.
func (uc *RelayUseCase) Start(ctx context.Context) error {
	if uc.logger != nil {
		uc.logger.Info("starting outbox relay",
			slog.Duration("interval", uc.config.Interval),
			slog.Int("batch_size", uc.config.BatchSize),
			slog.String("lease_owner", uc.config.LeaseOwner),
			slog.Duration("lease_ttl", uc.config.LeaseTTL),
		)
	}

	ticker := time.NewTicker(uc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if uc.logger != nil {
				uc.logger.Info("stopping outbox relay")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := uc.ProcessEvents(ctx); err != nil {
				if uc.logger != nil {
					uc.logger.Error("failed to process events", slog.Any("error", err))
				}
			}
		}
	}
}

// ProcessEvents claims one batch of due events and attempts delivery for each.
// Per-event failures are recorded against the event and do not abort the
// batch; an event claimed but unresolved at shutdown is recovered by lease
// expiry.
func (uc *RelayUseCase) ProcessEvents(ctx context.Context) error {
	events, err := uc.outboxRepo.ClaimBatch(ctx, uc.config.BatchSize, uc.config.LeaseOwner, uc.config.LeaseTTL)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	if uc.logger != nil {
		uc.logger.Info("claimed events", slog.Int("count", len(events)))
	}

	for _, event := range events {
		uc.deliverEvent(ctx, event)
	}

	return nil
}

// deliverEvent publishes a single claimed event, or dead-letters it when its
// attempt budget is already exhausted.
func (uc *RelayUseCase) deliverEvent(ctx context.Context, event *domain.OutboxEvent) {
	ctx, span := uc.tracer.Start(ctx, "outbox.deliver",
		trace.WithAttributes(
			attribute.String("event_id", event.ID.String()),
			attribute.String("event_type", event.EventType),
			attribute.String("correlation_id", event.CorrelationID),
			attribute.String("idempotency_key", event.IdempotencyKey),
			attribute.Int("attempts", event.Attempts),
		),
	)
	defer span.End()

	start := time.Now()
	outcome := "success"
	defer func() {
		uc.metrics.RecordPublishDuration(ctx, event.EventType, time.Since(start), outcome)
	}()

	if event.ExhaustedAttempts() {
		outcome = "dead"
		lastError := "delivery attempts exhausted"
		if event.LastError != nil {
			lastError = *event.LastError
		}

		if err := uc.outboxRepo.MarkDead(ctx, event.ID, lastError); err != nil {
			outcome = "error"
			if uc.logger != nil {
				uc.logger.Error("failed to mark event dead",
					slog.String("event_id", event.ID.String()),
					slog.Any("error", err),
				)
			}
			return
		}

		span.SetStatus(codes.Error, "dead-lettered")
		uc.metrics.RecordDeadLetter(ctx, event.EventType)
		if uc.logger != nil {
			uc.logger.Warn("event dead-lettered",
				slog.String("event_id", event.ID.String()),
				slog.String("event_type", event.EventType),
				slog.Int("attempts", event.Attempts),
			)
		}
		return
	}

	err := uc.publisher.Publish(ctx, messaging.Message{
		Topic:          event.Topic,
		Key:            event.AggregateID,
		Payload:        []byte(event.Payload),
		EventType:      event.EventType,
		CorrelationID:  event.CorrelationID,
		IdempotencyKey: event.IdempotencyKey,
	})
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		uc.metrics.RecordEventPublished(ctx, event.EventType, "error")

		if uc.logger != nil {
			uc.logger.Error("failed to publish event",
				slog.String("event_id", event.ID.String()),
				slog.String("event_type", event.EventType),
				slog.Any("error", err),
			)
		}

		if err := uc.outboxRepo.MarkFailed(ctx, event.ID, err.Error(), uc.config.BaseBackoff); err != nil {
			if uc.logger != nil {
				uc.logger.Error("failed to mark event failed",
					slog.String("event_id", event.ID.String()),
					slog.Any("error", err),
				)
			}
		}
		return
	}

	if err := uc.outboxRepo.MarkSent(ctx, event.ID); err != nil {
		// The publish succeeded; the unsent row will be claimed again after
		// lease expiry and the consumer deduplicates the extra delivery.
		if uc.logger != nil {
			uc.logger.Error("failed to mark event sent",
				slog.String("event_id", event.ID.String()),
				slog.Any("error", err),
			)
		}
		return
	}

	uc.metrics.RecordEventPublished(ctx, event.EventType, "success")
	if uc.logger != nil {
		uc.logger.Info("event published",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", event.EventType),
			slog.String("topic", event.Topic),
		)
	}
}
