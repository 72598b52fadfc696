package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/minishop/orders/internal/backoff"
	apperrors "github.com/minishop/orders/internal/errors"
	"github.com/minishop/orders/internal/event"
	"github.com/minishop/orders/internal/idempotency"
	"github.com/minishop/orders/internal/messaging"
	"github.com/minishop/orders/internal/metrics"
)

// ProcessorConfig holds consumer pipeline configuration
type ProcessorConfig struct {
	MaxAttempts int
	Backoff     backoff.Policy
}

// OrderProcessor executes the business effect for one orders.created event.
// Implementations must be safe to retry: the pipeline invokes Process up to
// MaxAttempts times for the same event.
type OrderProcessor interface {
	Process(ctx context.Context, evt *event.OrdersCreated) error
}

// ProcessorUseCase is the consumer side of the pipeline. It deduplicates
// deliveries, runs business processing with bounded retries, dead-letters
// exhausted events, and audits dead-letter topic traffic.
type ProcessorUseCase struct {
	config      ProcessorConfig
	orderRepo   OrderRepository
	processor   OrderProcessor
	publisher   messaging.Publisher
	idempotency *idempotency.Store
	metrics     metrics.PipelineMetrics
	logger      *slog.Logger
	tracer      trace.Tracer
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewProcessorUseCase creates a new ProcessorUseCase
func NewProcessorUseCase(
	config ProcessorConfig,
	orderRepo OrderRepository,
	processor OrderProcessor,
	publisher messaging.Publisher,
	idempotencyStore *idempotency.Store,
	pipelineMetrics metrics.PipelineMetrics,
	logger *slog.Logger,
) *ProcessorUseCase {
	return &ProcessorUseCase{
		config:      config,
		orderRepo:   orderRepo,
		processor:   processor,
		publisher:   publisher,
		idempotency: idempotencyStore,
		metrics:     pipelineMetrics,
		logger:      logger,
		tracer:      otel.Tracer("order-processor"),
		sleep:       backoff.SleepWithContext,
	}
}

// HandleMessage dispatches one delivered record. Malformed or schema-invalid
// payloads are logged and dropped; retrying cannot fix them.
func (uc *ProcessorUseCase) HandleMessage(ctx context.Context, msg *messaging.InboundMessage) error {
	if len(msg.Payload) == 0 {
		return nil
	}

	switch msg.Topic {
	case event.TopicOrdersCreatedDeadLetter:
		uc.auditDeadLetter(ctx, msg.Payload)
		return nil
	case event.TopicOrdersCreated:
		evt, err := event.ParseOrdersCreated(msg.Payload)
		if err != nil {
			if uc.logger != nil {
				uc.logger.Error("dropping invalid payload",
					slog.String("topic", msg.Topic),
					slog.Any("error", err),
				)
			}
			return nil
		}
		return uc.ProcessWithRetry(ctx, evt)
	default:
		if uc.logger != nil {
			uc.logger.Warn("unexpected topic", slog.String("topic", msg.Topic))
		}
		return nil
	}
}

// ProcessWithRetry runs business processing for one orders.created event with
// up to MaxAttempts sequential attempts and capped, jittered backoff between
// them. Exhaustion ends in a dead-letter emission, never an error.
func (uc *ProcessorUseCase) ProcessWithRetry(ctx context.Context, evt *event.OrdersCreated) error {
	ctx, span := uc.tracer.Start(ctx, "order.process",
		trace.WithAttributes(
			attribute.String("event_id", evt.EventID),
			attribute.String("event_type", evt.Type),
			attribute.String("correlation_id", evt.CorrelationID),
			attribute.String("idempotency_key", evt.IdempotencyKey),
			attribute.String("order_id", evt.Data.OrderID),
		),
	)
	defer span.End()

	key := evt.Type + ":" + evt.IdempotencyKey
	if _, ok := uc.idempotency.Get(key); ok {
		if uc.logger != nil {
			uc.logger.Warn("skipping duplicate delivery",
				slog.String("order_id", evt.Data.OrderID),
				slog.String("idempotency_key", evt.IdempotencyKey),
			)
		}
		span.SetAttributes(attribute.Bool("duplicate", true))
		return nil
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= uc.config.MaxAttempts; attempt++ {
		lastErr = uc.processor.Process(ctx, evt)
		if lastErr == nil {
			uc.idempotency.Set(key, time.Now().UTC())
			uc.metrics.RecordOrderProcessed(ctx)
			uc.metrics.RecordProcessingDuration(ctx, evt.Type, time.Since(start), "success")

			if uc.logger != nil {
				uc.logger.Info("order processed",
					slog.String("order_id", evt.Data.OrderID),
					slog.String("correlation_id", evt.CorrelationID),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}

		uc.recordAttemptFailure(ctx, evt, lastErr, attempt)

		if attempt < uc.config.MaxAttempts {
			if err := uc.sleep(ctx, uc.config.Backoff.Delay(attempt)); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "cancelled during backoff")
				return err
			}
		}
	}

	uc.metrics.RecordProcessingDuration(ctx, evt.Type, time.Since(start), "error")
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retry budget exhausted")

	return uc.deadLetter(ctx, evt, lastErr)
}

// recordAttemptFailure persists the failure against the order row and bumps
// the retry metric.
func (uc *ProcessorUseCase) recordAttemptFailure(
	ctx context.Context,
	evt *event.OrdersCreated,
	procErr error,
	attempt int,
) {
	uc.metrics.RecordRetry(ctx, evt.Type)

	if uc.logger != nil {
		uc.logger.Error("processing attempt failed",
			slog.String("order_id", evt.Data.OrderID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", uc.config.MaxAttempts),
			slog.Any("error", procErr),
		)
	}

	orderID, err := uuid.Parse(evt.Data.OrderID)
	if err != nil {
		return
	}
	if err := uc.orderRepo.MarkFailed(ctx, orderID, procErr.Error()); err != nil {
		if uc.logger != nil {
			uc.logger.Error("failed to persist order error",
				slog.String("order_id", evt.Data.OrderID),
				slog.Any("error", err),
			)
		}
	}
}

// deadLetter publishes the dead-letter envelope for an exhausted event. This
// is the terminal non-error outcome of the retry loop.
func (uc *ProcessorUseCase) deadLetter(ctx context.Context, evt *event.OrdersCreated, procErr error) error {
	dlq := event.OrdersCreatedDeadLetter{
		EventID:        uuid.NewString(),
		Type:           event.TypeOrdersCreatedDeadLetter,
		OccurredAt:     time.Now().UTC(),
		CorrelationID:  evt.CorrelationID,
		IdempotencyKey: evt.IdempotencyKey,
		Attempts:       uc.config.MaxAttempts,
		Error:          event.ErrorInfo{Message: procErr.Error()},
		OriginalEvent:  *evt,
	}

	payload, err := json.Marshal(dlq)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal dead-letter envelope")
	}

	err = uc.publisher.Publish(ctx, messaging.Message{
		Topic:          event.TopicOrdersCreatedDeadLetter,
		Key:            evt.Data.OrderID,
		Payload:        payload,
		EventType:      event.TypeOrdersCreatedDeadLetter,
		CorrelationID:  evt.CorrelationID,
		IdempotencyKey: evt.IdempotencyKey,
	})
	if err != nil {
		return apperrors.Wrap(err, "failed to publish dead-letter envelope")
	}

	uc.metrics.RecordDeadLetter(ctx, evt.Type)
	if uc.logger != nil {
		uc.logger.Warn("event dead-lettered",
			slog.String("order_id", evt.Data.OrderID),
			slog.String("correlation_id", evt.CorrelationID),
			slog.Int("attempts", uc.config.MaxAttempts),
			slog.String("error", procErr.Error()),
		)
	}

	return nil
}

// auditDeadLetter validates and logs dead-letter traffic. Dead-lettered
// events are never re-injected automatically; re-injection is an explicit
// administrative action.
func (uc *ProcessorUseCase) auditDeadLetter(ctx context.Context, payload []byte) {
	dlq, err := event.ParseOrdersCreatedDeadLetter(payload)
	if err != nil {
		if uc.logger != nil {
			uc.logger.Error("invalid dead-letter payload", slog.Any("error", err))
		}
		return
	}

	_, span := uc.tracer.Start(ctx, "order.deadletter.audit",
		trace.WithAttributes(
			attribute.String("event_id", dlq.EventID),
			attribute.String("correlation_id", dlq.CorrelationID),
			attribute.Int("attempts", dlq.Attempts),
		),
	)
	defer span.End()

	if uc.logger != nil {
		uc.logger.Warn("dead-letter message received",
			slog.String("correlation_id", dlq.CorrelationID),
			slog.String("order_id", dlq.OriginalEvent.Data.OrderID),
			slog.Int("attempts", dlq.Attempts),
			slog.String("error", dlq.Error.Message),
		)
	}
}

// ReprocessDeadLetter resubmits a dead-lettered envelope's original event to
// the orders-created topic, carrying forward its correlation and idempotency
// keys. This is the only sanctioned path out of the dead-letter state.
func (uc *ProcessorUseCase) ReprocessDeadLetter(ctx context.Context, payload []byte) error {
	dlq, err := event.ParseOrdersCreatedDeadLetter(payload)
	if err != nil {
		return err
	}

	original, err := json.Marshal(dlq.OriginalEvent)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal original event")
	}

	err = uc.publisher.Publish(ctx, messaging.Message{
		Topic:          event.TopicOrdersCreated,
		Key:            dlq.OriginalEvent.Data.OrderID,
		Payload:        original,
		EventType:      dlq.OriginalEvent.Type,
		CorrelationID:  dlq.OriginalEvent.CorrelationID,
		IdempotencyKey: dlq.OriginalEvent.IdempotencyKey,
	})
	if err != nil {
		return apperrors.Wrap(err, "failed to republish original event")
	}

	if uc.logger != nil {
		uc.logger.Info("dead-letter reprocessed",
			slog.String("order_id", dlq.OriginalEvent.Data.OrderID),
			slog.String("correlation_id", dlq.OriginalEvent.CorrelationID),
		)
	}

	return nil
}

// DefaultOrderProcessor is the production business effect: emit the
// orders.processed event and finalize the order row.
type DefaultOrderProcessor struct {
	orderRepo OrderRepository
	publisher messaging.Publisher
	logger    *slog.Logger
}

// NewDefaultOrderProcessor creates a new DefaultOrderProcessor
func NewDefaultOrderProcessor(
	orderRepo OrderRepository,
	publisher messaging.Publisher,
	logger *slog.Logger,
) *DefaultOrderProcessor {
	return &DefaultOrderProcessor{
		orderRepo: orderRepo,
		publisher: publisher,
		logger:    logger,
	}
}

// Process publishes the orders.processed envelope and marks the order row
// processed. Safe to retry: the processed-status update is guarded and the
// downstream consumer deduplicates the emitted event.
func (p *DefaultOrderProcessor) Process(ctx context.Context, evt *event.OrdersCreated) error {
	orderID, err := uuid.Parse(evt.Data.OrderID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "invalid order id: "+evt.Data.OrderID)
	}

	processed := event.OrdersProcessed{
		EventID:        uuid.NewString(),
		Type:           event.TypeOrdersProcessed,
		OccurredAt:     time.Now().UTC(),
		CorrelationID:  evt.CorrelationID,
		IdempotencyKey: evt.IdempotencyKey,
		Data: event.OrdersProcessedData{
			OrderID: evt.Data.OrderID,
			Status:  "processed",
		},
	}
	if err := processed.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(processed)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal orders.processed envelope")
	}

	err = p.publisher.Publish(ctx, messaging.Message{
		Topic:          event.TopicOrdersProcessed,
		Key:            evt.Data.OrderID,
		Payload:        payload,
		EventType:      event.TypeOrdersProcessed,
		CorrelationID:  evt.CorrelationID,
		IdempotencyKey: evt.IdempotencyKey,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransient, "failed to publish orders.processed: "+err.Error())
	}

	if err := p.orderRepo.MarkProcessed(ctx, orderID); err != nil {
		return err
	}

	if p.logger != nil {
		p.logger.Info("published orders.processed",
			slog.String("order_id", evt.Data.OrderID),
			slog.String("correlation_id", evt.CorrelationID),
		)
	}

	return nil
}
