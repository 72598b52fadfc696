package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics defines the counters and histograms recorded across the
// order event pipeline: order intake, relay publishing, consumer processing,
// retries, and dead-lettering.
type PipelineMetrics interface {
	// RecordOrderCreated increments the created-orders counter.
	RecordOrderCreated(ctx context.Context)

	// RecordOrderProcessed increments the processed-orders counter.
	RecordOrderProcessed(ctx context.Context)

	// RecordEventPublished counts a relay publish by event type and status
	// ("success" or "error").
	RecordEventPublished(ctx context.Context, eventType, status string)

	// RecordRetry counts a consumer retry attempt for an event type.
	RecordRetry(ctx context.Context, eventType string)

	// RecordDeadLetter counts an event routed to the dead-letter topic.
	RecordDeadLetter(ctx context.Context, eventType string)

	// RecordPublishDuration records how long the relay took to resolve one
	// claimed event, with its outcome ("success", "error" or "dead").
	RecordPublishDuration(ctx context.Context, eventType string, duration time.Duration, status string)

	// RecordProcessingDuration records how long a consumer took to handle an
	// event, with its final status.
	RecordProcessingDuration(ctx context.Context, eventType string, duration time.Duration, status string)
}

type pipelineMetrics struct {
	ordersCreated      metric.Int64Counter
	ordersProcessed    metric.Int64Counter
	eventsPublished    metric.Int64Counter
	retriesTotal       metric.Int64Counter
	deadLettersTotal   metric.Int64Counter
	publishDuration    metric.Float64Histogram
	processingDuration metric.Float64Histogram
}

// NewPipelineMetrics creates a PipelineMetrics implementation backed by the
// given meter provider. The namespace prefixes all metric names.
func NewPipelineMetrics(meterProvider metric.MeterProvider, namespace string) (PipelineMetrics, error) {
	meter := meterProvider.Meter(namespace)

	ordersCreated, err := meter.Int64Counter(
		fmt.Sprintf("%s_orders_created_total", namespace),
		metric.WithDescription("Total number of orders created"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders created counter: %w", err)
	}

	ordersProcessed, err := meter.Int64Counter(
		fmt.Sprintf("%s_orders_processed_total", namespace),
		metric.WithDescription("Total number of orders processed"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders processed counter: %w", err)
	}

	eventsPublished, err := meter.Int64Counter(
		fmt.Sprintf("%s_events_published_total", namespace),
		metric.WithDescription("Total number of outbox events published to the broker"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events published counter: %w", err)
	}

	retriesTotal, err := meter.Int64Counter(
		fmt.Sprintf("%s_retries_total", namespace),
		metric.WithDescription("Total consumer retry attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}

	deadLettersTotal, err := meter.Int64Counter(
		fmt.Sprintf("%s_dlq_total", namespace),
		metric.WithDescription("Total events routed to the dead-letter topic"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dead letter counter: %w", err)
	}

	publishDuration, err := meter.Float64Histogram(
		fmt.Sprintf("%s_publish_duration_seconds", namespace),
		metric.WithDescription("Relay per-event delivery duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish duration histogram: %w", err)
	}

	processingDuration, err := meter.Float64Histogram(
		fmt.Sprintf("%s_processing_duration_seconds", namespace),
		metric.WithDescription("Consumer event processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processing duration histogram: %w", err)
	}

	return &pipelineMetrics{
		ordersCreated:      ordersCreated,
		ordersProcessed:    ordersProcessed,
		eventsPublished:    eventsPublished,
		retriesTotal:       retriesTotal,
		deadLettersTotal:   deadLettersTotal,
		publishDuration:    publishDuration,
		processingDuration: processingDuration,
	}, nil
}

func (p *pipelineMetrics) RecordOrderCreated(ctx context.Context) {
	p.ordersCreated.Add(ctx, 1)
}

func (p *pipelineMetrics) RecordOrderProcessed(ctx context.Context) {
	p.ordersProcessed.Add(ctx, 1)
}

func (p *pipelineMetrics) RecordEventPublished(ctx context.Context, eventType, status string) {
	p.eventsPublished.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("status", status),
		),
	)
}

func (p *pipelineMetrics) RecordRetry(ctx context.Context, eventType string) {
	p.retriesTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event_type", eventType)),
	)
}

func (p *pipelineMetrics) RecordDeadLetter(ctx context.Context, eventType string) {
	p.deadLettersTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event_type", eventType)),
	)
}

func (p *pipelineMetrics) RecordPublishDuration(
	ctx context.Context,
	eventType string,
	duration time.Duration,
	status string,
) {
	p.publishDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("status", status),
		),
	)
}

func (p *pipelineMetrics) RecordProcessingDuration(
	ctx context.Context,
	eventType string,
	duration time.Duration,
	status string,
) {
	p.processingDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("status", status),
		),
	)
}

// NoOpPipelineMetrics is a no-op implementation for when metrics are disabled.
type NoOpPipelineMetrics struct{}

// NewNoOpPipelineMetrics creates a no-op PipelineMetrics implementation.
func NewNoOpPipelineMetrics() PipelineMetrics {
	return &NoOpPipelineMetrics{}
}

func (n *NoOpPipelineMetrics) RecordOrderCreated(ctx context.Context)   {}
func (n *NoOpPipelineMetrics) RecordOrderProcessed(ctx context.Context) {}

func (n *NoOpPipelineMetrics) RecordEventPublished(ctx context.Context, eventType, status string) {}

func (n *NoOpPipelineMetrics) RecordRetry(ctx context.Context, eventType string) {}

func (n *NoOpPipelineMetrics) RecordDeadLetter(ctx context.Context, eventType string) {}

func (n *NoOpPipelineMetrics) RecordPublishDuration(
	ctx context.Context,
	eventType string,
	duration time.Duration,
	status string,
) {
}

func (n *NoOpPipelineMetrics) RecordProcessingDuration(
	ctx context.Context,
	eventType string,
	duration time.Duration,
	status string,
) {
}
