package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertMetricLine checks that the Prometheus output contains a metric
// matching the given name, partial label pattern, and value. Uses regex to
// handle extra OTel scope labels injected by the Prometheus exporter.
func assertMetricLine(t *testing.T, output, name, labels, value string) {
	t.Helper()
	pattern := name + `\{[^}]*` + labels + `[^}]*\} ` + value
	assert.Regexp(t, pattern, output)
}

func TestNewPipelineMetrics(t *testing.T) {
	provider, err := NewProvider("minishop")
	require.NoError(t, err)

	pm, err := NewPipelineMetrics(provider.MeterProvider(), "minishop")

	require.NoError(t, err)
	assert.NotNil(t, pm)
}

func TestPipelineMetrics_Record(t *testing.T) {
	provider, err := NewProvider("minishop")
	require.NoError(t, err)

	pm, err := NewPipelineMetrics(provider.MeterProvider(), "minishop")
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("Success_RecordCounters", func(t *testing.T) {
		pm.RecordOrderCreated(ctx)
		pm.RecordOrderProcessed(ctx)
		pm.RecordEventPublished(ctx, "orders.created", "success")
		pm.RecordRetry(ctx, "orders.created")
		pm.RecordDeadLetter(ctx, "orders.created")
	})

	t.Run("Success_RecordDuration", func(t *testing.T) {
		pm.RecordPublishDuration(ctx, "orders.created", 15*time.Millisecond, "success")
		pm.RecordPublishDuration(ctx, "orders.created", 40*time.Millisecond, "error")
		pm.RecordProcessingDuration(ctx, "orders.created", 120*time.Millisecond, "success")
		pm.RecordProcessingDuration(ctx, "orders.created", 300*time.Millisecond, "error")
	})
}

func TestNewNoOpPipelineMetrics(t *testing.T) {
	pm := NewNoOpPipelineMetrics()

	assert.NotNil(t, pm)
	assert.IsType(t, &NoOpPipelineMetrics{}, pm)

	ctx := context.Background()
	pm.RecordOrderCreated(ctx)
	pm.RecordOrderProcessed(ctx)
	pm.RecordEventPublished(ctx, "orders.created", "success")
	pm.RecordRetry(ctx, "orders.created")
	pm.RecordDeadLetter(ctx, "orders.created")
	pm.RecordPublishDuration(ctx, "orders.created", time.Millisecond, "success")
	pm.RecordProcessingDuration(ctx, "orders.created", time.Millisecond, "success")
}

func TestPipelineMetrics_Integration(t *testing.T) {
	provider, err := NewProvider("pipeline_test")
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	}()

	pm, err := NewPipelineMetrics(provider.MeterProvider(), "pipeline_test")
	require.NoError(t, err)

	ctx := context.Background()

	pm.RecordOrderCreated(ctx)
	pm.RecordOrderCreated(ctx)
	pm.RecordOrderProcessed(ctx)
	pm.RecordEventPublished(ctx, "orders.created", "success")
	pm.RecordEventPublished(ctx, "orders.created", "success")
	pm.RecordEventPublished(ctx, "orders.processed", "error")
	pm.RecordRetry(ctx, "orders.created")
	pm.RecordDeadLetter(ctx, "orders.created")
	pm.RecordPublishDuration(ctx, "orders.created", 10*time.Millisecond, "success")
	pm.RecordPublishDuration(ctx, "orders.created", 20*time.Millisecond, "success")
	pm.RecordPublishDuration(ctx, "orders.created", 30*time.Millisecond, "dead")
	pm.RecordProcessingDuration(ctx, "orders.created", 50*time.Millisecond, "success")
	pm.RecordProcessingDuration(ctx, "orders.created", 80*time.Millisecond, "success")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	provider.Handler().ServeHTTP(w, req)

	output := w.Body.String()

	assertMetricLine(t, output, `pipeline_test_orders_created_total`, ``, `2`)
	assertMetricLine(t, output, `pipeline_test_orders_processed_total`, ``, `1`)
	assertMetricLine(
		t,
		output,
		`pipeline_test_events_published_total`,
		`event_type="orders.created".*status="success"`,
		`2`,
	)
	assertMetricLine(
		t,
		output,
		`pipeline_test_events_published_total`,
		`event_type="orders.processed".*status="error"`,
		`1`,
	)
	assertMetricLine(t, output, `pipeline_test_retries_total`, `event_type="orders.created"`, `1`)
	assertMetricLine(t, output, `pipeline_test_dlq_total`, `event_type="orders.created"`, `1`)
	assertMetricLine(
		t,
		output,
		`pipeline_test_publish_duration_seconds_count`,
		`event_type="orders.created".*status="success"`,
		`2`,
	)
	assertMetricLine(
		t,
		output,
		`pipeline_test_publish_duration_seconds_count`,
		`event_type="orders.created".*status="dead"`,
		`1`,
	)
	assertMetricLine(
		t,
		output,
		`pipeline_test_processing_duration_seconds_count`,
		`event_type="orders.created".*status="success"`,
		`2`,
	)
}
