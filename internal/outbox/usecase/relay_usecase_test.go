package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/minishop/orders/internal/event"
	"github.com/minishop/orders/internal/messaging"
	"github.com/minishop/orders/internal/metrics"
	"github.com/minishop/orders/internal/outbox/domain"
)

// MockOutboxEventRepository is a mock implementation of OutboxEventRepository
type MockOutboxEventRepository struct {
	mock.Mock
}

func (m *MockOutboxEventRepository) Create(ctx context.Context, event *domain.OutboxEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockOutboxEventRepository) ClaimBatch(
	ctx context.Context,
	limit int,
	leaseOwner string,
	leaseTTL time.Duration,
) ([]*domain.OutboxEvent, error) {
	args := m.Called(ctx, limit, leaseOwner, leaseTTL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OutboxEvent), args.Error(1)
}

func (m *MockOutboxEventRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxEventRepository) MarkFailed(
	ctx context.Context,
	id uuid.UUID,
	lastError string,
	baseBackoff time.Duration,
) error {
	args := m.Called(ctx, id, lastError, baseBackoff)
	return args.Error(0)
}

func (m *MockOutboxEventRepository) MarkDead(ctx context.Context, id uuid.UUID, lastError string) error {
	args := m.Called(ctx, id, lastError)
	return args.Error(0)
}

func (m *MockOutboxEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboxEvent), args.Error(1)
}

// MockPublisher is a mock implementation of messaging.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, msg messaging.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// publishDurationSpy captures relay delivery timing samples.
type publishDurationSpy struct {
	metrics.NoOpPipelineMetrics
	samples []publishDurationSample
}

type publishDurationSample struct {
	eventType string
	duration  time.Duration
	status    string
}

func (s *publishDurationSpy) RecordPublishDuration(
	_ context.Context,
	eventType string,
	duration time.Duration,
	status string,
) {
	s.samples = append(s.samples, publishDurationSample{
		eventType: eventType,
		duration:  duration,
		status:    status,
	})
}

func relayConfig() Config {
	return Config{
		Interval:    time.Second,
		BatchSize:   20,
		LeaseOwner:  "relay-test",
		LeaseTTL:    30 * time.Second,
		BaseBackoff: 500 * time.Millisecond,
	}
}

func pendingEvent(attempts int) *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:             uuid.Must(uuid.NewV7()),
		AggregateType:  "order",
		AggregateID:    "order-1",
		EventType:      event.TypeOrdersCreated,
		Topic:          event.TopicOrdersCreated,
		Payload:        `{"eventId":"evt-1"}`,
		CorrelationID:  "corr-1",
		IdempotencyKey: "idem-1",
		Attempts:       attempts,
		MaxAttempts:    5,
		NextAttemptAt:  time.Now(),
		CreatedAt:      time.Now(),
	}
}

func TestNewRelayUseCase(t *testing.T) {
	config := relayConfig()
	uc := NewRelayUseCase(config, &MockOutboxEventRepository{}, &MockPublisher{},
		metrics.NewNoOpPipelineMetrics(), nil)

	assert.NotNil(t, uc)
	assert.Equal(t, config.BatchSize, uc.config.BatchSize)
	assert.Equal(t, config.LeaseTTL, uc.config.LeaseTTL)
}

func TestRelayUseCase_Start_ContextCancellation(t *testing.T) {
	uc := NewRelayUseCase(relayConfig(), &MockOutboxEventRepository{}, &MockPublisher{},
		metrics.NewNoOpPipelineMetrics(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := uc.Start(ctx)
	assert.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}

func TestRelayUseCase_ProcessEvents_Success(t *testing.T) {
	config := relayConfig()
	outboxRepo := &MockOutboxEventRepository{}
	publisher := &MockPublisher{}

	uc := NewRelayUseCase(config, outboxRepo, publisher, metrics.NewNoOpPipelineMetrics(), nil)

	ctx := context.Background()
	events := []*domain.OutboxEvent{pendingEvent(0), pendingEvent(1)}

	outboxRepo.On("ClaimBatch", ctx, config.BatchSize, config.LeaseOwner, config.LeaseTTL).
		Return(events, nil)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(msg messaging.Message) bool {
		return msg.Topic == event.TopicOrdersCreated &&
			msg.Key == "order-1" &&
			msg.EventType == event.TypeOrdersCreated &&
			msg.CorrelationID == "corr-1" &&
			msg.IdempotencyKey == "idem-1"
	})).Return(nil).Times(2)
	outboxRepo.On("MarkSent", mock.Anything, events[0].ID).Return(nil)
	outboxRepo.On("MarkSent", mock.Anything, events[1].ID).Return(nil)

	err := uc.ProcessEvents(ctx)

	assert.NoError(t, err)
	outboxRepo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestRelayUseCase_ProcessEvents_NoEvents(t *testing.T) {
	config := relayConfig()
	outboxRepo := &MockOutboxEventRepository{}
	publisher := &MockPublisher{}

	uc := NewRelayUseCase(config, outboxRepo, publisher, metrics.NewNoOpPipelineMetrics(), nil)

	ctx := context.Background()
	outboxRepo.On("ClaimBatch", ctx, config.BatchSize, config.LeaseOwner, config.LeaseTTL).
		Return([]*domain.OutboxEvent{}, nil)

	err := uc.ProcessEvents(ctx)

	assert.NoError(t, err)
	outboxRepo.AssertExpectations(t)
	publisher.AssertNotCalled(t, "Publish")
}

func TestRelayUseCase_ProcessEvents_ClaimError(t *testing.T) {
	config := relayConfig()
	outboxRepo := &MockOutboxEventRepository{}
	publisher := &MockPublisher{}

	uc := NewRelayUseCase(config, outboxRepo, publisher, metrics.NewNoOpPipelineMetrics(), nil)

	ctx := context.Background()
	claimError := errors.New("database error")
	outboxRepo.On("ClaimBatch", ctx, config.BatchSize, config.LeaseOwner, config.LeaseTTL).
		Return(nil, claimError)

	err := uc.ProcessEvents(ctx)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database error")
	outboxRepo.AssertExpectations(t)
}

func TestRelayUseCase_ProcessEvents_PublishFailureSchedulesRetry(t *testing.T) {
	config := relayConfig()
	outboxRepo := &MockOutboxEventRepository{}
	publisher := &MockPublisher{}

	uc := NewRelayUseCase(config, outboxRepo, publisher, metrics.NewNoOpPipelineMetrics(), nil)

	ctx := context.Background()
	evt := pendingEvent(2)
	publishError := errors.New("broker unreachable")

	outboxRepo.On("ClaimBatch", ctx, config.BatchSize, config.LeaseOwner, config.LeaseTTL).
		Return([]*domain.OutboxEvent{evt}, nil)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(publishError)
	outboxRepo.On("MarkFailed", mock.Anything, evt.ID, "broker unreachable", config.BaseBackoff).
		Return(nil)

	err := uc.ProcessEvents(ctx)

	// Per-event failures never abort the batch.
	assert.NoError(t, err)
	outboxRepo.AssertExpectations(t)
	outboxRepo.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything)
	publisher.AssertExpectations(t)
}

func TestRelayUseCase_ProcessEvents_ExhaustedEventDeadLettered(t *testing.T) {
	config := relayConfig()
	outboxRepo := &MockOutboxEventRepository{}
	publisher := &MockPublisher{}

	uc := NewRelayUseCase(config, outboxRepo, publisher, metrics.NewNoOpPipelineMetrics(), nil)

	ctx := context.Background()
	evt := pendingEvent(5)
	lastError := "broker unreachable"
	evt.LastError = &lastError

	outboxRepo.On("ClaimBatch", ctx, config.BatchSize, config.LeaseOwner, config.LeaseTTL).
		Return([]*domain.OutboxEvent{evt}, nil)
	outboxRepo.On("MarkDead", mock.Anything, evt.ID, lastError).Return(nil)

	err := uc.ProcessEvents(ctx)

	assert.NoError(t, err)
	outboxRepo.AssertExpectations(t)
	// The exhausted event is never offered to the broker.
	publisher.AssertNotCalled(t, "Publish")
}

func TestRelayUseCase_ProcessEvents_RecordsPublishDuration(t *testing.T) {
	config := relayConfig()

	t.Run("successful delivery", func(t *testing.T) {
		outboxRepo := &MockOutboxEventRepository{}
		publisher := &MockPublisher{}
		spy := &publishDurationSpy{}

		uc := NewRelayUseCase(config, outboxRepo, publisher, spy, nil)

		ctx := context.Background()
		evt := pendingEvent(0)

		outboxRepo.On("ClaimBatch", ctx, config.BatchSize, config.LeaseOwner, config.LeaseTTL).
			Return([]*domain.OutboxEvent{evt}, nil)
		publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
		outboxRepo.On("MarkSent", mock.Anything, evt.ID).Return(nil)

		assert.NoError(t, uc.ProcessEvents(ctx))

		assert.Len(t, spy.samples, 1)
		assert.Equal(t, event.TypeOrdersCreated, spy.samples[0].eventType)
		assert.Equal(t, "success", spy.samples[0].status)
		assert.GreaterOrEqual(t, spy.samples[0].duration, time.Duration(0))
	})

	t.Run("publish failure", func(t *testing.T) {
		outboxRepo := &MockOutboxEventRepository{}
		publisher := &MockPublisher{}
		spy := &publishDurationSpy{}

		uc := NewRelayUseCase(config, outboxRepo, publisher, spy, nil)

		ctx := context.Background()
		evt := pendingEvent(1)

		outboxRepo.On("ClaimBatch", ctx, config.BatchSize, config.LeaseOwner, config.LeaseTTL).
			Return([]*domain.OutboxEvent{evt}, nil)
		publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker unreachable"))
		outboxRepo.On("MarkFailed", mock.Anything, evt.ID, "broker unreachable", config.BaseBackoff).
			Return(nil)

		assert.NoError(t, uc.ProcessEvents(ctx))

		assert.Len(t, spy.samples, 1)
		assert.Equal(t, "error", spy.samples[0].status)
	})

	t.Run("dead letter", func(t *testing.T) {
		outboxRepo := &MockOutboxEventRepository{}
		publisher := &MockPublisher{}
		spy := &publishDurationSpy{}

		uc := NewRelayUseCase(config, outboxRepo, publisher, spy, nil)

		ctx := context.Background()
		evt := pendingEvent(5)

		outboxRepo.On("ClaimBatch", ctx, config.BatchSize, config.LeaseOwner, config.LeaseTTL).
			Return([]*domain.OutboxEvent{evt}, nil)
		outboxRepo.On("MarkDead", mock.Anything, evt.ID, mock.Anything).Return(nil)

		assert.NoError(t, uc.ProcessEvents(ctx))

		assert.Len(t, spy.samples, 1)
		assert.Equal(t, "dead", spy.samples[0].status)
	})
}

func TestRelayUseCase_ProcessEvents_MarkSentFailureLeavesRowForReclaim(t *testing.T) {
	config := relayConfig()
	outboxRepo := &MockOutboxEventRepository{}
	publisher := &MockPublisher{}

	uc := NewRelayUseCase(config, outboxRepo, publisher, metrics.NewNoOpPipelineMetrics(), nil)

	ctx := context.Background()
	evt := pendingEvent(0)

	outboxRepo.On("ClaimBatch", ctx, config.BatchSize, config.LeaseOwner, config.LeaseTTL).
		Return([]*domain.OutboxEvent{evt}, nil)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	outboxRepo.On("MarkSent", mock.Anything, evt.ID).Return(errors.New("update failed"))

	err := uc.ProcessEvents(ctx)

	assert.NoError(t, err)
	outboxRepo.AssertExpectations(t)
	outboxRepo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
