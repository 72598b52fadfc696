// Package usecase implements the order business logic on both sides of the
// pipeline: the transactional write path and the consumer processing path.
package usecase

import (
	"context"
	"encoding/json"
	"time"

	validation "github.com/jellydator/validation"

	"github.com/google/uuid"

	"github.com/minishop/orders/internal/database"
	apperrors "github.com/minishop/orders/internal/errors"
	"github.com/minishop/orders/internal/event"
	"github.com/minishop/orders/internal/idempotency"
	"github.com/minishop/orders/internal/metrics"
	orderDomain "github.com/minishop/orders/internal/order/domain"
	outboxDomain "github.com/minishop/orders/internal/outbox/domain"
	appValidation "github.com/minishop/orders/internal/validation"
)

// defaultRelayMaxAttempts is the delivery budget stamped on new outbox events
// when no explicit budget is configured.
const defaultRelayMaxAttempts = 5

// ItemInput is a single order line in a create request.
type ItemInput struct {
	ProductID string  `json:"productId"`
	Qty       int     `json:"qty"`
	Price     float64 `json:"price"`
}

// CreateOrderInput contains the input data for order creation
type CreateOrderInput struct {
	CustomerID     string      `json:"customerId"`
	Items          []ItemInput `json:"items"`
	CorrelationID  string      `json:"-"`
	IdempotencyKey string      `json:"-"`
}

// CreateOrderOutput is the result of an order creation, idempotent across
// retried requests carrying the same idempotency key.
type CreateOrderOutput struct {
	OrderID uuid.UUID               `json:"orderId"`
	Status  orderDomain.OrderStatus `json:"status"`
	Total   float64                 `json:"total"`
}

// CreateUseCase defines the interface for the order write path
type CreateUseCase interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderOutput, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*orderDomain.Order, error)
}

// OrderRepository interface defines order repository operations
type OrderRepository interface {
	Create(ctx context.Context, order *orderDomain.Order) error
	GetByIdempotencyKey(ctx context.Context, key string) (*orderDomain.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*orderDomain.Order, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// OutboxEventRepository interface defines the outbox operation used by the
// write path.
type OutboxEventRepository interface {
	Create(ctx context.Context, event *outboxDomain.OutboxEvent) error
}

// CreateOrderUseCase handles the transactional order write path: the order
// row and its orders.created outbox event commit together or not at all.
type CreateOrderUseCase struct {
	txManager        database.TxManager
	orderRepo        OrderRepository
	outboxRepo       OutboxEventRepository
	idempotency      *idempotency.Store
	metrics          metrics.PipelineMetrics
	relayMaxAttempts int
}

// NewCreateOrderUseCase creates a new CreateOrderUseCase. relayMaxAttempts is
// the delivery budget stamped on each outbox event; values below one fall
// back to the default.
func NewCreateOrderUseCase(
	txManager database.TxManager,
	orderRepo OrderRepository,
	outboxRepo OutboxEventRepository,
	idempotencyStore *idempotency.Store,
	pipelineMetrics metrics.PipelineMetrics,
	relayMaxAttempts int,
) *CreateOrderUseCase {
	if relayMaxAttempts < 1 {
		relayMaxAttempts = defaultRelayMaxAttempts
	}
	return &CreateOrderUseCase{
		txManager:        txManager,
		orderRepo:        orderRepo,
		outboxRepo:       outboxRepo,
		idempotency:      idempotencyStore,
		metrics:          pipelineMetrics,
		relayMaxAttempts: relayMaxAttempts,
	}
}

// validateCreateOrderInput validates the creation input before any I/O.
func (uc *CreateOrderUseCase) validateCreateOrderInput(input CreateOrderInput) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.CustomerID,
			validation.Required.Error("customer id is required"),
			appValidation.NotBlank,
		),
		validation.Field(&input.Items,
			validation.Required.Error("items are required"),
			validation.Length(1, 0).Error("at least one item is required"),
		),
	)
	if err != nil {
		return appValidation.WrapValidationError(err)
	}

	for _, item := range input.Items {
		err := validation.ValidateStruct(&item,
			validation.Field(&item.ProductID,
				validation.Required.Error("product id is required"),
				appValidation.NotBlank,
			),
			validation.Field(&item.Qty, appValidation.PositiveInt),
			validation.Field(&item.Price, appValidation.PositiveNumber),
		)
		if err != nil {
			return appValidation.WrapValidationError(err)
		}
	}

	return nil
}

// CreateOrder creates an order and its orders.created event atomically. A
// request whose idempotency key already produced an order returns that
// order's result without re-inserting or re-emitting.
func (uc *CreateOrderUseCase) CreateOrder(
	ctx context.Context,
	input CreateOrderInput,
) (*CreateOrderOutput, error) {
	if err := uc.validateCreateOrderInput(input); err != nil {
		return nil, err
	}

	correlationID := input.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	idempotencyKey := input.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	cacheKey := "orders.create:" + idempotencyKey
	if cached, ok := uc.idempotency.Get(cacheKey); ok {
		if output, ok := cached.(*CreateOrderOutput); ok {
			return output, nil
		}
	}

	existing, err := uc.orderRepo.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		output := &CreateOrderOutput{OrderID: existing.ID, Status: existing.Status, Total: existing.Total}
		uc.idempotency.Set(cacheKey, output)
		return output, nil
	}

	items := make([]orderDomain.Item, len(input.Items))
	envelopeItems := make([]event.Item, len(input.Items))
	for i, item := range input.Items {
		items[i] = orderDomain.Item{ProductID: item.ProductID, Qty: item.Qty, Price: item.Price}
		envelopeItems[i] = event.Item{ProductID: item.ProductID, Qty: item.Qty, Price: item.Price}
	}
	total := orderDomain.CalcTotal(items)

	order := &orderDomain.Order{
		ID:             uuid.Must(uuid.NewV7()),
		CustomerID:     input.CustomerID,
		Total:          total,
		Status:         orderDomain.OrderStatusCreated,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
	}

	envelope := event.OrdersCreated{
		EventID:        uuid.NewString(),
		Type:           event.TypeOrdersCreated,
		OccurredAt:     time.Now().UTC(),
		CorrelationID:  correlationID,
		IdempotencyKey: idempotencyKey,
		Data: event.OrdersCreatedData{
			OrderID:    order.ID.String(),
			CustomerID: input.CustomerID,
			Total:      total,
			Items:      envelopeItems,
		},
	}
	if err := envelope.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal event payload")
	}

	err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		if err := uc.orderRepo.Create(ctx, order); err != nil {
			return err
		}

		outboxEvent := &outboxDomain.OutboxEvent{
			ID:             uuid.Must(uuid.NewV7()),
			AggregateType:  "order",
			AggregateID:    order.ID.String(),
			EventType:      event.TypeOrdersCreated,
			Topic:          event.TopicOrdersCreated,
			Payload:        string(payload),
			CorrelationID:  correlationID,
			IdempotencyKey: idempotencyKey,
			Attempts:       0,
			MaxAttempts:    uc.relayMaxAttempts,
		}

		if err := uc.outboxRepo.Create(ctx, outboxEvent); err != nil {
			return apperrors.Wrap(err, "failed to create outbox event")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.metrics.RecordOrderCreated(ctx)

	output := &CreateOrderOutput{OrderID: order.ID, Status: order.Status, Total: total}
	uc.idempotency.Set(cacheKey, output)

	return output, nil
}

// GetOrder retrieves an order by its ID.
func (uc *CreateOrderUseCase) GetOrder(ctx context.Context, id uuid.UUID) (*orderDomain.Order, error) {
	return uc.orderRepo.GetByID(ctx, id)
}
