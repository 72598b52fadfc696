// Package event defines the wire-level event envelopes exchanged through the
// message broker, along with their topics, type literals, and message headers.
package event

import (
	"encoding/json"
	"time"

	val "github.com/jellydator/validation"

	apperrors "github.com/minishop/orders/internal/errors"
	"github.com/minishop/orders/internal/validation"
)

// Event type literals carried in the envelope "type" field.
const (
	TypeOrdersCreated           = "orders.created"
	TypeOrdersProcessed         = "orders.processed"
	TypeOrdersCreatedDeadLetter = "orders.created.dlq"
)

// Broker topics.
const (
	TopicOrdersCreated           = "orders-created"
	TopicOrdersProcessed         = "orders-processed"
	TopicOrdersCreatedDeadLetter = "orders-created-deadletter"
)

// Message headers attached to every published record.
const (
	HeaderCorrelationID  = "x-correlation-id"
	HeaderIdempotencyKey = "x-idempotency-key"
	HeaderEventType      = "x-event-type"
)

// TopicFor returns the broker topic for an event type. Unknown types map to
// the empty string.
func TopicFor(eventType string) string {
	switch eventType {
	case TypeOrdersCreated:
		return TopicOrdersCreated
	case TypeOrdersProcessed:
		return TopicOrdersProcessed
	case TypeOrdersCreatedDeadLetter:
		return TopicOrdersCreatedDeadLetter
	default:
		return ""
	}
}

// Item is a single order line inside an orders.created payload.
type Item struct {
	ProductID string  `json:"productId"`
	Qty       int     `json:"qty"`
	Price     float64 `json:"price"`
}

// Validate validates the order line.
func (i Item) Validate() error {
	return val.ValidateStruct(&i,
		val.Field(&i.ProductID, val.Required, validation.NotBlank),
		val.Field(&i.Qty, validation.PositiveInt),
		val.Field(&i.Price, validation.PositiveNumber),
	)
}

// OrdersCreatedData is the payload of an orders.created event.
type OrdersCreatedData struct {
	OrderID    string  `json:"orderId"`
	CustomerID string  `json:"customerId"`
	Total      float64 `json:"total"`
	Items      []Item  `json:"items"`
}

// OrdersCreated is the envelope published when an order is accepted.
type OrdersCreated struct {
	EventID        string            `json:"eventId"`
	Type           string            `json:"type"`
	OccurredAt     time.Time         `json:"occurredAt"`
	CorrelationID  string            `json:"correlationId"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Data           OrdersCreatedData `json:"data"`
}

// Validate checks the envelope against the orders.created contract.
func (e OrdersCreated) Validate() error {
	err := val.ValidateStruct(&e,
		val.Field(&e.EventID, val.Required, validation.NotBlank),
		val.Field(&e.Type, val.Required, val.In(TypeOrdersCreated)),
		val.Field(&e.OccurredAt, val.Required),
		val.Field(&e.CorrelationID, val.Required, validation.NotBlank),
		val.Field(&e.IdempotencyKey, val.Required, validation.NotBlank),
		val.Field(&e.Data),
	)
	return validation.WrapValidationError(err)
}

// Validate validates the orders.created payload.
func (d OrdersCreatedData) Validate() error {
	return val.ValidateStruct(&d,
		val.Field(&d.OrderID, val.Required, validation.NotBlank),
		val.Field(&d.CustomerID, val.Required, validation.NotBlank),
		val.Field(&d.Total, validation.NonNegativeNumber),
		val.Field(&d.Items, val.Required, val.Length(1, 0)),
	)
}

// OrdersProcessedData is the payload of an orders.processed event.
type OrdersProcessedData struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// OrdersProcessed is the envelope published after a consumer finishes an order.
type OrdersProcessed struct {
	EventID        string              `json:"eventId"`
	Type           string              `json:"type"`
	OccurredAt     time.Time           `json:"occurredAt"`
	CorrelationID  string              `json:"correlationId"`
	IdempotencyKey string              `json:"idempotencyKey"`
	Data           OrdersProcessedData `json:"data"`
}

// Validate checks the envelope against the orders.processed contract.
func (e OrdersProcessed) Validate() error {
	err := val.ValidateStruct(&e,
		val.Field(&e.EventID, val.Required, validation.NotBlank),
		val.Field(&e.Type, val.Required, val.In(TypeOrdersProcessed)),
		val.Field(&e.OccurredAt, val.Required),
		val.Field(&e.CorrelationID, val.Required, validation.NotBlank),
		val.Field(&e.IdempotencyKey, val.Required, validation.NotBlank),
		val.Field(&e.Data),
	)
	return validation.WrapValidationError(err)
}

// Validate validates the orders.processed payload.
func (d OrdersProcessedData) Validate() error {
	return val.ValidateStruct(&d,
		val.Field(&d.OrderID, val.Required, validation.NotBlank),
		val.Field(&d.Status, val.Required, val.In("processed")),
	)
}

// ErrorInfo describes the failure that sent an event to the dead-letter topic.
type ErrorInfo struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// OrdersCreatedDeadLetter wraps an orders.created event that exhausted its
// retry budget, preserving the original envelope for later reprocessing.
type OrdersCreatedDeadLetter struct {
	EventID        string        `json:"eventId"`
	Type           string        `json:"type"`
	OccurredAt     time.Time     `json:"occurredAt"`
	CorrelationID  string        `json:"correlationId"`
	IdempotencyKey string        `json:"idempotencyKey"`
	Attempts       int           `json:"attempts"`
	Error          ErrorInfo     `json:"error"`
	OriginalEvent  OrdersCreated `json:"originalEvent"`
}

// Validate checks the envelope against the dead-letter contract.
func (e OrdersCreatedDeadLetter) Validate() error {
	err := val.ValidateStruct(&e,
		val.Field(&e.EventID, val.Required, validation.NotBlank),
		val.Field(&e.Type, val.Required, val.In(TypeOrdersCreatedDeadLetter)),
		val.Field(&e.OccurredAt, val.Required),
		val.Field(&e.CorrelationID, val.Required, validation.NotBlank),
		val.Field(&e.IdempotencyKey, val.Required, validation.NotBlank),
		val.Field(&e.Attempts, val.Min(0)),
		val.Field(&e.Error, val.Required),
		val.Field(&e.OriginalEvent, val.Required),
	)
	return validation.WrapValidationError(err)
}

// Validate validates the error description.
func (i ErrorInfo) Validate() error {
	return val.ValidateStruct(&i,
		val.Field(&i.Message, val.Required, validation.NotBlank),
	)
}

// ParseOrdersCreated decodes and validates an orders.created envelope.
func ParseOrdersCreated(data []byte) (*OrdersCreated, error) {
	var e OrdersCreated
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed orders.created payload: "+err.Error())
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// ParseOrdersProcessed decodes and validates an orders.processed envelope.
func ParseOrdersProcessed(data []byte) (*OrdersProcessed, error) {
	var e OrdersProcessed
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed orders.processed payload: "+err.Error())
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// ParseOrdersCreatedDeadLetter decodes and validates a dead-letter envelope.
func ParseOrdersCreatedDeadLetter(data []byte) (*OrdersCreatedDeadLetter, error) {
	var e OrdersCreatedDeadLetter
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed dead-letter payload: "+err.Error())
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
