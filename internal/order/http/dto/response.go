package dto

import (
	"time"

	orderDomain "github.com/minishop/orders/internal/order/domain"
	"github.com/minishop/orders/internal/order/usecase"
)

// CreateOrderResponse represents the result of an order creation in API responses.
type CreateOrderResponse struct {
	OrderID string  `json:"orderId"`
	Status  string  `json:"status"`
	Total   float64 `json:"total"`
}

// MapOutputToCreateResponse converts a use case output to a create response.
func MapOutputToCreateResponse(output *usecase.CreateOrderOutput) CreateOrderResponse {
	return CreateOrderResponse{
		OrderID: output.OrderID.String(),
		Status:  string(output.Status),
		Total:   output.Total,
	}
}

// OrderResponse represents a full order in API responses.
type OrderResponse struct {
	OrderID       string     `json:"orderId"`
	CustomerID    string     `json:"customerId"`
	Status        string     `json:"status"`
	Total         float64    `json:"total"`
	CorrelationID string     `json:"correlationId"`
	LastError     *string    `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

// MapOrderToResponse converts a domain order to a response.
func MapOrderToResponse(order *orderDomain.Order) OrderResponse {
	return OrderResponse{
		OrderID:       order.ID.String(),
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		Total:         order.Total,
		CorrelationID: order.CorrelationID,
		LastError:     order.LastError,
		CreatedAt:     order.CreatedAt,
		ProcessedAt:   order.ProcessedAt,
	}
}
