// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	validation "github.com/jellydator/validation"

	"github.com/minishop/orders/internal/order/usecase"
	customValidation "github.com/minishop/orders/internal/validation"
)

// ItemRequest is a single order line in a create request body.
type ItemRequest struct {
	ProductID string  `json:"productId"`
	Qty       int     `json:"qty"`
	Price     float64 `json:"price"`
}

// Validate checks if the item is valid.
func (r *ItemRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ProductID,
			validation.Required.Error("product id is required"),
			customValidation.NotBlank,
		),
		validation.Field(&r.Qty, customValidation.PositiveInt),
		validation.Field(&r.Price, customValidation.PositiveNumber),
	)
}

// CreateOrderRequest contains the parameters for creating an order.
// Correlation and idempotency keys travel in headers, not the body.
type CreateOrderRequest struct {
	CustomerID string        `json:"customerId"`
	Items      []ItemRequest `json:"items"`
}

// Validate checks if the create order request is valid.
func (r *CreateOrderRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.CustomerID,
			validation.Required.Error("customer id is required"),
			customValidation.NotBlank,
		),
		validation.Field(&r.Items,
			validation.Required.Error("items are required"),
			validation.Length(1, 0).Error("at least one item is required"),
		),
	)
	if err != nil {
		return err
	}

	for _, item := range r.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ToInput converts the request to a use case input, attaching the
// header-sourced correlation and idempotency keys.
func (r *CreateOrderRequest) ToInput(correlationID, idempotencyKey string) usecase.CreateOrderInput {
	items := make([]usecase.ItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, usecase.ItemInput{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			Price:     item.Price,
		})
	}

	return usecase.CreateOrderInput{
		CustomerID:     r.CustomerID,
		Items:          items,
		CorrelationID:  correlationID,
		IdempotencyKey: idempotencyKey,
	}
}
