// Package domain defines the core order domain entities and types.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the lifecycle status of an order
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusProcessed OrderStatus = "processed"
)

// Order represents a customer order. The idempotency key is unique across
// orders so a retried create request maps back to the same row.
type Order struct {
	ID             uuid.UUID
	CustomerID     string
	Total          float64
	Status         OrderStatus
	IdempotencyKey string
	CorrelationID  string
	LastError      *string
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}

// Item is a single order line.
type Item struct {
	ProductID string
	Qty       int
	Price     float64
}

// CalcTotal sums qty x price over the order lines.
func CalcTotal(items []Item) float64 {
	var total float64
	for _, item := range items {
		total += float64(item.Qty) * item.Price
	}
	return total
}
