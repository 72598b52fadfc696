// Package http provides HTTP handlers for the order write path.
package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/minishop/orders/internal/httputil"
	"github.com/minishop/orders/internal/order/http/dto"
	orderUseCase "github.com/minishop/orders/internal/order/usecase"
	customValidation "github.com/minishop/orders/internal/validation"
)

// Request headers carrying the caller-provided tracing and dedupe keys.
const (
	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// OrderHandler handles HTTP requests for order creation and retrieval.
type OrderHandler struct {
	createUseCase orderUseCase.CreateUseCase
	logger        *slog.Logger
}

// NewOrderHandler creates a new order handler with required dependencies.
func NewOrderHandler(createUseCase orderUseCase.CreateUseCase, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		createUseCase: createUseCase,
		logger:        logger,
	}
}

// CreateHandler creates an order and its orders.created outbox event in one
// transaction.
// POST /v1/orders - Returns 201 Created, or the existing order's result when
// the X-Idempotency-Key was already used.
func (h *OrderHandler) CreateHandler(c *gin.Context) {
	var req dto.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, fmt.Errorf("invalid request body: %w", err), h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	input := req.ToInput(c.GetHeader(HeaderCorrelationID), c.GetHeader(HeaderIdempotencyKey))

	output, err := h.createUseCase.CreateOrder(c.Request.Context(), input)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapOutputToCreateResponse(output))
}

// GetHandler retrieves an order by its ID.
// GET /v1/orders/:id - Returns 200 OK with the order, including processing
// status and last error.
func (h *OrderHandler) GetHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleValidationErrorGin(
			c,
			fmt.Errorf("invalid order id: must be a valid uuid"),
			h.logger,
		)
		return
	}

	order, err := h.createUseCase.GetOrder(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapOrderToResponse(order))
}
