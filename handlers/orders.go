package handlers

import (
	"context"
	"net/http"

	"cinema-svc/middleware"
	"cinema-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
}

type OrderService interface {
	OrderReader
	CreateOrder(ctx context.Context, userID int64, cart models.CartSnapshot) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID int64) (*models.Order, error)
	DeleteOrder(ctx context.Context, orderID int64) error
	ListOrders(ctx context.Context, userID int64) ([]*models.Order, error)
}

type OrderHandler struct {
	orders OrderService
	logger *zap.Logger
}

func NewOrderHandler(orders OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := middleware.CurrentUserID(c)

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("cart.id", req.CartID),
		attribute.Int("cart.lines", len(req.MovieIDs)),
	)

	order, err := h.orders.CreateOrder(ctx, userID, req.Snapshot())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	middleware.RecordOrderEvent(models.EventOrderCreated)
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	userID, _ := middleware.CurrentUserID(c)

	orders, err := h.orders.ListOrders(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, ok := loadOwnOrder(c, h.orders, h.logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, ok := loadOwnOrder(c, h.orders, h.logger)
	if !ok {
		return
	}

	canceled, err := h.orders.CancelOrder(c.Request.Context(), order.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	middleware.RecordOrderEvent(models.EventOrderCanceled)
	c.JSON(http.StatusOK, canceled)
}

func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	order, ok := loadOwnOrder(c, h.orders, h.logger)
	if !ok {
		return
	}

	if err := h.orders.DeleteOrder(c.Request.Context(), order.ID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	middleware.RecordOrderEvent(models.EventOrderDeleted)
	c.Status(http.StatusNoContent)
}

// loadOwnOrder answers 404 for orders of other users unless the caller is staff.
func loadOwnOrder(c *gin.Context, orders OrderReader, logger *zap.Logger) (*models.Order, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}

	order, err := orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, err)
		return nil, false
	}

	userID, _ := middleware.CurrentUserID(c)
	if order.UserID != userID && !isStaff(c) {
		respondError(c, logger, models.ErrOrderNotFound)
		return nil, false
	}
	return order, true
}
