package handlers

import (
	"context"
	"net/http"

	"cinema-svc/middleware"
	"cinema-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentService interface {
	InitiatePayment(ctx context.Context, orderID int64, amount decimal.Decimal) (*models.Payment, error)
	ConfirmPayment(ctx context.Context, paymentID int64, externalRef string) (*models.Payment, error)
	FailPayment(ctx context.Context, paymentID int64, reason string) (*models.Payment, error)
	RefundPayment(ctx context.Context, paymentID int64, amount decimal.Decimal) (*models.Payment, error)
	GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error)
	ListPayments(ctx context.Context, orderID int64) ([]*models.Payment, error)
}

type PaymentHandler struct {
	orders   OrderReader
	payments PaymentService
	logger   *zap.Logger
}

func NewPaymentHandler(orders OrderReader, payments PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{orders: orders, payments: payments, logger: logger}
}

func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	order, ok := loadOwnOrder(c, h.orders, h.logger)
	if !ok {
		return
	}

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := h.payments.InitiatePayment(c.Request.Context(), order.ID, req.Amount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	middleware.RecordPayment(payment.Status.String())
	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) ListPayments(c *gin.Context) {
	order, ok := loadOwnOrder(c, h.orders, h.logger)
	if !ok {
		return
	}

	payments, err := h.payments.ListPayments(c.Request.Context(), order.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	c.JSON(http.StatusOK, payments)
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	userID, _ := middleware.CurrentUserID(c)
	if payment.UserID != userID && !isStaff(c) {
		respondError(c, h.logger, models.ErrPaymentNotFound)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// RefundPayment is mounted behind RequireGroup for staff.
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req models.RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := h.payments.RefundPayment(c.Request.Context(), id, req.Amount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Payment refunded by staff",
		zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
		zap.Int64("payment_id", payment.ID),
		zap.String("group", string(middleware.CurrentGroup(c))),
	)
	middleware.RecordPayment(payment.Status.String())
	c.JSON(http.StatusOK, payment)
}

// ConfirmPayment is the gateway's success callback.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req models.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := h.payments.ConfirmPayment(c.Request.Context(), id, req.ExternalRef)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	middleware.RecordPayment(payment.Status.String())
	c.JSON(http.StatusOK, payment)
}

// FailPayment is the gateway's failure callback.
func (h *PaymentHandler) FailPayment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req models.FailPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := h.payments.FailPayment(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	middleware.RecordPayment(payment.Status.String())
	c.JSON(http.StatusOK, payment)
}
