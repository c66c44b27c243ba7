package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated     = "order_created"
	EventOrderCanceled    = "order_canceled"
	EventOrderPaid        = "order_paid"
	EventOrderDeleted     = "order_deleted"
	EventPaymentInitiated = "payment_initiated"
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventPaymentRefunded  = "payment_refunded"
)

type Event struct {
	ID         string          `json:"event_id"`
	Type       string          `json:"event_type"`
	OrderID    int64           `json:"order_id"`
	PaymentID  int64           `json:"payment_id,omitempty"`
	UserID     int64           `json:"user_id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func OrderEvent(eventType string, order *Order) Event {
	return Event{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status.String(),
		Amount:     order.Total(),
		OccurredAt: time.Now().UTC(),
	}
}

func PaymentEvent(eventType string, payment *Payment) Event {
	amount := payment.Amount
	if eventType == EventPaymentRefunded {
		amount = payment.RefundedAmount
	}
	return Event{
		Type:       eventType,
		OrderID:    payment.OrderID,
		PaymentID:  payment.ID,
		UserID:     payment.UserID,
		Status:     payment.Status.String(),
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
}

// EventPublisher delivers domain events after the unit of work committed.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// GatewayEvent is the payment gateway's verdict on a pending payment.
type GatewayEvent struct {
	PaymentID   int64  `json:"payment_id"`
	Status      string `json:"status"`
	ExternalRef string `json:"external_ref"`
	Reason      string `json:"reason"`
}

const (
	GatewayStatusSucceeded = "succeeded"
	GatewayStatusFailed    = "failed"
)
