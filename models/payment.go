package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

// PaymentStatusPaid is kept so rows written by older clients still load; the
// reconciler settles payments as PaymentStatusSuccessful and never produces it.
const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusSuccessful        PaymentStatus = "successful"
	PaymentStatusCanceled          PaymentStatus = "canceled"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusSuccessful, PaymentStatusCanceled},
	PaymentStatusSuccessful: {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusSuccessful,
		PaymentStatusCanceled, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsSettled reports whether the payment's items count toward order coverage.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusSuccessful || s == PaymentStatusPaid
}

func (s PaymentStatus) String() string {
	return string(s)
}

type Payment struct {
	ID             int64           `json:"id" db:"id"`
	UserID         int64           `json:"user_id" db:"user_id"`
	OrderID        int64           `json:"order_id" db:"order_id"`
	Status         PaymentStatus   `json:"status" db:"status"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount" db:"refunded_amount"`
	ExternalRef    *string         `json:"external_payment_id,omitempty" db:"external_payment_id"`
	FailureReason  *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	Items          []PaymentItem   `json:"items" db:"-"`
}

type PaymentItem struct {
	ID             int64           `json:"id" db:"id"`
	PaymentID      int64           `json:"payment_id" db:"payment_id"`
	OrderItemID    int64           `json:"order_item_id" db:"order_item_id"`
	PriceAtPayment decimal.Decimal `json:"price_at_payment" db:"price_at_payment"`
}

// Settled is the amount allocated to order items by this payment.
func (p *Payment) Settled() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range p.Items {
		sum = sum.Add(item.PriceAtPayment)
	}
	return sum
}

// Coverage sums, per order item, what settled and partially refunded payments
// still hold.
func Coverage(payments []*Payment) map[int64]decimal.Decimal {
	covered := make(map[int64]decimal.Decimal)
	for _, p := range payments {
		for _, item := range p.CoveringItems() {
			covered[item.OrderItemID] = covered[item.OrderItemID].Add(item.PriceAtPayment)
		}
	}
	return covered
}

// CoveringItems returns the part of the payment's allocation that still counts
// toward the order. A partial refund is taken off the items from the highest
// order item id down, the reverse of allocation order.
func (p *Payment) CoveringItems() []PaymentItem {
	switch {
	case p.Status.IsSettled():
		return p.Items
	case p.Status != PaymentStatusPartiallyRefunded:
		return nil
	}

	items := make([]PaymentItem, len(p.Items))
	copy(items, p.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].OrderItemID > items[j].OrderItemID })

	left := p.RefundedAmount
	kept := items[:0]
	for _, item := range items {
		taken := decimal.Min(left, item.PriceAtPayment)
		left = left.Sub(taken)
		item.PriceAtPayment = item.PriceAtPayment.Sub(taken)
		if item.PriceAtPayment.IsPositive() {
			kept = append(kept, item)
		}
	}
	return kept
}

// CoveredTotal is the sum of Coverage over all items.
func CoveredTotal(payments []*Payment) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range Coverage(payments) {
		total = total.Add(amount)
	}
	return total
}

type InitiatePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type ConfirmPaymentRequest struct {
	ExternalRef string `json:"external_ref" binding:"required"`
}

type FailPaymentRequest struct {
	Reason string `json:"reason"`
}

type RefundPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}
