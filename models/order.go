package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusCanceled OrderStatus = "canceled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCanceled},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCanceled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCanceled
}

// CanTransitionTo reports whether the order state machine allows s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

type Order struct {
	ID          int64               `json:"id" db:"id"`
	UserID      int64               `json:"user_id" db:"user_id"`
	CartID      int64               `json:"cart_id" db:"cart_id"`
	Status      OrderStatus         `json:"status" db:"status"`
	TotalAmount decimal.NullDecimal `json:"total_amount" db:"total_amount"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	Items       []OrderItem         `json:"items" db:"-"`
}

// OrderItem keeps the price the movie had when the order was placed.
type OrderItem struct {
	ID           int64           `json:"id" db:"id"`
	OrderID      int64           `json:"order_id" db:"order_id"`
	MovieID      int64           `json:"movie_id" db:"movie_id"`
	PriceAtOrder decimal.Decimal `json:"price_at_order" db:"price_at_order"`
}

// ItemsTotal sums price-at-order over the order's items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.PriceAtOrder)
	}
	return total
}

// Total returns the priced total, or zero when the order has not been priced.
func (o *Order) Total() decimal.Decimal {
	if !o.TotalAmount.Valid {
		return decimal.Zero
	}
	return o.TotalAmount.Decimal
}

func (o *Order) HasItem(orderItemID int64) bool {
	for _, item := range o.Items {
		if item.ID == orderItemID {
			return true
		}
	}
	return false
}

// CartLine is one movie picked into the cart.
type CartLine struct {
	MovieID int64 `json:"movie_id"`
}

// CartSnapshot is the content of the user's cart at checkout time.
type CartSnapshot struct {
	CartID int64      `json:"cart_id"`
	Lines  []CartLine `json:"lines"`
}

type CreateOrderRequest struct {
	CartID   int64   `json:"cart_id" binding:"required,gt=0"`
	MovieIDs []int64 `json:"movie_ids"`
}

func (r CreateOrderRequest) Snapshot() CartSnapshot {
	snapshot := CartSnapshot{CartID: r.CartID, Lines: make([]CartLine, 0, len(r.MovieIDs))}
	for _, id := range r.MovieIDs {
		snapshot.Lines = append(snapshot.Lines, CartLine{MovieID: id})
	}
	return snapshot
}
