package models

import "context"

// Store runs fn inside one transactional unit of work. fn's error rolls the
// transaction back; a nil return commits it.
//
// Implementations must give read-committed isolation and hold row locks taken
// by the ForUpdate reads until the unit of work ends.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	OrderRepository
	PaymentRepository
}

type OrderRepository interface {
	// InsertOrder stores the order and its items and fills in their ids.
	InsertOrder(ctx context.Context, order *Order) error
	// GetOrder loads the order with items sorted by ascending id.
	GetOrder(ctx context.Context, id int64) (*Order, error)
	// GetOrderForUpdate is GetOrder plus a row lock on the order.
	GetOrderForUpdate(ctx context.Context, id int64) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]*Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error
	// DeleteOrder removes the order and its items.
	DeleteOrder(ctx context.Context, id int64) error
}

type PaymentRepository interface {
	InsertPayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	GetPaymentForUpdate(ctx context.Context, id int64) (*Payment, error)
	// ListPaymentsByOrder returns the order's payments with their items, oldest first.
	ListPaymentsByOrder(ctx context.Context, orderID int64) ([]*Payment, error)
	// UpdatePayment persists status, external reference, refunded amount and failure reason.
	UpdatePayment(ctx context.Context, payment *Payment) error
	// InsertPaymentItems stores the items and fills in their ids.
	InsertPaymentItems(ctx context.Context, items []PaymentItem) error
	// DeletePaymentsByOrder removes the order's payments and their items.
	DeletePaymentsByOrder(ctx context.Context, orderID int64) error
}
