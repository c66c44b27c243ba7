package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cinema-svc/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	orderColumns       = "id, user_id, cart_id, status, total_amount, created_at"
	orderItemColumns   = "id, order_id, movie_id, price_at_order"
	paymentColumns     = "id, user_id, order_id, status, amount, refunded_amount, external_payment_id, failure_reason, created_at"
	paymentItemColumns = "id, payment_id, order_item_id, price_at_payment"
)

// Store runs units of work as Postgres transactions at the default
// read-committed isolation. Row locks come from SELECT ... FOR UPDATE.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx models.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}

	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return persistence("commit", err)
	}
	return nil
}

func persistence(op string, err error) error {
	return &models.PersistenceError{Op: op, Err: err}
}

type tx struct {
	tx *sqlx.Tx
}

func (t *tx) InsertOrder(ctx context.Context, order *models.Order) error {
	err := t.tx.QueryRowxContext(ctx,
		"INSERT INTO orders (user_id, cart_id, status, total_amount) VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		order.UserID, order.CartID, order.Status, order.TotalAmount,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return persistence("insert order", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := t.tx.QueryRowxContext(ctx,
			"INSERT INTO order_items (order_id, movie_id, price_at_order) VALUES ($1, $2, $3) RETURNING id",
			item.OrderID, item.MovieID, item.PriceAtOrder,
		).Scan(&item.ID)
		if err != nil {
			return persistence("insert order item", err)
		}
	}
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return t.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return t.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (t *tx) getOrder(ctx context.Context, query string, id int64) (*models.Order, error) {
	var order models.Order
	if err := t.tx.GetContext(ctx, &order, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
		}
		return nil, persistence("get order", err)
	}

	items := []models.OrderItem{}
	err := t.tx.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, persistence("get order items", err)
	}
	order.Items = items
	return &order, nil
}

func (t *tx) ListOrdersByUser(ctx context.Context, userID int64) ([]*models.Order, error) {
	orders := []*models.Order{}
	err := t.tx.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY id DESC", userID)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		o.Items = []models.OrderItem{}
		byID[o.ID] = o
	}

	var items []models.OrderItem
	err = t.tx.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = ANY($1) ORDER BY id", pq.Array(ids))
	if err != nil {
		return nil, persistence("list order items", err)
	}
	for _, item := range items {
		o := byID[item.OrderID]
		o.Items = append(o.Items, item)
	}
	return orders, nil
}

func (t *tx) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	result, err := t.tx.ExecContext(ctx, "UPDATE orders SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return persistence("update order status", err)
	}
	return expectRow(result, "update order status", fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound))
}

func (t *tx) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = $1", id); err != nil {
		return persistence("delete order items", err)
	}
	result, err := t.tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return persistence("delete order", err)
	}
	return expectRow(result, "delete order", fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound))
}

func (t *tx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	err := t.tx.QueryRowxContext(ctx,
		"INSERT INTO payments (user_id, order_id, status, amount, refunded_amount) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		payment.UserID, payment.OrderID, payment.Status, payment.Amount, payment.RefundedAmount,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("order %d: %w", payment.OrderID, models.ErrDuplicatePendingPayment)
		}
		return persistence("insert payment", err)
	}
	return nil
}

func (t *tx) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	return t.getPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
}

func (t *tx) GetPaymentForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	return t.getPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", id)
}

func (t *tx) getPayment(ctx context.Context, query string, id int64) (*models.Payment, error) {
	var payment models.Payment
	if err := t.tx.GetContext(ctx, &payment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment %d: %w", id, models.ErrPaymentNotFound)
		}
		return nil, persistence("get payment", err)
	}

	items := []models.PaymentItem{}
	err := t.tx.SelectContext(ctx, &items,
		"SELECT "+paymentItemColumns+" FROM payment_items WHERE payment_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, persistence("get payment items", err)
	}
	payment.Items = items
	return &payment, nil
}

func (t *tx) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]*models.Payment, error) {
	payments := []*models.Payment{}
	err := t.tx.SelectContext(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, persistence("list payments", err)
	}
	if len(payments) == 0 {
		return payments, nil
	}

	ids := make([]int64, len(payments))
	byID := make(map[int64]*models.Payment, len(payments))
	for i, p := range payments {
		ids[i] = p.ID
		p.Items = []models.PaymentItem{}
		byID[p.ID] = p
	}

	var items []models.PaymentItem
	err = t.tx.SelectContext(ctx, &items,
		"SELECT "+paymentItemColumns+" FROM payment_items WHERE payment_id = ANY($1) ORDER BY id", pq.Array(ids))
	if err != nil {
		return nil, persistence("list payment items", err)
	}
	for _, item := range items {
		p := byID[item.PaymentID]
		p.Items = append(p.Items, item)
	}
	return payments, nil
}

func (t *tx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	result, err := t.tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, external_payment_id = $2, refunded_amount = $3, failure_reason = $4 WHERE id = $5",
		payment.Status, payment.ExternalRef, payment.RefundedAmount, payment.FailureReason, payment.ID,
	)
	if err != nil {
		return persistence("update payment", err)
	}
	return expectRow(result, "update payment", fmt.Errorf("payment %d: %w", payment.ID, models.ErrPaymentNotFound))
}

func (t *tx) InsertPaymentItems(ctx context.Context, items []models.PaymentItem) error {
	for i := range items {
		item := &items[i]
		err := t.tx.QueryRowxContext(ctx,
			"INSERT INTO payment_items (payment_id, order_item_id, price_at_payment) VALUES ($1, $2, $3) RETURNING id",
			item.PaymentID, item.OrderItemID, item.PriceAtPayment,
		).Scan(&item.ID)
		if err != nil {
			return persistence("insert payment item", err)
		}
	}
	return nil
}

func (t *tx) DeletePaymentsByOrder(ctx context.Context, orderID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM payment_items WHERE payment_id IN (SELECT id FROM payments WHERE order_id = $1)", orderID)
	if err != nil {
		return persistence("delete payment items", err)
	}
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM payments WHERE order_id = $1", orderID); err != nil {
		return persistence("delete payments", err)
	}
	return nil
}

func expectRow(result sql.Result, op string, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return persistence(op, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
