// Package memstore keeps orders and payments in process memory. A single mutex
// serializes units of work, so every InTx call observes a consistent snapshot
// and either commits completely or not at all.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cinema-svc/models"
)

type Store struct {
	mu    sync.Mutex
	data  *data
	fail  map[string]error
	clock func() time.Time
}

type data struct {
	orders            map[int64]*models.Order
	payments          map[int64]*models.Payment
	nextOrderID       int64
	nextOrderItemID   int64
	nextPaymentID     int64
	nextPaymentItemID int64
}

func New() *Store {
	return &Store{
		data: &data{
			orders:   make(map[int64]*models.Order),
			payments: make(map[int64]*models.Payment),
		},
		fail:  make(map[string]error),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// FailOn makes the next call of the named repository method return err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx models.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &tx{store: s, data: s.data.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (d *data) clone() *data {
	c := &data{
		orders:            make(map[int64]*models.Order, len(d.orders)),
		payments:          make(map[int64]*models.Payment, len(d.payments)),
		nextOrderID:       d.nextOrderID,
		nextOrderItemID:   d.nextOrderItemID,
		nextPaymentID:     d.nextPaymentID,
		nextPaymentItemID: d.nextPaymentItemID,
	}
	for id, o := range d.orders {
		c.orders[id] = copyOrder(o)
	}
	for id, p := range d.payments {
		c.payments[id] = copyPayment(p)
	}
	return c
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}

func copyPayment(p *models.Payment) *models.Payment {
	c := *p
	c.Items = append([]models.PaymentItem(nil), p.Items...)
	if p.ExternalRef != nil {
		ref := *p.ExternalRef
		c.ExternalRef = &ref
	}
	if p.FailureReason != nil {
		reason := *p.FailureReason
		c.FailureReason = &reason
	}
	return &c
}

type tx struct {
	store *Store
	data  *data
}

func (t *tx) injected(op string) error {
	err, ok := t.store.fail[op]
	if !ok {
		return nil
	}
	delete(t.store.fail, op)
	return &models.PersistenceError{Op: op, Err: err}
}

func (t *tx) InsertOrder(ctx context.Context, order *models.Order) error {
	if err := t.injected("InsertOrder"); err != nil {
		return err
	}
	t.data.nextOrderID++
	order.ID = t.data.nextOrderID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = t.store.clock()
	}
	for i := range order.Items {
		t.data.nextOrderItemID++
		order.Items[i].ID = t.data.nextOrderItemID
		order.Items[i].OrderID = order.ID
	}
	t.data.orders[order.ID] = copyOrder(order)
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	if err := t.injected("GetOrder"); err != nil {
		return nil, err
	}
	o, ok := t.data.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
	}
	return copyOrder(o), nil
}

// GetOrderForUpdate needs no row lock: the store mutex is held for the whole unit of work.
func (t *tx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *tx) ListOrdersByUser(ctx context.Context, userID int64) ([]*models.Order, error) {
	if err := t.injected("ListOrdersByUser"); err != nil {
		return nil, err
	}
	orders := make([]*models.Order, 0)
	for _, o := range t.data.orders {
		if o.UserID == userID {
			orders = append(orders, copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (t *tx) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	if err := t.injected("UpdateOrderStatus"); err != nil {
		return err
	}
	o, ok := t.data.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
	}
	o.Status = status
	return nil
}

func (t *tx) DeleteOrder(ctx context.Context, id int64) error {
	if err := t.injected("DeleteOrder"); err != nil {
		return err
	}
	if _, ok := t.data.orders[id]; !ok {
		return fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
	}
	delete(t.data.orders, id)
	return nil
}

func (t *tx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	if err := t.injected("InsertPayment"); err != nil {
		return err
	}
	if _, ok := t.data.orders[payment.OrderID]; !ok {
		return &models.PersistenceError{Op: "InsertPayment", Err: fmt.Errorf("order %d does not exist", payment.OrderID)}
	}
	if payment.Status == models.PaymentStatusPending {
		for _, p := range t.data.payments {
			if p.OrderID == payment.OrderID && p.Status == models.PaymentStatusPending {
				return fmt.Errorf("order %d: %w", payment.OrderID, models.ErrDuplicatePendingPayment)
			}
		}
	}
	t.data.nextPaymentID++
	payment.ID = t.data.nextPaymentID
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = t.store.clock()
	}
	t.data.payments[payment.ID] = copyPayment(payment)
	return nil
}

func (t *tx) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	if err := t.injected("GetPayment"); err != nil {
		return nil, err
	}
	p, ok := t.data.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %d: %w", id, models.ErrPaymentNotFound)
	}
	return copyPayment(p), nil
}

func (t *tx) GetPaymentForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	return t.GetPayment(ctx, id)
}

func (t *tx) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]*models.Payment, error) {
	if err := t.injected("ListPaymentsByOrder"); err != nil {
		return nil, err
	}
	payments := make([]*models.Payment, 0)
	for _, p := range t.data.payments {
		if p.OrderID == orderID {
			payments = append(payments, copyPayment(p))
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].ID < payments[j].ID })
	return payments, nil
}

func (t *tx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	if err := t.injected("UpdatePayment"); err != nil {
		return err
	}
	p, ok := t.data.payments[payment.ID]
	if !ok {
		return fmt.Errorf("payment %d: %w", payment.ID, models.ErrPaymentNotFound)
	}
	items := p.Items
	updated := copyPayment(payment)
	updated.Items = items
	t.data.payments[payment.ID] = updated
	return nil
}

func (t *tx) InsertPaymentItems(ctx context.Context, items []models.PaymentItem) error {
	if err := t.injected("InsertPaymentItems"); err != nil {
		return err
	}
	for i := range items {
		p, ok := t.data.payments[items[i].PaymentID]
		if !ok {
			return &models.PersistenceError{Op: "InsertPaymentItems", Err: fmt.Errorf("payment %d does not exist", items[i].PaymentID)}
		}
		t.data.nextPaymentItemID++
		items[i].ID = t.data.nextPaymentItemID
		p.Items = append(p.Items, items[i])
	}
	return nil
}

func (t *tx) DeletePaymentsByOrder(ctx context.Context, orderID int64) error {
	if err := t.injected("DeletePaymentsByOrder"); err != nil {
		return err
	}
	for id, p := range t.data.payments {
		if p.OrderID == orderID {
			delete(t.data.payments, id)
		}
	}
	return nil
}
