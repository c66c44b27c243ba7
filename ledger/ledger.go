package ledger

import (
	"context"
	"errors"
	"fmt"

	"cinema-svc/models"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Catalog prices movies at order time.
type Catalog interface {
	CurrentPrice(ctx context.Context, movieID int64) (decimal.Decimal, error)
}

type Ledger struct {
	store     models.Store
	catalog   Catalog
	publisher models.EventPublisher
	logger    *zap.Logger
	tracer    trace.Tracer
}

func New(store models.Store, catalog Catalog, publisher models.EventPublisher, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("cinema-svc/ledger"),
	}
}

// CreateOrder prices every cart line at the current catalog price and stores
// a pending order whose total is the sum of its items.
func (l *Ledger) CreateOrder(ctx context.Context, userID int64, cart models.CartSnapshot) (*models.Order, error) {
	ctx, span := l.tracer.Start(ctx, "CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("cart.id", cart.CartID),
		attribute.Int("cart.lines", len(cart.Lines)),
	)

	if len(cart.Lines) == 0 {
		return nil, fmt.Errorf("%w: cart %d is empty", models.ErrInvalidCart, cart.CartID)
	}

	seen := make(map[int64]struct{}, len(cart.Lines))
	items := make([]models.OrderItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if _, dup := seen[line.MovieID]; dup {
			return nil, fmt.Errorf("%w: movie %d appears more than once", models.ErrInvalidCart, line.MovieID)
		}
		seen[line.MovieID] = struct{}{}

		price, err := l.catalog.CurrentPrice(ctx, line.MovieID)
		if err != nil {
			if errors.Is(err, models.ErrMovieNotFound) {
				return nil, fmt.Errorf("%w: movie %d", models.ErrCatalogItemUnavailable, line.MovieID)
			}
			span.RecordError(err)
			return nil, fmt.Errorf("failed to price movie %d: %w", line.MovieID, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("%w: movie %d has no price", models.ErrCatalogItemUnavailable, line.MovieID)
		}
		items = append(items, models.OrderItem{MovieID: line.MovieID, PriceAtOrder: price})
	}

	order := &models.Order{
		UserID: userID,
		CartID: cart.CartID,
		Status: models.OrderStatusPending,
		Items:  items,
	}
	order.TotalAmount = decimal.NewNullDecimal(order.ItemsTotal())

	err := l.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	l.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("total", order.Total().StringFixed(2)),
		zap.Int("items", len(order.Items)),
	)
	l.publish(ctx, models.OrderEvent(models.EventOrderCreated, order))
	return order, nil
}

// CancelOrder moves a pending order to canceled. Items and total are kept.
func (l *Ledger) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := l.tracer.Start(ctx, "CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	var order *models.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.CanTransitionTo(models.OrderStatusCanceled) {
			return models.OrderStateError(models.ErrInvalidOrderState, o, "only pending orders can be canceled")
		}
		if err := tx.UpdateOrderStatus(ctx, o.ID, models.OrderStatusCanceled); err != nil {
			return err
		}
		o.Status = models.OrderStatusCanceled
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}

	l.logger.Info("Order canceled", zap.Int64("order_id", order.ID))
	l.publish(ctx, models.OrderEvent(models.EventOrderCanceled, order))
	return order, nil
}

// MarkPaid runs MarkPaidTx in its own unit of work.
func (l *Ledger) MarkPaid(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		o, err := l.MarkPaidTx(ctx, tx, orderID)
		order = o
		return err
	})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, models.OrderEvent(models.EventOrderPaid, order))
	return order, nil
}

// MarkPaidTx marks the order paid inside the caller's unit of work once the
// settled payments cover its total. The caller publishes the resulting event
// after commit.
func (l *Ledger) MarkPaidTx(ctx context.Context, tx models.Tx, orderID int64) (*models.Order, error) {
	ctx, span := l.tracer.Start(ctx, "MarkPaid")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	o, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark order %d paid: %w", orderID, err)
	}
	if !o.Status.CanTransitionTo(models.OrderStatusPaid) {
		return nil, models.OrderStateError(models.ErrInvalidOrderState, o, "only pending orders can be paid")
	}
	if len(o.Items) == 0 {
		return nil, models.OrderStateError(models.ErrInvalidOrderState, o, "order has no items")
	}

	payments, err := tx.ListPaymentsByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark order %d paid: %w", orderID, err)
	}
	covered := models.CoveredTotal(payments)
	if covered.LessThan(o.Total()) {
		return nil, models.OrderStateError(models.ErrUnderpaidOrder, o,
			fmt.Sprintf("total %s, covered %s", o.Total().StringFixed(2), covered.StringFixed(2)))
	}

	if err := tx.UpdateOrderStatus(ctx, o.ID, models.OrderStatusPaid); err != nil {
		return nil, fmt.Errorf("failed to mark order %d paid: %w", orderID, err)
	}
	o.Status = models.OrderStatusPaid

	l.logger.Info("Order paid", zap.Int64("order_id", o.ID), zap.String("total", o.Total().StringFixed(2)))
	return o, nil
}

// DeleteOrder removes the order together with its payments, payment items and
// order items. Paid orders, pending orders that already saw a payment attempt
// and canceled orders still holding or awaiting money are kept.
func (l *Ledger) DeleteOrder(ctx context.Context, orderID int64) error {
	ctx, span := l.tracer.Start(ctx, "DeleteOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	var order *models.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		payments, err := tx.ListPaymentsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		switch o.Status {
		case models.OrderStatusCanceled:
			for _, p := range payments {
				if holdsMoney(p.Status) {
					return models.OrderStateError(models.ErrInvalidOrderState, o,
						fmt.Sprintf("payment %d is %s", p.ID, p.Status))
				}
			}
		case models.OrderStatusPending:
			if len(payments) > 0 {
				return models.OrderStateError(models.ErrInvalidOrderState, o, "order has payment attempts")
			}
		default:
			return models.OrderStateError(models.ErrInvalidOrderState, o, "paid orders cannot be deleted")
		}

		if err := tx.DeletePaymentsByOrder(ctx, o.ID); err != nil {
			return err
		}
		if err := tx.DeleteOrder(ctx, o.ID); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete order %d: %w", orderID, err)
	}

	l.logger.Info("Order deleted", zap.Int64("order_id", orderID))
	l.publish(ctx, models.OrderEvent(models.EventOrderDeleted, order))
	return nil
}

// holdsMoney reports whether a payment in this status is, or may become, a
// record of money received.
func holdsMoney(status models.PaymentStatus) bool {
	return status.IsSettled() || status == models.PaymentStatusPartiallyRefunded ||
		status == models.PaymentStatusPending
}

func (l *Ledger) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		order = o
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (l *Ledger) ListOrders(ctx context.Context, userID int64) ([]*models.Order, error) {
	var orders []*models.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		list, err := tx.ListOrdersByUser(ctx, userID)
		orders = list
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (l *Ledger) publish(ctx context.Context, event models.Event) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, event); err != nil {
		// The order is already committed; delivery failures are only logged.
		l.logger.Error("Failed to publish order event",
			zap.String("event_type", event.Type),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
