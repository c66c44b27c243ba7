package reconciler

import (
	"context"
	"fmt"

	"cinema-svc/models"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderLedger marks orders paid inside the reconciler's unit of work.
type OrderLedger interface {
	MarkPaidTx(ctx context.Context, tx models.Tx, orderID int64) (*models.Order, error)
}

type Reconciler struct {
	store     models.Store
	ledger    OrderLedger
	publisher models.EventPublisher
	logger    *zap.Logger
	tracer    trace.Tracer
}

func New(store models.Store, ledger OrderLedger, publisher models.EventPublisher, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("cinema-svc/reconciler"),
	}
}

// InitiatePayment opens a pending payment for at most the order's outstanding
// balance. An order has at most one pending payment at a time.
func (r *Reconciler) InitiatePayment(ctx context.Context, orderID int64, amount decimal.Decimal) (*models.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "InitiatePayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("payment.amount", amount.String()))

	if err := validateAmount(amount); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrOrderNotPayable, err)
	}

	var payment *models.Payment
	err := r.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return models.OrderStateError(models.ErrOrderNotPayable, order, "only pending orders accept payments")
		}

		payments, err := tx.ListPaymentsByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Status == models.PaymentStatusPending {
				return models.OrderStateError(models.ErrDuplicatePendingPayment, order, fmt.Sprintf("payment %d is pending", p.ID))
			}
		}

		outstanding := order.Total().Sub(models.CoveredTotal(payments))
		if amount.GreaterThan(outstanding) {
			return models.OrderStateError(models.ErrOrderNotPayable, order,
				fmt.Sprintf("amount %s exceeds outstanding %s", amount.StringFixed(2), outstanding.StringFixed(2)))
		}

		payment = &models.Payment{
			UserID:  order.UserID,
			OrderID: order.ID,
			Status:  models.PaymentStatusPending,
			Amount:  amount,
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to initiate payment for order %d: %w", orderID, err)
	}

	span.SetAttributes(attribute.Int64("payment.id", payment.ID))
	r.logger.Info("Payment initiated",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", orderID),
		zap.String("amount", amount.StringFixed(2)),
	)
	r.publish(ctx, models.PaymentEvent(models.EventPaymentInitiated, payment))
	return payment, nil
}

// ConfirmPayment settles a pending payment, allocates it over the order items
// and marks the order paid once its total is covered.
func (r *Reconciler) ConfirmPayment(ctx context.Context, paymentID int64, externalRef string) (*models.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "ConfirmPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", paymentID))

	var (
		payment   *models.Payment
		paidOrder *models.Order
	)
	err := r.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		order, p, err := r.lock(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(models.PaymentStatusSuccessful) {
			return models.PaymentStateError(models.ErrPaymentNotSettleable, p, "only pending payments can be confirmed")
		}

		payments, err := tx.ListPaymentsByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		items := Allocate(order.Items, models.Coverage(payments), p.Amount)
		for i := range items {
			items[i].PaymentID = p.ID
		}

		p.Status = models.PaymentStatusSuccessful
		if externalRef != "" {
			p.ExternalRef = &externalRef
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if len(items) > 0 {
			if err := tx.InsertPaymentItems(ctx, items); err != nil {
				return err
			}
		}
		p.Items = items
		payment = p

		if order.Status != models.OrderStatusPending {
			r.logger.Warn("Payment settled for an order that is no longer pending",
				zap.Int64("payment_id", p.ID),
				zap.Int64("order_id", order.ID),
				zap.String("order_status", order.Status.String()),
			)
			return nil
		}

		covered := models.CoveredTotal(payments).Add(p.Settled())
		if covered.LessThan(order.Total()) {
			return nil
		}
		paidOrder, err = r.ledger.MarkPaidTx(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to confirm payment %d: %w", paymentID, err)
	}

	r.logger.Info("Payment confirmed",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("settled", payment.Settled().StringFixed(2)),
		zap.Bool("order_paid", paidOrder != nil),
	)
	r.publish(ctx, models.PaymentEvent(models.EventPaymentSucceeded, payment))
	if paidOrder != nil {
		r.publish(ctx, models.OrderEvent(models.EventOrderPaid, paidOrder))
	}
	return payment, nil
}

// FailPayment cancels a pending payment. The order stays payable.
func (r *Reconciler) FailPayment(ctx context.Context, paymentID int64, reason string) (*models.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "FailPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", paymentID))

	var payment *models.Payment
	err := r.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		_, p, err := r.lock(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(models.PaymentStatusCanceled) {
			return models.PaymentStateError(models.ErrPaymentNotSettleable, p, "only pending payments can fail")
		}
		p.Status = models.PaymentStatusCanceled
		if reason != "" {
			p.FailureReason = &reason
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fail payment %d: %w", paymentID, err)
	}

	r.logger.Info("Payment failed",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("reason", reason),
	)
	r.publish(ctx, models.PaymentEvent(models.EventPaymentFailed, payment))
	return payment, nil
}

// RefundPayment returns part or all of a successful payment's settlement.
// The order keeps its status.
func (r *Reconciler) RefundPayment(ctx context.Context, paymentID int64, amount decimal.Decimal) (*models.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "RefundPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", paymentID), attribute.String("refund.amount", amount.String()))

	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var payment *models.Payment
	err := r.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		_, p, err := r.lock(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusSuccessful {
			return models.PaymentStateError(models.ErrPaymentNotSettleable, p, "only successful payments can be refunded")
		}
		settled := p.Settled()
		if amount.GreaterThan(settled) {
			return models.PaymentStateError(models.ErrRefundExceedsSettlement, p,
				fmt.Sprintf("refund %s exceeds settled %s", amount.StringFixed(2), settled.StringFixed(2)))
		}

		p.RefundedAmount = amount
		if amount.Equal(settled) {
			p.Status = models.PaymentStatusRefunded
		} else {
			p.Status = models.PaymentStatusPartiallyRefunded
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to refund payment %d: %w", paymentID, err)
	}

	r.logger.Info("Payment refunded",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("status", payment.Status.String()),
	)
	r.publish(ctx, models.PaymentEvent(models.EventPaymentRefunded, payment))
	return payment, nil
}

func (r *Reconciler) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	var payment *models.Payment
	err := r.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		payment = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// ListPayments returns the order's payments, oldest first.
func (r *Reconciler) ListPayments(ctx context.Context, orderID int64) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := r.store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		if _, err := tx.GetOrder(ctx, orderID); err != nil {
			return err
		}
		list, err := tx.ListPaymentsByOrder(ctx, orderID)
		payments = list
		return err
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// lock takes the order row lock before the payment row lock, the same order
// every mutating operation uses.
func (r *Reconciler) lock(ctx context.Context, tx models.Tx, paymentID int64) (*models.Order, *models.Payment, error) {
	unlocked, err := tx.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	order, err := tx.GetOrderForUpdate(ctx, unlocked.OrderID)
	if err != nil {
		return nil, nil, err
	}
	payment, err := tx.GetPaymentForUpdate(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	return order, payment, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", models.ErrInvalidAmount, amount.String())
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than two decimal places", models.ErrInvalidAmount, amount.String())
	}
	return nil
}

func (r *Reconciler) publish(ctx context.Context, event models.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error("Failed to publish payment event",
			zap.String("event_type", event.Type),
			zap.Int64("payment_id", event.PaymentID),
			zap.Error(err),
		)
	}
}
