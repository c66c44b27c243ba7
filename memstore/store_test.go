package memstore

import (
	"context"
	"errors"
	"testing"

	"cinema-svc/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(userID int64, prices ...string) *models.Order {
	order := &models.Order{UserID: userID, CartID: 1, Status: models.OrderStatusPending}
	for i, p := range prices {
		order.Items = append(order.Items, models.OrderItem{MovieID: int64(i + 1), PriceAtOrder: decimal.RequireFromString(p)})
	}
	order.TotalAmount = decimal.NewNullDecimal(order.ItemsTotal())
	return order
}

func TestInTx_CommitAssignsIDs(t *testing.T) {
	store := New()
	ctx := context.Background()

	order := newOrder(7, "10.00", "5.00")
	err := store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		return tx.InsertOrder(ctx, order)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), order.ID)
	assert.Equal(t, int64(1), order.Items[0].ID)
	assert.Equal(t, int64(2), order.Items[1].ID)
	assert.False(t, order.CreatedAt.IsZero())

	err = store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		got, err := tx.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Len(t, got.Items, 2)
		assert.True(t, got.Total().Equal(decimal.RequireFromString("15.00")))
		return nil
	})
	require.NoError(t, err)
}

func TestInTx_ErrorRollsBack(t *testing.T) {
	store := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		if err := tx.InsertOrder(ctx, newOrder(1, "3.00")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		orders, err := tx.ListOrdersByUser(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, orders)
		_, err = tx.GetOrder(ctx, 1)
		assert.ErrorIs(t, err, models.ErrOrderNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestReadsReturnCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	order := newOrder(1, "3.00")

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		return tx.InsertOrder(ctx, order)
	}))

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		got, err := tx.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		got.Status = models.OrderStatusCanceled
		got.Items[0].PriceAtOrder = decimal.Zero
		return nil
	}))

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		got, err := tx.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, got.Status)
		assert.True(t, got.Items[0].PriceAtOrder.Equal(decimal.RequireFromString("3.00")))
		return nil
	}))
}

func TestPayments_ItemsAndCascade(t *testing.T) {
	store := New()
	ctx := context.Background()
	order := newOrder(1, "4.00", "6.00")

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		first := &models.Payment{UserID: 1, OrderID: order.ID, Status: models.PaymentStatusSuccessful, Amount: decimal.RequireFromString("4.00")}
		second := &models.Payment{UserID: 1, OrderID: order.ID, Status: models.PaymentStatusPending, Amount: decimal.RequireFromString("6.00")}
		if err := tx.InsertPayment(ctx, first); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, second); err != nil {
			return err
		}
		return tx.InsertPaymentItems(ctx, []models.PaymentItem{
			{PaymentID: first.ID, OrderItemID: order.Items[0].ID, PriceAtPayment: decimal.RequireFromString("4.00")},
		})
	}))

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		payments, err := tx.ListPaymentsByOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, payments, 2)
		assert.Less(t, payments[0].ID, payments[1].ID)
		assert.Len(t, payments[0].Items, 1)
		assert.Empty(t, payments[1].Items)

		if err := tx.DeletePaymentsByOrder(ctx, order.ID); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, order.ID)
	}))

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		_, err := tx.GetPayment(ctx, 1)
		assert.ErrorIs(t, err, models.ErrPaymentNotFound)
		_, err = tx.GetOrder(ctx, order.ID)
		assert.ErrorIs(t, err, models.ErrOrderNotFound)
		return nil
	}))
}

func TestUpdatePayment_KeepsItems(t *testing.T) {
	store := New()
	ctx := context.Background()
	order := newOrder(1, "4.00")
	payment := &models.Payment{UserID: 1, Status: models.PaymentStatusPending, Amount: decimal.RequireFromString("4.00")}

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		payment.OrderID = order.ID
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		return tx.InsertPaymentItems(ctx, []models.PaymentItem{
			{PaymentID: payment.ID, OrderItemID: order.Items[0].ID, PriceAtPayment: decimal.RequireFromString("4.00")},
		})
	}))

	ref := "ext-1"
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		p, err := tx.GetPaymentForUpdate(ctx, payment.ID)
		require.NoError(t, err)
		p.Status = models.PaymentStatusSuccessful
		p.ExternalRef = &ref
		p.Items = nil
		return tx.UpdatePayment(ctx, p)
	}))

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		p, err := tx.GetPayment(ctx, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSuccessful, p.Status)
		require.NotNil(t, p.ExternalRef)
		assert.Equal(t, "ext-1", *p.ExternalRef)
		assert.Len(t, p.Items, 1)
		return nil
	}))
}

func TestFailOn_InjectsPersistenceErrorOnce(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.FailOn("InsertOrder", errors.New("disk full"))

	err := store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		return tx.InsertOrder(ctx, newOrder(1, "1.00"))
	})
	require.ErrorIs(t, err, models.ErrPersistence)

	var pErr *models.PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "InsertOrder", pErr.Op)

	err = store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		return tx.InsertOrder(ctx, newOrder(1, "1.00"))
	})
	assert.NoError(t, err)
}

func TestInsertPayment_UnknownOrder(t *testing.T) {
	store := New()
	err := store.InTx(context.Background(), func(ctx context.Context, tx models.Tx) error {
		return tx.InsertPayment(ctx, &models.Payment{OrderID: 42, Status: models.PaymentStatusPending})
	})
	assert.ErrorIs(t, err, models.ErrPersistence)
}

func TestInsertPayment_OnePendingPerOrder(t *testing.T) {
	store := New()
	ctx := context.Background()
	order := newOrder(1, "10.00")
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, &models.Payment{OrderID: order.ID, Status: models.PaymentStatusPending})
	}))

	err := store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		return tx.InsertPayment(ctx, &models.Payment{OrderID: order.ID, Status: models.PaymentStatusPending})
	})
	assert.ErrorIs(t, err, models.ErrDuplicatePendingPayment)

	err = store.InTx(ctx, func(ctx context.Context, tx models.Tx) error {
		return tx.InsertPayment(ctx, &models.Payment{OrderID: order.ID, Status: models.PaymentStatusCanceled})
	})
	assert.NoError(t, err)
}
