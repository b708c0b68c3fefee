package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestReserveThenReleaseRestoresAvailability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger := NewInventoryLedger()

	var reservation *models.Reservation
	require.NoError(t, h.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		reservation, err = ledger.Reserve(ctx, tx, "tomatoes", 4, "o-1")
		return err
	}))
	assert.Equal(t, 6, h.available(t, "tomatoes"))

	require.NoError(t, h.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := ledger.Release(ctx, tx, reservation); err != nil {
			return err
		}
		// Releasing again is a no-op.
		return ledger.Release(ctx, tx, reservation)
	}))
	assert.Equal(t, 10, h.available(t, "tomatoes"))

	err := h.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return ledger.Commit(ctx, tx, reservation)
	})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
}

func TestReserveRejectsOversell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger := NewInventoryLedger()

	err := h.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.Reserve(ctx, tx, "tomatoes", 11, "o-1")
		return err
	})
	assert.True(t, errors.Is(err, errs.ErrInsufficientStock))
	assert.Equal(t, 10, h.available(t, "tomatoes"))

	err = h.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.Reserve(ctx, tx, "tomatoes", 0, "o-1")
		return err
	})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	const (
		stock   = 5
		buyers  = 12
		product = "onions"
	)
	h := newHarness(t)
	ctx := context.Background()
	h.store.SeedProduct(models.Product{
		ID:        product,
		FarmerID:  farmer.ID,
		Name:      "Onions",
		UnitPrice: models.NewMoney(80, "KES"),
		Available: stock,
	})

	actors := make([]models.Actor, buyers)
	for i := range actors {
		actors[i] = models.Actor{ID: "buyer-" + string(rune('a'+i)), Role: models.RoleBuyer}
		_, err := h.carts.AddItem(ctx, actors[i], AddToCartRequest{ProductID: product, Quantity: 1})
		require.NoError(t, err)
	}

	var (
		mu        sync.Mutex
		succeeded int
		rejected  int
		other     []error
	)
	var g errgroup.Group
	for _, actor := range actors {
		actor := actor
		g.Go(func() error {
			_, err := h.orch.Checkout(ctx, actor, CheckoutRequest{DeliveryAddress: "Nakuru", PaymentMethod: models.PaymentMethodCash})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, errs.ErrInsufficientStock):
				rejected++
			default:
				other = append(other, err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Empty(t, other)
	assert.Equal(t, stock, succeeded)
	assert.Equal(t, buyers-stock, rejected)
	assert.Equal(t, 0, h.available(t, product))
}
