package service

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InventoryLedger reserves, commits and releases product quantity against the
// catalog. All methods run inside the caller's transaction.
type InventoryLedger struct {
	logger *zap.Logger
}

func NewInventoryLedger() *InventoryLedger {
	return &InventoryLedger{logger: util.GetLogger()}
}

// Reserve decrements availability and records a reservation for orderID.
func (l *InventoryLedger) Reserve(ctx context.Context, tx store.Tx, productID string, quantity int, orderID string) (*models.Reservation, error) {
	if quantity <= 0 {
		return nil, errs.New(errs.CodeValidation, "quantity must be greater than 0").With("product_id", productID)
	}

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if _, err := tx.AdjustAvailability(ctx, productID, -quantity); err != nil {
		switch {
		case errors.Is(err, errs.ErrInsufficientStock):
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		case errors.Is(err, errs.ErrNotFound):
			util.InventoryReservationsFailed.WithLabelValues("unknown_product").Inc()
		default:
			util.InventoryReservationsFailed.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	r := &models.Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		State:     models.ReservationReserved,
	}
	if err := tx.CreateReservation(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Commit makes a reservation's decrement permanent. Committing twice is a no-op.
func (l *InventoryLedger) Commit(ctx context.Context, tx store.Tx, r *models.Reservation) error {
	switch r.State {
	case models.ReservationCommitted:
		return nil
	case models.ReservationReleased:
		return errs.New(errs.CodeInvalidTransition, "reservation was already released").
			With("reservation_id", r.ID).
			With("order_id", r.OrderID)
	}
	r.State = models.ReservationCommitted
	return tx.UpdateReservation(ctx, r)
}

// Release restores the reserved quantity. Releasing twice is a no-op.
func (l *InventoryLedger) Release(ctx context.Context, tx store.Tx, r *models.Reservation) error {
	if r.State == models.ReservationReleased {
		return nil
	}
	if _, err := tx.AdjustAvailability(ctx, r.ProductID, r.Quantity); err != nil {
		return err
	}
	r.State = models.ReservationReleased
	return tx.UpdateReservation(ctx, r)
}

// ReleaseOrder releases every reservation recorded for orderID and returns how
// many units went back to the catalog.
func (l *InventoryLedger) ReleaseOrder(ctx context.Context, tx store.Tx, orderID string) (int, error) {
	reservations, err := tx.ListReservations(ctx, orderID)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, r := range reservations {
		if r.State == models.ReservationReleased {
			continue
		}
		if err := l.Release(ctx, tx, r); err != nil {
			return 0, err
		}
		restored += r.Quantity
	}

	l.logger.Debug("Released order reservations",
		zap.String("order_id", orderID),
		zap.Int("units", restored))
	return restored, nil
}
