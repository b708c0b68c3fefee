package service

import (
	"context"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentLedger owns the escrow-style payment state of each order.
type PaymentLedger struct {
	logger *zap.Logger
}

func NewPaymentLedger() *PaymentLedger {
	return &PaymentLedger{logger: util.GetLogger()}
}

func illegalPayment(p *models.Payment, attempted models.PaymentState) *errs.Error {
	return errs.Newf(errs.CodeIllegalPaymentState, "payment cannot move from %s to %s", p.State, attempted).
		With("payment_id", p.ID).
		With("order_id", p.OrderID).
		With("current_state", string(p.State)).
		With("attempted_state", string(attempted))
}

func (l *PaymentLedger) save(ctx context.Context, tx store.Tx, p *models.Payment, now time.Time) error {
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return err
	}
	util.PaymentStateChanges.WithLabelValues(string(p.Method), string(p.State)).Inc()
	return nil
}

// Initiate opens the order's payment record for its total.
func (l *PaymentLedger) Initiate(ctx context.Context, tx store.Tx, order *models.Order, method models.PaymentMethod, now time.Time) (*models.Payment, error) {
	if !method.Valid() {
		return nil, errs.Newf(errs.CodeValidation, "unsupported payment method %q", method)
	}
	p := &models.Payment{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Amount:    order.Total,
		Method:    method,
		State:     models.PaymentStateInitiated,
		Attempt:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	util.PaymentStateChanges.WithLabelValues(string(method), string(p.State)).Inc()
	return p, nil
}

// Reinitiate moves a failed payment back to initiated for another gateway attempt.
func (l *PaymentLedger) Reinitiate(ctx context.Context, tx store.Tx, p *models.Payment, now time.Time) error {
	if p.State != models.PaymentStateFailed {
		return illegalPayment(p, models.PaymentStateInitiated)
	}
	p.State = models.PaymentStateInitiated
	p.ExternalReference = ""
	p.FailureReason = ""
	p.Attempt++
	return l.save(ctx, tx, p, now)
}

// AttachReference stores the gateway reference of an initiated payment.
func (l *PaymentLedger) AttachReference(ctx context.Context, tx store.Tx, p *models.Payment, reference string, now time.Time) error {
	if p.State != models.PaymentStateInitiated {
		return illegalPayment(p, models.PaymentStateInitiated)
	}
	p.ExternalReference = reference
	p.UpdatedAt = now
	return tx.UpdatePayment(ctx, p)
}

// MarkHeld records captured funds. It reports false when the payment was
// already held, which makes webhook replays no-ops.
func (l *PaymentLedger) MarkHeld(ctx context.Context, tx store.Tx, p *models.Payment, reference string, now time.Time) (bool, error) {
	if p.State == models.PaymentStateHeld {
		return false, nil
	}
	if p.State != models.PaymentStateInitiated {
		return false, illegalPayment(p, models.PaymentStateHeld)
	}
	p.State = models.PaymentStateHeld
	if reference != "" {
		p.ExternalReference = reference
	}
	return true, l.save(ctx, tx, p, now)
}

// MarkFailed records a declined or errored gateway attempt. Replays are no-ops.
func (l *PaymentLedger) MarkFailed(ctx context.Context, tx store.Tx, p *models.Payment, reason string, now time.Time) (bool, error) {
	if p.State == models.PaymentStateFailed {
		return false, nil
	}
	if p.State != models.PaymentStateInitiated {
		return false, illegalPayment(p, models.PaymentStateFailed)
	}
	p.State = models.PaymentStateFailed
	p.FailureReason = reason
	return true, l.save(ctx, tx, p, now)
}

// Release pays out held funds once the order is COMPLETED.
func (l *PaymentLedger) Release(ctx context.Context, tx store.Tx, p *models.Payment, order *models.Order, now time.Time) error {
	if order.Status != models.OrderStatusCompleted || p.State != models.PaymentStateHeld {
		return illegalPayment(p, models.PaymentStateReleased).With("order_status", string(order.Status))
	}
	p.State = models.PaymentStateReleased
	l.logger.Info("Payment released",
		zap.String("order_id", order.ID),
		zap.String("payment_id", p.ID),
		zap.Int64("amount", p.Amount.Amount))
	return l.save(ctx, tx, p, now)
}

// Refund voids an initiated payment or returns held funds once the order is CANCELLED.
func (l *PaymentLedger) Refund(ctx context.Context, tx store.Tx, p *models.Payment, order *models.Order, now time.Time) error {
	if order.Status != models.OrderStatusCancelled {
		return illegalPayment(p, models.PaymentStateRefunded).With("order_status", string(order.Status))
	}
	if p.State != models.PaymentStateInitiated && p.State != models.PaymentStateHeld {
		return illegalPayment(p, models.PaymentStateRefunded)
	}
	p.State = models.PaymentStateRefunded
	l.logger.Info("Payment refunded",
		zap.String("order_id", order.ID),
		zap.String("payment_id", p.ID),
		zap.Int64("amount", p.Amount.Amount))
	return l.save(ctx, tx, p, now)
}
