package service

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// InitiatePayment calls the gateway for an order's initiated payment and
// stores the returned reference. It is driven by the payment worker on
// order.created; a failed payment is re-opened and retried. Cash payments
// and payments that already carry a reference are left alone.
func (o *Orchestrator) InitiatePayment(ctx context.Context, orderID string) (*models.Payment, error) {
	return o.initiatePayment(ctx, nil, orderID)
}

// RetryPayment is the buyer asking for another gateway attempt after a failure.
func (o *Orchestrator) RetryPayment(ctx context.Context, actor models.Actor, orderID string) (*models.Payment, error) {
	return o.initiatePayment(ctx, &actor, orderID)
}

func (o *Orchestrator) initiatePayment(ctx context.Context, actor *models.Actor, orderID string) (payment *models.Payment, err error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.InitiatePayment")
	defer func() { util.EndSpan(span, err) }()
	defer func() { o.recordFailure("initiate_payment", err) }()

	unlock, err := o.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		order   *models.Order
		pending bool
	)
	err = o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if order, err = o.loadOrder(ctx, tx, orderID, "initiate_payment"); err != nil {
			return err
		}
		if actor != nil {
			if err := authorize(*actor, ActionPay, order, nil); err != nil {
				return err
			}
		}
		if payment, err = tx.GetPaymentByOrder(ctx, orderID); err != nil {
			return err
		}

		if order.Status.IsTerminal() {
			return errs.New(errs.CodeIllegalPaymentState, "order is closed").
				With("order_id", order.ID).
				With("order_status", string(order.Status))
		}
		if payment.Method == models.PaymentMethodCash {
			return nil
		}

		switch payment.State {
		case models.PaymentStateFailed:
			if err := o.payments.Reinitiate(ctx, tx, payment, o.now()); err != nil {
				return err
			}
			pending = true
		case models.PaymentStateInitiated:
			pending = payment.ExternalReference == ""
		}
		return nil
	})
	if err != nil || !pending {
		return payment, err
	}

	start := time.Now()
	reference, gwErr := o.gateway.InitiatePayment(ctx, payment.GatewayRequest())
	if gwErr != nil {
		util.GatewayRequestLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		o.logger.Warn("Payment gateway call failed",
			zap.String("order_id", order.ID),
			zap.Error(gwErr))
		if _, err := o.failPayment(ctx, orderID, gwErr.Error()); err != nil {
			return nil, err
		}
		return nil, errs.Wrap(errs.CodeInternal, gwErr, "payment gateway unavailable").With("order_id", order.ID)
	}
	util.GatewayRequestLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	err = o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetPaymentByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := o.payments.AttachReference(ctx, tx, current, reference, o.now()); err != nil {
			return err
		}
		payment = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Payment initiated",
		zap.String("order_id", orderID),
		zap.String("external_reference", reference),
		zap.String("method", string(payment.Method)))
	return payment, nil
}

// failPayment is used while the order lock is already held.
func (o *Orchestrator) failPayment(ctx context.Context, orderID, reason string) (*models.Payment, error) {
	var (
		payment *models.Payment
		event   *models.OrderEvent
	)
	err := o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if payment, err = tx.GetPaymentByOrder(ctx, orderID); err != nil {
			return err
		}
		changed, err := o.payments.MarkFailed(ctx, tx, payment, reason, o.now())
		if err != nil {
			return err
		}
		if changed {
			event = o.newEvent(models.EventTypePaymentFailed, order, order.BuyerID, map[string]any{
				"payment_id": payment.ID,
				"reason":     reason,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if event != nil {
		o.notify(ctx, event)
	}
	return payment, nil
}

// resolveReference finds the order a gateway reference belongs to. The
// gateway may call back before InitiatePayment has stored the reference, so
// an unknown reference is reported as contention the caller should retry.
func (o *Orchestrator) resolveReference(ctx context.Context, reference string) (string, error) {
	if reference == "" {
		return "", errs.New(errs.CodeValidation, "external_reference is required")
	}
	var orderID string
	err := o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payment, err := tx.GetPaymentByReference(ctx, reference)
		if errors.Is(err, errs.ErrNotFound) {
			return errs.New(errs.CodeConcurrentModification, "payment reference is not recorded yet").
				With("external_reference", reference)
		}
		if err != nil {
			return err
		}
		orderID = payment.OrderID
		return nil
	})
	return orderID, err
}

// HandlePaymentConfirmed marks the payment behind reference as held.
// Replays for an already held payment succeed without changes.
func (o *Orchestrator) HandlePaymentConfirmed(ctx context.Context, reference string) (payment *models.Payment, err error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandlePaymentConfirmed")
	defer func() { util.EndSpan(span, err) }()
	defer func() { o.recordFailure("payment_confirmed", err) }()

	orderID, err := o.resolveReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	unlock, err := o.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var event *models.OrderEvent
	err = o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if payment, err = tx.GetPaymentByOrder(ctx, orderID); err != nil {
			return err
		}
		changed, err := o.payments.MarkHeld(ctx, tx, payment, reference, o.now())
		if err != nil {
			return err
		}
		if changed {
			event = o.newEvent(models.EventTypePaymentHeld, order, order.BuyerID, map[string]any{
				"payment_id":         payment.ID,
				"external_reference": reference,
			})
		}
		return nil
	})
	if err != nil {
		if errs.CodeOf(err) == errs.CodeIllegalPaymentState {
			o.logger.Warn("Gateway confirmed a payment that can no longer be held",
				zap.String("order_id", orderID),
				zap.String("external_reference", reference),
				zap.Error(err))
		}
		return nil, err
	}

	if event != nil {
		o.notify(ctx, event)
	}
	return payment, nil
}

// HandlePaymentFailed records a declined payment. Replays are no-ops.
func (o *Orchestrator) HandlePaymentFailed(ctx context.Context, reference, reason string) (payment *models.Payment, err error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandlePaymentFailed")
	defer func() { util.EndSpan(span, err) }()
	defer func() { o.recordFailure("payment_failed", err) }()

	orderID, err := o.resolveReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	unlock, err := o.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if reason == "" {
		reason = "declined by gateway"
	}
	return o.failPayment(ctx, orderID, reason)
}
