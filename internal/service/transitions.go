package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

// ConfirmOrder is the farmer accepting a PENDING order.
func (o *Orchestrator) ConfirmOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	return o.mutateOrder(ctx, "confirm", orderID, func(ctx context.Context, tx store.Tx, order *models.Order, now time.Time) ([]*models.OrderEvent, error) {
		if err := authorize(actor, ActionConfirm, order, nil); err != nil {
			return nil, err
		}
		if err := order.Confirm(actor.ID, now); err != nil {
			return nil, err
		}
		return []*models.OrderEvent{o.newEvent(models.EventTypeOrderConfirmed, order, actor.ID, nil)}, nil
	})
}

// AssignTransporter creates the delivery record of a CONFIRMED order. The
// order status is unchanged; the view carries the order and its new record.
func (o *Orchestrator) AssignTransporter(ctx context.Context, actor models.Actor, orderID string, req AssignTransporterRequest) (*OrderView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var record *models.DeliveryRecord
	order, err := o.mutateOrder(ctx, "assign_transporter", orderID, func(ctx context.Context, tx store.Tx, order *models.Order, now time.Time) ([]*models.OrderEvent, error) {
		if err := authorize(actor, ActionAssignTransporter, order, nil); err != nil {
			return nil, err
		}
		if order.Status != models.OrderStatusConfirmed {
			return nil, errs.New(errs.CodeInvalidTransition, "transporters can only be assigned to confirmed orders").
				With("order_id", order.ID).
				With("current_status", string(order.Status)).
				With("attempted_transition", string(ActionAssignTransporter))
		}

		var err error
		record, err = o.delivery.Assign(ctx, tx, order, strings.TrimSpace(req.TransporterID), req.PickupAddress, req.EstimatedAt, now)
		if err != nil {
			return nil, err
		}
		order.PickupAddress = record.PickupAddress

		return []*models.OrderEvent{o.newEvent(models.EventTypeOrderTransporterAssigned, order, actor.ID, map[string]any{
			"transporter_id": record.TransporterID,
			"delivery_id":    record.ID,
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: order, Delivery: record}, nil
}

// AdvanceDelivery records a transporter's tracking update and moves the order
// along IN_TRANSIT and DELIVERED when the update calls for it.
func (o *Orchestrator) AdvanceDelivery(ctx context.Context, actor models.Actor, orderID string, req AdvanceDeliveryRequest) (*models.Order, error) {
	status, err := req.Validate()
	if err != nil {
		return nil, err
	}

	return o.mutateOrder(ctx, "advance_delivery", orderID, func(ctx context.Context, tx store.Tx, order *models.Order, now time.Time) ([]*models.OrderEvent, error) {
		record, err := o.delivery.Find(ctx, tx, order.ID)
		if err != nil {
			return nil, err
		}
		if err := authorize(actor, ActionAdvanceDelivery, order, record); err != nil {
			return nil, err
		}

		payload := map[string]any{
			"tracking_status": string(status),
			"location":        req.Location,
		}
		track := func() error {
			return o.delivery.AddTrackingUpdate(ctx, tx, record, req.Location, status, req.Note, now)
		}

		switch {
		case order.Status == models.OrderStatusConfirmed && (status == models.TrackingPickedUp || status == models.TrackingInTransit):
			if err := track(); err != nil {
				return nil, err
			}
			if err := order.MarkInTransit(actor.ID, now, req.Note); err != nil {
				return nil, err
			}
			return []*models.OrderEvent{o.newEvent(models.EventTypeOrderInTransit, order, actor.ID, payload)}, nil

		case status == models.TrackingDelayed && (order.Status == models.OrderStatusConfirmed || order.Status == models.OrderStatusInTransit),
			order.Status == models.OrderStatusInTransit && (status == models.TrackingPickedUp || status == models.TrackingInTransit):
			if err := track(); err != nil {
				return nil, err
			}
			return []*models.OrderEvent{o.newEvent(models.EventTypeDeliveryUpdated, order, actor.ID, payload)}, nil

		case order.Status == models.OrderStatusInTransit && status == models.TrackingDelivered:
			if err := track(); err != nil {
				return nil, err
			}
			if err := order.MarkDelivered(actor.ID, now, req.Note); err != nil {
				return nil, err
			}
			if err := o.delivery.Complete(ctx, tx, record, now); err != nil {
				return nil, err
			}
			events := []*models.OrderEvent{o.newEvent(models.EventTypeOrderDelivered, order, actor.ID, payload)}

			if order.PaymentMethod == models.PaymentMethodCash {
				held, err := o.collectCash(ctx, tx, order, now)
				if err != nil {
					return nil, err
				}
				if held != nil {
					events = append(events, held)
				}
			}
			return events, nil
		}

		return nil, errs.Newf(errs.CodeInvalidTransition, "cannot record %s on a %s order", status, order.Status).
			With("order_id", order.ID).
			With("current_status", string(order.Status)).
			With("attempted_transition", string(status))
	})
}

// collectCash marks a cash-on-delivery payment as held.
func (o *Orchestrator) collectCash(ctx context.Context, tx store.Tx, order *models.Order, now time.Time) (*models.OrderEvent, error) {
	payment, err := tx.GetPaymentByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	changed, err := o.payments.MarkHeld(ctx, tx, payment, "", now)
	if err != nil || !changed {
		return nil, err
	}
	return o.newEvent(models.EventTypePaymentHeld, order, order.BuyerID, map[string]any{
		"payment_id": payment.ID,
		"method":     string(payment.Method),
	}), nil
}

// CompleteOrder is the buyer acknowledging receipt; it releases the held payment.
func (o *Orchestrator) CompleteOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	return o.mutateOrder(ctx, "complete", orderID, func(ctx context.Context, tx store.Tx, order *models.Order, now time.Time) ([]*models.OrderEvent, error) {
		if err := authorize(actor, ActionComplete, order, nil); err != nil {
			return nil, err
		}
		if !models.CanTransition(order.Status, models.OrderStatusCompleted) {
			return nil, errs.Newf(errs.CodeInvalidTransition, "order cannot move from %s to %s", order.Status, models.OrderStatusCompleted).
				With("order_id", order.ID).
				With("current_status", string(order.Status)).
				With("attempted_status", string(models.OrderStatusCompleted))
		}

		payment, err := tx.GetPaymentByOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if payment.State != models.PaymentStateHeld {
			return nil, errs.New(errs.CodeIllegalPaymentState, "payment has not been captured").
				With("order_id", order.ID).
				With("current_state", string(payment.State))
		}

		if err := order.Complete(actor.ID, now); err != nil {
			return nil, err
		}
		if err := o.payments.Release(ctx, tx, payment, order, now); err != nil {
			return nil, err
		}
		return []*models.OrderEvent{o.newEvent(models.EventTypeOrderCompleted, order, actor.ID, map[string]any{
			"payment_id":    payment.ID,
			"payment_state": string(payment.State),
		})}, nil
	})
}

// CancelOrder returns reserved stock to the catalog and refunds the payment.
func (o *Orchestrator) CancelOrder(ctx context.Context, actor models.Actor, orderID string, req CancelOrderRequest) (*models.Order, error) {
	return o.mutateOrder(ctx, "cancel", orderID, func(ctx context.Context, tx store.Tx, order *models.Order, now time.Time) ([]*models.OrderEvent, error) {
		if err := authorize(actor, ActionCancel, order, nil); err != nil {
			return nil, err
		}
		if err := order.Cancel(actor.ID, req.Reason, now); err != nil {
			return nil, err
		}

		restored, err := o.inventory.ReleaseOrder(ctx, tx, order.ID)
		if err != nil {
			return nil, err
		}

		payload := map[string]any{
			"reason":         order.CancelReason,
			"units_restored": restored,
			"cancelled_by":   string(actor.Role),
		}
		payment, err := tx.GetPaymentByOrder(ctx, order.ID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		if payment != nil && (payment.State == models.PaymentStateInitiated || payment.State == models.PaymentStateHeld) {
			if err := o.payments.Refund(ctx, tx, payment, order, now); err != nil {
				return nil, err
			}
		}
		if payment != nil {
			payload["payment_state"] = string(payment.State)
		}
		return []*models.OrderEvent{o.newEvent(models.EventTypeOrderCancelled, order, actor.ID, payload)}, nil
	})
}

// RateOrder attaches the buyer's one-time rating to a COMPLETED order.
func (o *Orchestrator) RateOrder(ctx context.Context, actor models.Actor, orderID string, req RateOrderRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return o.mutateOrder(ctx, "rate", orderID, func(ctx context.Context, tx store.Tx, order *models.Order, now time.Time) ([]*models.OrderEvent, error) {
		if err := authorize(actor, ActionRate, order, nil); err != nil {
			return nil, err
		}
		if err := order.Rate(actor.ID, req.Score, req.Comment, now); err != nil {
			return nil, err
		}
		return []*models.OrderEvent{o.newEvent(models.EventTypeOrderRated, order, actor.ID, map[string]any{
			"score": req.Score,
		})}, nil
	})
}

// RateBuyer attaches the farmer's one-time rating of the buyer to a COMPLETED order.
func (o *Orchestrator) RateBuyer(ctx context.Context, actor models.Actor, orderID string, req RateOrderRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return o.mutateOrder(ctx, "rate_buyer", orderID, func(ctx context.Context, tx store.Tx, order *models.Order, now time.Time) ([]*models.OrderEvent, error) {
		if err := authorize(actor, ActionRateBuyer, order, nil); err != nil {
			return nil, err
		}
		if err := order.RateBuyer(actor.ID, req.Score, req.Comment, now); err != nil {
			return nil, err
		}
		return []*models.OrderEvent{o.newEvent(models.EventTypeBuyerRated, order, actor.ID, map[string]any{
			"score": req.Score,
		})}, nil
	})
}
