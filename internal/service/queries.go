package service

import (
	"context"
	"errors"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
)

// GetOrder returns an order with its payment and delivery to a party of the order.
func (o *Orchestrator) GetOrder(ctx context.Context, actor models.Actor, orderID string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.GetOrder")
	defer span.End()

	var view OrderView
	err := o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		delivery, err := o.delivery.Find(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := authorize(actor, ActionView, order, delivery); err != nil {
			return err
		}
		payment, err := tx.GetPaymentByOrder(ctx, orderID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		view = OrderView{Order: order, Payment: payment, Delivery: delivery}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListOrders returns the orders the actor is a party to, newest first.
// Admins and cooperatives see every order.
func (o *Orchestrator) ListOrders(ctx context.Context, actor models.Actor, req ListOrdersRequest) ([]*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.ListOrders")
	defer span.End()

	filter := store.OrderFilter{Status: req.Status, Limit: req.Limit, Offset: req.Offset}
	switch actor.Role {
	case models.RoleBuyer:
		filter.BuyerID = actor.ID
	case models.RoleFarmer:
		filter.FarmerID = actor.ID
	case models.RoleTransporter:
		filter.TransporterID = actor.ID
	case models.RoleAdmin, models.RoleCooperative:
	default:
		return nil, unauthorized(actor, ActionView, nil)
	}
	if actor.ID == "" {
		return nil, unauthorized(actor, ActionView, nil)
	}

	var orders []*models.Order
	err := o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		orders, err = tx.ListOrders(ctx, filter)
		return err
	})
	return orders, err
}

// GetTracking returns the delivery timeline in chronological order.
func (o *Orchestrator) GetTracking(ctx context.Context, actor models.Actor, orderID string) ([]models.TrackingUpdate, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.GetTracking")
	defer span.End()

	var timeline []models.TrackingUpdate
	err := o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		delivery, err := o.delivery.Find(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := authorize(actor, ActionView, order, delivery); err != nil {
			return err
		}
		if delivery == nil {
			timeline = []models.TrackingUpdate{}
			return nil
		}
		timeline, err = o.delivery.Timeline(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return timeline, nil
}
