package service

import (
	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
)

// Action names a role-gated operation on an order.
type Action string

const (
	ActionCheckout          Action = "checkout"
	ActionConfirm           Action = "confirm"
	ActionAssignTransporter Action = "assign_transporter"
	ActionAdvanceDelivery   Action = "advance_delivery"
	ActionComplete          Action = "complete"
	ActionCancel            Action = "cancel"
	ActionRate              Action = "rate"
	ActionRateBuyer         Action = "rate_buyer"
	ActionPay               Action = "pay"
	ActionView              Action = "view"
)

func unauthorized(actor models.Actor, act Action, order *models.Order) *errs.Error {
	err := errs.Newf(errs.CodeUnauthorized, "%s may not %s this order", actor.Role, act).
		With("actor_id", actor.ID).
		With("action", string(act))
	if order != nil {
		err = err.With("order_id", order.ID)
	}
	return err
}

// authorize is the single authorization policy for every order operation.
// delivery may be nil when no transporter has been assigned yet; transporter
// operations then fail with INVALID_TRANSITION because no assignment exists.
func authorize(actor models.Actor, act Action, order *models.Order, delivery *models.DeliveryRecord) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return unauthorized(actor, act, order)
	}

	isBuyer := actor.Is(models.RoleBuyer) && order != nil && order.BuyerID == actor.ID
	isFarmer := actor.Is(models.RoleFarmer) && order != nil && order.FarmerID == actor.ID

	switch act {
	case ActionCheckout:
		if actor.Is(models.RoleBuyer) {
			return nil
		}
	case ActionConfirm, ActionRateBuyer:
		if isFarmer {
			return nil
		}
	case ActionAssignTransporter:
		if isFarmer || actor.Is(models.RoleAdmin) {
			return nil
		}
	case ActionAdvanceDelivery:
		if !actor.Is(models.RoleTransporter) {
			break
		}
		if delivery == nil {
			return errs.New(errs.CodeInvalidTransition, "no transporter has been assigned").
				With("order_id", order.ID).
				With("current_status", string(order.Status)).
				With("attempted_transition", string(act))
		}
		if delivery.TransporterID == actor.ID {
			return nil
		}
	case ActionComplete, ActionRate, ActionPay:
		if isBuyer {
			return nil
		}
	case ActionCancel:
		if isBuyer || isFarmer {
			return nil
		}
	case ActionView:
		if isBuyer || isFarmer || actor.Is(models.RoleAdmin) || actor.Is(models.RoleCooperative) {
			return nil
		}
		if actor.Is(models.RoleTransporter) && delivery != nil && delivery.TransporterID == actor.ID {
			return nil
		}
	}
	return unauthorized(actor, act, order)
}
