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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultFeeRate is the platform commission applied to order subtotals.
var DefaultFeeRate = decimal.RequireFromString("0.03")

// Options tunes an Orchestrator. Zero values fall back to defaults; an unset
// FeeRate means DefaultFeeRate, a set zero rate charges no fee.
type Options struct {
	FeeRate  decimal.NullDecimal
	Currency string
	Clock    func() time.Time
}

// Orchestrator sequences the ledgers and the order aggregate for every
// externally visible operation: lock, load, authorize, apply, commit, notify.
type Orchestrator struct {
	txm       store.TxManager
	locker    Locker
	notifier  Notifier
	gateway   PaymentGateway
	inventory *InventoryLedger
	payments  *PaymentLedger
	delivery  *DeliveryTracker
	feeRate   decimal.Decimal
	currency  string
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrchestrator creates a new fulfillment orchestrator
func NewOrchestrator(
	txm store.TxManager,
	locker Locker,
	notifier Notifier,
	gateway PaymentGateway,
	opts Options,
) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if !opts.FeeRate.Valid {
		opts.FeeRate = decimal.NewNullDecimal(DefaultFeeRate)
	}
	if opts.Currency == "" {
		opts.Currency = models.DefaultCurrency
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Orchestrator{
		txm:       txm,
		locker:    locker,
		notifier:  notifier,
		gateway:   gateway,
		inventory: NewInventoryLedger(),
		payments:  NewPaymentLedger(),
		delivery:  NewDeliveryTracker(),
		feeRate:   opts.FeeRate.Decimal,
		currency:  opts.Currency,
		now:       opts.Clock,
		logger:    util.GetLogger(),
	}
}

func orderLockKey(orderID string) string {
	return "order:" + orderID
}

// orderTxFunc applies one transition to a loaded order and returns the events
// to emit once the transaction has committed.
type orderTxFunc func(ctx context.Context, tx store.Tx, order *models.Order, now time.Time) ([]*models.OrderEvent, error)

// mutateOrder runs fn under the per-order lock inside one transaction and
// persists the order with its version check.
func (o *Orchestrator) mutateOrder(ctx context.Context, op string, orderID string, fn orderTxFunc) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator."+op)
	defer func() { util.EndSpan(span, err) }()
	defer func() { o.recordFailure(op, err) }()

	unlock, err := o.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var events []*models.OrderEvent
	err = o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		loaded, err := o.loadOrder(ctx, tx, orderID, op)
		if err != nil {
			return err
		}
		now := o.now()
		if events, err = fn(ctx, tx, loaded, now); err != nil {
			return err
		}
		loaded.UpdatedAt = maxTime(loaded.UpdatedAt, now)
		if err := tx.UpdateOrder(ctx, loaded); err != nil {
			return err
		}
		order = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(op).Inc()
	o.notify(ctx, events...)
	return order, nil
}

// loadOrder maps an unknown order id to INVALID_TRANSITION.
func (o *Orchestrator) loadOrder(ctx context.Context, tx store.Tx, orderID, op string) (*models.Order, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.New(errs.CodeInvalidTransition, "order does not exist").
			With("order_id", orderID).
			With("attempted_transition", op)
	}
	return order, err
}

func (o *Orchestrator) recordFailure(op string, err error) {
	if err == nil {
		return
	}
	code := errs.CodeOf(err)
	util.OrderTransitionFailures.WithLabelValues(op, string(code)).Inc()
	if code == errs.CodeInternal {
		o.logger.Error("Order operation failed", zap.String("operation", op), zap.Error(err))
		return
	}
	o.logger.Debug("Order operation rejected", zap.String("operation", op), zap.Error(err))
}

func (o *Orchestrator) newEvent(eventType string, order *models.Order, actorID string, payload map[string]any) *models.OrderEvent {
	return &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: o.now(),
		},
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		ActorID:       actorID,
		BuyerID:       order.BuyerID,
		FarmerID:      order.FarmerID,
		Status:        order.Status,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
		Payload:       payload,
	}
}

// notify dispatches after commit. Failures are logged and never undo a transition.
func (o *Orchestrator) notify(ctx context.Context, events ...*models.OrderEvent) {
	for _, event := range events {
		if err := o.notifier.Notify(ctx, event); err != nil {
			util.NotificationFailuresTotal.WithLabelValues(event.EventType).Inc()
			o.logger.Warn("Failed to dispatch event",
				zap.String("event_type", event.EventType),
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		}
	}
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
