package worker

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultDedupeTTL bounds how long a processed gateway event id is remembered.
const DefaultDedupeTTL = 24 * time.Hour

// PaymentInitiator starts gateway payments for freshly created orders.
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, orderID string) (*models.Payment, error)
}

// PaymentCallbacks applies gateway outcomes to payments.
type PaymentCallbacks interface {
	HandlePaymentConfirmed(ctx context.Context, reference string) (*models.Payment, error)
	HandlePaymentFailed(ctx context.Context, reference, reason string) (*models.Payment, error)
}

// Deduper remembers processed event ids across replicas.
type Deduper interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Worker is a long running consumer loop.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

// redeliverable reports contention: the order was locked or the gateway
// reference was not recorded yet. Every other domain outcome is final.
func redeliverable(err error) bool {
	return errors.Is(err, errs.ErrConcurrentModification)
}

// settle decides whether a failed message should be left uncommitted.
func settle(logger *zap.Logger, msg string, err error, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	fields = append(fields, zap.String("code", string(errs.CodeOf(err))), zap.Error(err))
	if redeliverable(err) {
		logger.Warn(msg+", leaving message uncommitted", fields...)
		return err
	}
	logger.Warn(msg, fields...)
	return nil
}

// RetryPolicy bounds in-place attempts for contended messages. The consumer
// does not fetch an uncommitted message again until the group rebalances.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 5, Backoff: 250 * time.Millisecond}

// do runs fn until it settles or the attempts run out. The wait doubles
// after every contended attempt.
func (p RetryPolicy) do(ctx context.Context, fn func(context.Context) error) error {
	wait := p.Backoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !redeliverable(err) || attempt >= p.Attempts {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		wait *= 2
	}
}

// PaymentWorker initiates gateway payments for order.created notifications.
type PaymentWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	payments PaymentInitiator
	retry    RetryPolicy
	logger   *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, payments PaymentInitiator) *PaymentWorker {
	w := &PaymentWorker{
		consumer: consumer,
		handler:  broker.NewEventHandler(),
		payments: payments,
		retry:    DefaultRetry,
		logger:   util.GetLogger().With(zap.String("worker", "payment")),
	}
	w.handler.OnOrderCreated(w.handleOrderCreated)
	return w
}

func (w *PaymentWorker) handleOrderCreated(ctx context.Context, event *models.OrderEvent) error {
	if event.PaymentMethod == models.PaymentMethodCash {
		return nil
	}

	var payment *models.Payment
	err := w.retry.do(ctx, func(ctx context.Context) error {
		var err error
		payment, err = w.payments.InitiatePayment(ctx, event.OrderID)
		return err
	})
	if err != nil {
		return settle(w.logger, "Payment initiation failed", err, zap.String("order_id", event.OrderID))
	}

	w.logger.Info("Payment initiated",
		zap.String("order_id", event.OrderID),
		zap.String("payment_id", payment.ID),
		zap.String("reference", payment.ExternalReference))
	return nil
}

// Start starts the payment worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the payment worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}

// GatewayWorker applies payment gateway callbacks delivered over Kafka.
type GatewayWorker struct {
	consumer  *broker.Consumer
	handler   *broker.EventHandler
	callbacks PaymentCallbacks
	deduper   Deduper
	ttl       time.Duration
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewGatewayWorker creates a gateway callback worker. deduper may be nil.
func NewGatewayWorker(consumer *broker.Consumer, callbacks PaymentCallbacks, deduper Deduper) *GatewayWorker {
	w := &GatewayWorker{
		consumer:  consumer,
		handler:   broker.NewEventHandler(),
		callbacks: callbacks,
		deduper:   deduper,
		ttl:       DefaultDedupeTTL,
		retry:     DefaultRetry,
		logger:    util.GetLogger().With(zap.String("worker", "gateway")),
	}
	w.handler.OnGatewayPaymentConfirmed(w.handleConfirmed)
	w.handler.OnGatewayPaymentFailed(w.handleFailed)
	return w
}

func (w *GatewayWorker) handleConfirmed(ctx context.Context, event *models.GatewayEvent) error {
	return w.once(ctx, event, func(ctx context.Context) error {
		_, err := w.callbacks.HandlePaymentConfirmed(ctx, event.ExternalReference)
		return err
	})
}

func (w *GatewayWorker) handleFailed(ctx context.Context, event *models.GatewayEvent) error {
	return w.once(ctx, event, func(ctx context.Context) error {
		_, err := w.callbacks.HandlePaymentFailed(ctx, event.ExternalReference, event.Reason)
		return err
	})
}

// once runs fn for an event id that has not been settled yet. The id is
// recorded only after fn settles, so a contended callback is retried and a
// later replay of it still gets applied.
func (w *GatewayWorker) once(ctx context.Context, event *models.GatewayEvent, fn func(context.Context) error) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("reference", event.ExternalReference),
	}
	dedupe := w.deduper != nil && event.EventID != ""
	key := "gateway:" + event.EventID

	if dedupe {
		seen, err := w.deduper.CheckIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if seen {
			w.logger.Info("Skipping replayed gateway event", fields...)
			return nil
		}
	}

	if err := settle(w.logger, "Gateway callback rejected", w.retry.do(ctx, fn), fields...); err != nil {
		return err
	}
	if dedupe {
		if _, err := w.deduper.MarkProcessed(ctx, key, w.ttl); err != nil {
			w.logger.Error("Failed to record gateway event", append(fields, zap.Error(err))...)
		}
	}
	w.logger.Info("Gateway callback settled", fields...)
	return nil
}

// Start starts the gateway worker
func (w *GatewayWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting gateway worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the gateway worker
func (w *GatewayWorker) Stop() error {
	w.logger.Info("Stopping gateway worker")
	return w.consumer.Close()
}

// Group runs several workers until the context ends.
type Group struct {
	workers []Worker
}

func NewGroup(workers ...Worker) *Group {
	return &Group{workers: workers}
}

// Run blocks until every worker has returned. Cancellation is not an error.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range g.workers {
		w := w
		eg.Go(func() error {
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}

// Stop closes every worker and reports all close failures together.
func (g *Group) Stop() error {
	var err error
	for _, w := range g.workers {
		err = multierr.Append(err, w.Stop())
	}
	return err
}
