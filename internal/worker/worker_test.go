package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayments struct {
	initiated []string
	confirmed []string
	failed    []string
	err       error
	// pending confirmations fail as if the reference was not stored yet.
	pending int
}

func (f *fakePayments) InitiatePayment(_ context.Context, orderID string) (*models.Payment, error) {
	f.initiated = append(f.initiated, orderID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Payment{ID: "p-" + orderID, OrderID: orderID, ExternalReference: "TXN-0001"}, nil
}

func (f *fakePayments) HandlePaymentConfirmed(_ context.Context, reference string) (*models.Payment, error) {
	f.confirmed = append(f.confirmed, reference)
	if f.pending > 0 {
		f.pending--
		return nil, errs.New(errs.CodeConcurrentModification, "payment reference is not recorded yet")
	}
	return &models.Payment{}, f.err
}

func (f *fakePayments) HandlePaymentFailed(_ context.Context, reference, _ string) (*models.Payment, error) {
	f.failed = append(f.failed, reference)
	return &models.Payment{}, f.err
}

func message(t *testing.T, v any) kafka.Message {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func gatewayEvent(id, eventType, reference string) models.GatewayEvent {
	return models.GatewayEvent{
		BaseEvent:         models.BaseEvent{EventID: id, EventType: eventType, Timestamp: time.Now()},
		ExternalReference: reference,
	}
}

var fastRetry = RetryPolicy{Attempts: 2, Backoff: time.Millisecond}

func newDeduper(t *testing.T) *redisclient.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPaymentWorkerInitiatesForOrderCreated(t *testing.T) {
	payments := &fakePayments{}
	w := NewPaymentWorker(nil, payments)
	ctx := context.Background()

	require.NoError(t, w.handler.HandleMessage(ctx, message(t, models.OrderEvent{
		BaseEvent:     models.BaseEvent{EventType: models.EventTypeOrderCreated},
		OrderID:       "o-1",
		PaymentMethod: models.PaymentMethodMpesa,
	})))
	require.NoError(t, w.handler.HandleMessage(ctx, message(t, models.OrderEvent{
		BaseEvent:     models.BaseEvent{EventType: models.EventTypeOrderCreated},
		OrderID:       "o-2",
		PaymentMethod: models.PaymentMethodCash,
	})))
	require.NoError(t, w.handler.HandleMessage(ctx, message(t, models.OrderEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderConfirmed},
		OrderID:   "o-3",
	})))

	assert.Equal(t, []string{"o-1"}, payments.initiated)
}

func TestPaymentWorkerRetriesOnlyContention(t *testing.T) {
	ctx := context.Background()
	event := models.OrderEvent{
		BaseEvent:     models.BaseEvent{EventType: models.EventTypeOrderCreated},
		OrderID:       "o-1",
		PaymentMethod: models.PaymentMethodBank,
	}

	locked := &fakePayments{err: errs.New(errs.CodeConcurrentModification, "order is locked")}
	busy := NewPaymentWorker(nil, locked)
	busy.retry = fastRetry
	assert.Error(t, busy.handler.HandleMessage(ctx, message(t, event)))
	assert.Len(t, locked.initiated, fastRetry.Attempts)

	closed := &fakePayments{err: errs.New(errs.CodeIllegalPaymentState, "payment already held")}
	final := NewPaymentWorker(nil, closed)
	final.retry = fastRetry
	assert.NoError(t, final.handler.HandleMessage(ctx, message(t, event)))
	assert.Len(t, closed.initiated, 1)
}

func TestGatewayWorkerSkipsReplays(t *testing.T) {
	payments := &fakePayments{}
	w := NewGatewayWorker(nil, payments, newDeduper(t))
	ctx := context.Background()

	confirmed := message(t, gatewayEvent("e-1", models.EventTypeGatewayPaymentConfirmed, "TXN-0001"))
	require.NoError(t, w.handler.HandleMessage(ctx, confirmed))
	require.NoError(t, w.handler.HandleMessage(ctx, confirmed))

	failed := message(t, gatewayEvent("e-2", models.EventTypeGatewayPaymentFailed, "TXN-0002"))
	require.NoError(t, w.handler.HandleMessage(ctx, failed))

	assert.Equal(t, []string{"TXN-0001"}, payments.confirmed)
	assert.Equal(t, []string{"TXN-0002"}, payments.failed)
}

func TestGatewayWorkerLeavesContendedEventUnrecorded(t *testing.T) {
	payments := &fakePayments{err: errs.New(errs.CodeConcurrentModification, "order is locked")}
	deduper := newDeduper(t)
	w := NewGatewayWorker(nil, payments, deduper)
	w.retry = fastRetry
	ctx := context.Background()

	msg := message(t, gatewayEvent("e-1", models.EventTypeGatewayPaymentConfirmed, "TXN-0001"))
	require.Error(t, w.handler.HandleMessage(ctx, msg))

	seen, err := deduper.CheckIdempotencyKey(ctx, "gateway:e-1")
	require.NoError(t, err)
	assert.False(t, seen)

	payments.err = nil
	require.NoError(t, w.handler.HandleMessage(ctx, msg))
	assert.Len(t, payments.confirmed, fastRetry.Attempts+1)

	seen, err = deduper.CheckIdempotencyKey(ctx, "gateway:e-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestGatewayWorkerRetriesEarlyConfirmation(t *testing.T) {
	payments := &fakePayments{pending: 2}
	deduper := newDeduper(t)
	w := NewGatewayWorker(nil, payments, deduper)
	w.retry = RetryPolicy{Attempts: 5, Backoff: time.Millisecond}
	ctx := context.Background()

	msg := message(t, gatewayEvent("e-7", models.EventTypeGatewayPaymentConfirmed, "TXN-EARLY"))
	require.NoError(t, w.handler.HandleMessage(ctx, msg))
	assert.Equal(t, []string{"TXN-EARLY", "TXN-EARLY", "TXN-EARLY"}, payments.confirmed)

	seen, err := deduper.CheckIdempotencyKey(ctx, "gateway:e-7")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, w.handler.HandleMessage(ctx, msg))
	assert.Len(t, payments.confirmed, 3)
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{Attempts: 10, Backoff: time.Hour}.do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errs.New(errs.CodeConcurrentModification, "order is locked")
	})
	assert.True(t, errors.Is(err, errs.ErrConcurrentModification))
	assert.Equal(t, 1, calls)
}

func TestGatewayWorkerKeepsFinalRejections(t *testing.T) {
	payments := &fakePayments{err: errs.New(errs.CodeIllegalPaymentState, "payment already refunded")}
	deduper := newDeduper(t)
	w := NewGatewayWorker(nil, payments, deduper)
	ctx := context.Background()

	msg := message(t, gatewayEvent("e-1", models.EventTypeGatewayPaymentConfirmed, "TXN-0001"))
	require.NoError(t, w.handler.HandleMessage(ctx, msg))

	seen, err := deduper.CheckIdempotencyKey(ctx, "gateway:e-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

type stubWorker struct {
	startErr error
	stopErr  error
	stopped  bool
}

func (s *stubWorker) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubWorker) Stop() error {
	s.stopped = true
	return s.stopErr
}

func TestGroupRunAndStop(t *testing.T) {
	a := &stubWorker{}
	b := &stubWorker{stopErr: errors.New("close b")}
	c := &stubWorker{stopErr: errors.New("close c")}
	group := NewGroup(a, b, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- group.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("group did not stop")
	}

	err := group.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close b")
	assert.Contains(t, err.Error(), "close c")
	assert.True(t, a.stopped)
}

func TestGroupRunReportsWorkerFailure(t *testing.T) {
	group := NewGroup(&stubWorker{startErr: errors.New("consumer crashed")}, &stubWorker{})
	assert.EqualError(t, group.Run(context.Background()), "consumer crashed")
}
