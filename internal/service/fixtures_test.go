package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store/memory"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	buyer       = models.Actor{ID: "buyer-1", Role: models.RoleBuyer}
	otherBuyer  = models.Actor{ID: "buyer-2", Role: models.RoleBuyer}
	farmer      = models.Actor{ID: "farmer-1", Role: models.RoleFarmer}
	otherFarmer = models.Actor{ID: "farmer-2", Role: models.RoleFarmer}
	transporter = models.Actor{ID: "transporter-1", Role: models.RoleTransporter}
	admin       = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.OrderEvent
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event *models.OrderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	keys  []string
	fail  error
	// before runs ahead of the reply, e.g. to deliver a callback early.
	before func(reference string)
}

func (g *fakeGateway) InitiatePayment(_ context.Context, req models.GatewayRequest) (string, error) {
	g.mu.Lock()
	g.calls++
	g.keys = append(g.keys, req.IdempotencyKey)
	reference := fmt.Sprintf("TXN-%04d", g.calls)
	fail, before := g.fail, g.before
	g.mu.Unlock()

	if fail != nil {
		return "", fail
	}
	if before != nil {
		before(reference)
	}
	return reference, nil
}

type harness struct {
	store    *memory.Store
	locker   *LocalLocker
	notifier *recordingNotifier
	gateway  *fakeGateway
	orch     *Orchestrator
	carts    *CartService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithFeeRate(t, decimal.NewNullDecimal(decimal.RequireFromString("0.03")))
}

func newHarnessWithFeeRate(t *testing.T, feeRate decimal.NullDecimal) *harness {
	t.Helper()
	util.SetLogger(zap.NewNop())

	h := &harness{
		store:    memory.New(),
		locker:   NewLocalLocker(),
		notifier: &recordingNotifier{},
		gateway:  &fakeGateway{},
	}
	h.orch = NewOrchestrator(h.store, h.locker, h.notifier, h.gateway, Options{FeeRate: feeRate})
	h.carts = NewCartService(h.store, h.locker, nil)

	h.store.SeedProduct(models.Product{
		ID:        "tomatoes",
		FarmerID:  farmer.ID,
		Name:      "Tomatoes",
		UnitPrice: models.NewMoney(150, "KES"),
		Available: 10,
		Location:  "Kisii farm",
	})
	return h
}

func (h *harness) available(t *testing.T, productID string) int {
	t.Helper()
	p, ok := h.store.Product(productID)
	require.True(t, ok)
	return p.Available
}

// placeOrder checks out ten tomatoes at 150 KES paid by method.
func (h *harness) placeOrder(t *testing.T, method models.PaymentMethod) *models.Order {
	t.Helper()
	ctx := context.Background()

	_, err := h.carts.AddItem(ctx, buyer, AddToCartRequest{ProductID: "tomatoes", Quantity: 10})
	require.NoError(t, err)

	orders, err := h.orch.Checkout(ctx, buyer, CheckoutRequest{
		DeliveryAddress: "Kisii Town, Stall 4",
		PaymentMethod:   method,
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	return orders[0]
}

func (h *harness) payment(t *testing.T, orderID string) *models.Payment {
	t.Helper()
	view, err := h.orch.GetOrder(context.Background(), admin, orderID)
	require.NoError(t, err)
	require.NotNil(t, view.Payment)
	return view.Payment
}

// deliver drives a confirmed order through assignment, transit and delivery.
func (h *harness) deliver(t *testing.T, orderID string) {
	t.Helper()
	ctx := context.Background()

	_, err := h.orch.AssignTransporter(ctx, farmer, orderID, AssignTransporterRequest{TransporterID: transporter.ID})
	require.NoError(t, err)

	order, err := h.orch.AdvanceDelivery(ctx, transporter, orderID, AdvanceDeliveryRequest{Status: "in_transit", Location: "Kisii farm"})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusInTransit, order.Status)

	order, err = h.orch.AdvanceDelivery(ctx, transporter, orderID, AdvanceDeliveryRequest{Status: "delivered", Location: "Kisii Town"})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusDelivered, order.Status)
}

var errGatewayDown = errors.New("gateway down")
