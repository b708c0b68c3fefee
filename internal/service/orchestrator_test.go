package service

import (
	"context"
	"errors"
	"testing"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutCreatesPendingOrder(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t, models.PaymentMethodMpesa)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(1500), order.Subtotal.Amount)
	assert.Equal(t, int64(45), order.PlatformFee.Amount)
	assert.Equal(t, int64(1545), order.Total.Amount)
	assert.Equal(t, "KES", order.Total.Currency)
	assert.Regexp(t, `^AC[0-9A-F]{8}$`, order.Number)
	assert.Equal(t, "Kisii farm", order.PickupAddress)

	assert.Equal(t, 0, h.available(t, "tomatoes"))

	payment := h.payment(t, order.ID)
	assert.Equal(t, models.PaymentStateInitiated, payment.State)
	assert.Equal(t, order.Total, payment.Amount)

	cart, err := h.carts.Get(context.Background(), buyer)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	assert.Equal(t, []string{models.EventTypeOrderCreated}, h.notifier.types())
}

func TestCheckoutRejectsEmptyCartAndWrongRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := CheckoutRequest{DeliveryAddress: "Kisii", PaymentMethod: models.PaymentMethodMpesa}

	_, err := h.orch.Checkout(ctx, buyer, req)
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = h.orch.Checkout(ctx, farmer, req)
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))

	_, err = h.orch.Checkout(ctx, buyer, CheckoutRequest{DeliveryAddress: "Kisii", PaymentMethod: "paypal"})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestCheckoutSplitsCartPerFarmer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SeedProduct(models.Product{
		ID:        "avocados",
		FarmerID:  "farmer-0",
		Name:      "Avocados",
		UnitPrice: models.NewMoney(20, "KES"),
		Available: 100,
	})

	_, err := h.carts.AddItem(ctx, buyer, AddToCartRequest{ProductID: "tomatoes", Quantity: 2})
	require.NoError(t, err)
	_, err = h.carts.AddItem(ctx, buyer, AddToCartRequest{ProductID: "avocados", Quantity: 50})
	require.NoError(t, err)

	orders, err := h.orch.Checkout(ctx, buyer, CheckoutRequest{DeliveryAddress: "Kisii", PaymentMethod: models.PaymentMethodBank})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "farmer-0", orders[0].FarmerID)
	assert.Equal(t, int64(1000), orders[0].Subtotal.Amount)
	assert.Equal(t, int64(30), orders[0].PlatformFee.Amount)
	assert.Equal(t, farmer.ID, orders[1].FarmerID)
	assert.Equal(t, int64(300), orders[1].Subtotal.Amount)
	assert.Equal(t, int64(9), orders[1].PlatformFee.Amount)

	for _, o := range orders {
		assert.Equal(t, o.Subtotal.Amount+o.PlatformFee.Amount, o.Total.Amount)
		assert.Equal(t, o.Subtotal.MulRate(h.orch.feeRate), o.PlatformFee)
	}
	assert.Equal(t, 8, h.available(t, "tomatoes"))
	assert.Equal(t, 50, h.available(t, "avocados"))
}

func TestCheckoutAppliesInjectedFeeRate(t *testing.T) {
	rate := func(v string) decimal.NullDecimal {
		return decimal.NewNullDecimal(decimal.RequireFromString(v))
	}
	cases := []struct {
		name     string
		feeRate  decimal.NullDecimal
		quantity int
		wantFee  int64
	}{
		{name: "zero rate charges nothing", feeRate: rate("0"), quantity: 10, wantFee: 0},
		{name: "five percent", feeRate: rate("0.05"), quantity: 10, wantFee: 75},
		{name: "half minor unit rounds up", feeRate: rate("0.025"), quantity: 10, wantFee: 38},
		{name: "below half rounds down", feeRate: rate("0.025"), quantity: 1, wantFee: 4},
		{name: "unset uses default", feeRate: decimal.NullDecimal{}, quantity: 1, wantFee: 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarnessWithFeeRate(t, tc.feeRate)
			ctx := context.Background()

			_, err := h.carts.AddItem(ctx, buyer, AddToCartRequest{ProductID: "tomatoes", Quantity: tc.quantity})
			require.NoError(t, err)
			orders, err := h.orch.Checkout(ctx, buyer, CheckoutRequest{DeliveryAddress: "Kisii", PaymentMethod: models.PaymentMethodMpesa})
			require.NoError(t, err)
			require.Len(t, orders, 1)

			subtotal := int64(150 * tc.quantity)
			assert.Equal(t, subtotal, orders[0].Subtotal.Amount)
			assert.Equal(t, tc.wantFee, orders[0].PlatformFee.Amount)
			assert.Equal(t, subtotal+tc.wantFee, orders[0].Total.Amount)
		})
	}
}

func TestCheckoutDetectsPriceChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.carts.AddItem(ctx, buyer, AddToCartRequest{ProductID: "tomatoes", Quantity: 2})
	require.NoError(t, err)

	h.store.SeedProduct(models.Product{
		ID:        "tomatoes",
		FarmerID:  farmer.ID,
		Name:      "Tomatoes",
		UnitPrice: models.NewMoney(180, "KES"),
		Available: 10,
	})

	req := CheckoutRequest{DeliveryAddress: "Kisii", PaymentMethod: models.PaymentMethodMpesa}
	_, err = h.orch.Checkout(ctx, buyer, req)
	typed := errs.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, errs.CodeValidation, typed.Code())
	assert.Equal(t, int64(180), typed.Details()["current_price"])
	assert.Equal(t, 10, h.available(t, "tomatoes"))

	req.AcceptPriceChanges = true
	orders, err := h.orch.Checkout(ctx, buyer, req)
	require.NoError(t, err)
	assert.Equal(t, int64(360), orders[0].Subtotal.Amount)
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SeedProduct(models.Product{
		ID:        "maize",
		FarmerID:  "farmer-9",
		Name:      "Maize",
		UnitPrice: models.NewMoney(40, "KES"),
		Available: 1,
	})

	_, err := h.carts.AddItem(ctx, buyer, AddToCartRequest{ProductID: "tomatoes", Quantity: 3})
	require.NoError(t, err)
	_, err = h.carts.AddItem(ctx, buyer, AddToCartRequest{ProductID: "maize", Quantity: 5})
	require.NoError(t, err)

	_, err = h.orch.Checkout(ctx, buyer, CheckoutRequest{DeliveryAddress: "Kisii", PaymentMethod: models.PaymentMethodMpesa})
	assert.True(t, errors.Is(err, errs.ErrInsufficientStock))

	assert.Equal(t, 10, h.available(t, "tomatoes"))
	assert.Equal(t, 1, h.available(t, "maize"))

	cart, err := h.carts.Get(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 2)

	orders, err := h.orch.ListOrders(ctx, buyer, ListOrdersRequest{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestFulfillmentHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodMpesa)

	payment, err := h.orch.InitiatePayment(ctx, order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, payment.ExternalReference)

	payment, err = h.orch.HandlePaymentConfirmed(ctx, payment.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateHeld, payment.State)

	// Replayed webhook.
	replayed, err := h.orch.HandlePaymentConfirmed(ctx, payment.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateHeld, replayed.State)

	confirmed, err := h.orch.ConfirmOrder(ctx, farmer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	assigned, err := h.orch.AssignTransporter(ctx, farmer, order.ID, AssignTransporterRequest{TransporterID: transporter.ID})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, assigned.Order.Status)
	require.NotNil(t, assigned.Delivery)
	assert.Equal(t, transporter.ID, assigned.Delivery.TransporterID)
	assert.Equal(t, "Kisii farm", assigned.Delivery.PickupAddress)

	view, err := h.orch.GetOrder(ctx, buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, view.Order.Status)

	moved, err := h.orch.AdvanceDelivery(ctx, transporter, order.ID, AdvanceDeliveryRequest{Status: "IN_TRANSIT", Location: "Kisii farm"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInTransit, moved.Status)

	delivered, err := h.orch.AdvanceDelivery(ctx, transporter, order.ID, AdvanceDeliveryRequest{Status: "delivered", Location: "Kisii Town"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)

	completed, err := h.orch.CompleteOrder(ctx, buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, completed.Status)
	assert.Equal(t, models.PaymentStateReleased, h.payment(t, order.ID).State)

	view, err = h.orch.GetOrder(ctx, transporter, order.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Delivery.CompletedAt)
	require.Len(t, view.Delivery.TrackingUpdates, 2)

	history := completed.StatusHistory
	require.Len(t, history, 5)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].At.Before(history[i-1].At))
		assert.True(t, models.CanTransition(history[i-1].Status, history[i].Status))
	}

	assert.Equal(t, []string{
		models.EventTypeOrderCreated,
		models.EventTypePaymentHeld,
		models.EventTypeOrderConfirmed,
		models.EventTypeOrderTransporterAssigned,
		models.EventTypeOrderInTransit,
		models.EventTypeOrderDelivered,
		models.EventTypeOrderCompleted,
	}, h.notifier.types())

	rated, err := h.orch.RateOrder(ctx, buyer, order.ID, RateOrderRequest{Score: 5, Comment: "Fresh"})
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 5, rated.Rating.Score)

	_, err = h.orch.RateOrder(ctx, buyer, order.ID, RateOrderRequest{Score: 1})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	_, err = h.orch.RateBuyer(ctx, buyer, order.ID, RateOrderRequest{Score: 4})
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))
	_, err = h.orch.RateBuyer(ctx, otherFarmer, order.ID, RateOrderRequest{Score: 4})
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))

	ratedBuyer, err := h.orch.RateBuyer(ctx, farmer, order.ID, RateOrderRequest{Score: 4, Comment: "Prompt pickup"})
	require.NoError(t, err)
	require.NotNil(t, ratedBuyer.BuyerRating)
	assert.Equal(t, 4, ratedBuyer.BuyerRating.Score)
	assert.Equal(t, 5, ratedBuyer.Rating.Score)

	_, err = h.orch.RateBuyer(ctx, farmer, order.ID, RateOrderRequest{Score: 2})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
	assert.Contains(t, h.notifier.types(), models.EventTypeBuyerRated)
}

func TestCashPaymentIsHeldOnDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodCash)

	payment, err := h.orch.InitiatePayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, payment.ExternalReference)
	assert.Equal(t, 0, h.gateway.calls)

	_, err = h.orch.ConfirmOrder(ctx, farmer, order.ID)
	require.NoError(t, err)
	h.deliver(t, order.ID)

	assert.Equal(t, models.PaymentStateHeld, h.payment(t, order.ID).State)

	_, err = h.orch.CompleteOrder(ctx, buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateReleased, h.payment(t, order.ID).State)
}

func TestCompleteRequiresHeldPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodMpesa)

	_, err := h.orch.ConfirmOrder(ctx, farmer, order.ID)
	require.NoError(t, err)
	h.deliver(t, order.ID)

	_, err = h.orch.CompleteOrder(ctx, buyer, order.ID)
	assert.True(t, errors.Is(err, errs.ErrIllegalPaymentState))

	view, err := h.orch.GetOrder(ctx, buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, view.Order.Status)
	assert.Equal(t, models.PaymentStateInitiated, view.Payment.State)
}

func TestCancelConfirmedOrderRestoresStockAndRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodMpesa)
	assert.Equal(t, 0, h.available(t, "tomatoes"))

	_, err := h.orch.ConfirmOrder(ctx, farmer, order.ID)
	require.NoError(t, err)

	cancelled, err := h.orch.CancelOrder(ctx, buyer, order.ID, CancelOrderRequest{Reason: "found a closer farm"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "found a closer farm", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)

	assert.Equal(t, 10, h.available(t, "tomatoes"))
	assert.Equal(t, models.PaymentStateRefunded, h.payment(t, order.ID).State)

	_, err = h.orch.CancelOrder(ctx, buyer, order.ID, CancelOrderRequest{})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
	assert.Equal(t, 10, h.available(t, "tomatoes"))
}

func TestCancelIsRejectedOnceInTransit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodCash)

	_, err := h.orch.ConfirmOrder(ctx, farmer, order.ID)
	require.NoError(t, err)
	_, err = h.orch.AssignTransporter(ctx, farmer, order.ID, AssignTransporterRequest{TransporterID: transporter.ID})
	require.NoError(t, err)
	_, err = h.orch.AdvanceDelivery(ctx, transporter, order.ID, AdvanceDeliveryRequest{Status: "picked_up", Location: "farm gate"})
	require.NoError(t, err)

	_, err = h.orch.CancelOrder(ctx, farmer, order.ID, CancelOrderRequest{})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
	assert.Equal(t, 0, h.available(t, "tomatoes"))
}

func TestAdvanceDeliveryWithoutAssignment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodMpesa)
	before := len(h.notifier.types())

	_, err := h.orch.AdvanceDelivery(ctx, transporter, order.ID, AdvanceDeliveryRequest{Status: "in_transit", Location: "road"})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	view, err := h.orch.GetOrder(ctx, buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, view.Order.Status)
	assert.Equal(t, order.Version, view.Order.Version)
	assert.Nil(t, view.Delivery)
	assert.Len(t, h.notifier.types(), before)
}

func TestAdvanceDeliveryMapping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodCash)

	_, err := h.orch.ConfirmOrder(ctx, farmer, order.ID)
	require.NoError(t, err)
	_, err = h.orch.AssignTransporter(ctx, farmer, order.ID, AssignTransporterRequest{TransporterID: transporter.ID})
	require.NoError(t, err)

	_, err = h.orch.AdvanceDelivery(ctx, transporter, order.ID, AdvanceDeliveryRequest{Status: "delivered", Location: "road"})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	still, err := h.orch.AdvanceDelivery(ctx, transporter, order.ID, AdvanceDeliveryRequest{Status: "delayed", Location: "road", Note: "rain"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, still.Status)

	moving, err := h.orch.AdvanceDelivery(ctx, transporter, order.ID, AdvanceDeliveryRequest{Status: "picked-up", Location: "farm"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInTransit, moving.Status)

	again, err := h.orch.AdvanceDelivery(ctx, transporter, order.ID, AdvanceDeliveryRequest{Status: "in_transit", Location: "Keroka"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInTransit, again.Status)

	_, err = h.orch.AdvanceDelivery(ctx, transporter, order.ID, AdvanceDeliveryRequest{Status: "teleported", Location: "x"})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	timeline, err := h.orch.GetTracking(ctx, buyer, order.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, models.TrackingDelayed, timeline[0].Status)
	assert.Equal(t, models.TrackingPickedUp, timeline[1].Status)
	assert.Equal(t, models.TrackingInTransit, timeline[2].Status)
	for i := 1; i < len(timeline); i++ {
		assert.False(t, timeline[i].At.Before(timeline[i-1].At))
	}

	types := h.notifier.types()
	assert.Contains(t, types, models.EventTypeDeliveryUpdated)
}

func TestAuthorizationPolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodMpesa)

	_, err := h.orch.ConfirmOrder(ctx, otherFarmer, order.ID)
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))

	_, err = h.orch.ConfirmOrder(ctx, buyer, order.ID)
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))

	_, err = h.orch.CancelOrder(ctx, otherBuyer, order.ID, CancelOrderRequest{})
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))

	_, err = h.orch.ConfirmOrder(ctx, farmer, "no-such-order")
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	_, err = h.orch.GetOrder(ctx, otherBuyer, order.ID)
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))

	_, err = h.orch.ConfirmOrder(ctx, farmer, order.ID)
	require.NoError(t, err)

	_, err = h.orch.AssignTransporter(ctx, transporter, order.ID, AssignTransporterRequest{TransporterID: transporter.ID})
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))

	_, err = h.orch.AssignTransporter(ctx, admin, order.ID, AssignTransporterRequest{TransporterID: transporter.ID})
	require.NoError(t, err)

	_, err = h.orch.AssignTransporter(ctx, farmer, order.ID, AssignTransporterRequest{TransporterID: "transporter-2"})
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	intruder := models.Actor{ID: "transporter-2", Role: models.RoleTransporter}
	_, err = h.orch.AdvanceDelivery(ctx, intruder, order.ID, AdvanceDeliveryRequest{Status: "in_transit", Location: "road"})
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))

	_, err = h.orch.CompleteOrder(ctx, buyer, order.ID)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
}

func TestLockedOrderReportsConcurrentModification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodMpesa)

	unlock, err := h.locker.Lock(ctx, orderLockKey(order.ID))
	require.NoError(t, err)

	_, err = h.orch.ConfirmOrder(ctx, farmer, order.ID)
	assert.True(t, errors.Is(err, errs.ErrConcurrentModification))
	assert.True(t, errs.IsRetryable(err))

	unlock()
	_, err = h.orch.ConfirmOrder(ctx, farmer, order.ID)
	require.NoError(t, err)
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodMpesa)
	h.notifier.err = errors.New("broker unavailable")

	confirmed, err := h.orch.ConfirmOrder(ctx, farmer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)
}

func TestListOrdersIsScopedToActor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t, models.PaymentMethodMpesa)

	mine, err := h.orch.ListOrders(ctx, buyer, ListOrdersRequest{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, order.ID, mine[0].ID)

	theirs, err := h.orch.ListOrders(ctx, otherBuyer, ListOrdersRequest{})
	require.NoError(t, err)
	assert.Empty(t, theirs)

	forFarmer, err := h.orch.ListOrders(ctx, farmer, ListOrdersRequest{Status: models.OrderStatusPending})
	require.NoError(t, err)
	assert.Len(t, forFarmer, 1)

	forTransporter, err := h.orch.ListOrders(ctx, transporter, ListOrdersRequest{})
	require.NoError(t, err)
	assert.Empty(t, forTransporter)

	all, err := h.orch.ListOrders(ctx, admin, ListOrdersRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
