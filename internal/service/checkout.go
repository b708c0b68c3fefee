package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func cartLockKey(buyerID string) string {
	return "cart:" + buyerID
}

// NewOrderNumber returns a human-readable order reference such as AC3F9B27D1.
func NewOrderNumber() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "AC" + strings.ToUpper(raw[:8])
}

type pricedLine struct {
	line    models.CartLine
	product *models.Product
}

// Checkout converts the buyer's cart into one PENDING order per farmer. The
// whole conversion is one transaction: reservations, orders, payments and
// the cart clear either all happen or none do.
func (o *Orchestrator) Checkout(ctx context.Context, actor models.Actor, req CheckoutRequest) (orders []*models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.Checkout")
	defer func() { util.EndSpan(span, err) }()
	defer func() { o.recordFailure("checkout", err) }()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if err := authorize(actor, ActionCheckout, nil, nil); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock, err := o.locker.Lock(ctx, cartLockKey(actor.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = o.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cart, err := tx.GetCart(ctx, actor.ID)
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return errs.New(errs.CodeValidation, "cart is empty").With("buyer_id", actor.ID)
		}

		groups, err := o.priceCart(ctx, tx, cart, req.AcceptPriceChanges)
		if err != nil {
			return err
		}

		now := o.now()
		created := make([]*models.Order, 0, len(groups))
		for _, group := range groups {
			order, err := o.placeOrder(ctx, tx, actor, req, group, now)
			if err != nil {
				return err
			}
			created = append(created, order)
		}

		if err := tx.DeleteCart(ctx, actor.ID); err != nil {
			return err
		}
		orders = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCreatedTotal.Add(float64(len(orders)))
	events := make([]*models.OrderEvent, 0, len(orders))
	for _, order := range orders {
		o.logger.Info("Order created",
			zap.String("order_id", order.ID),
			zap.String("order_number", order.Number),
			zap.String("farmer_id", order.FarmerID),
			zap.Int64("total", order.Total.Amount))
		events = append(events, o.newEvent(models.EventTypeOrderCreated, order, actor.ID, map[string]any{
			"items":    len(order.Items),
			"subtotal": order.Subtotal.Amount,
			"fee":      order.PlatformFee.Amount,
		}))
	}
	o.notify(ctx, events...)
	return orders, nil
}

// priceCart re-validates every line against the live catalog and groups the
// lines by farmer, in farmer id order.
func (o *Orchestrator) priceCart(ctx context.Context, tx store.Tx, cart *models.Cart, acceptChanges bool) ([][]pricedLine, error) {
	byFarmer := make(map[string][]pricedLine)
	for _, line := range cart.SortedLines() {
		product, err := tx.GetProduct(ctx, line.ProductID)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.New(errs.CodeValidation, "product is no longer available").
				With("product_id", line.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if product.UnitPrice.Currency != o.currency {
			return nil, errs.Newf(errs.CodeValidation, "product is priced in %s", product.UnitPrice.Currency).
				With("product_id", product.ID)
		}
		if !line.UnitPrice.Equal(product.UnitPrice) && !acceptChanges {
			return nil, errs.New(errs.CodeValidation, "price changed since the product was added to the cart").
				With("product_id", product.ID).
				With("cart_price", line.UnitPrice.Amount).
				With("current_price", product.UnitPrice.Amount)
		}
		byFarmer[product.FarmerID] = append(byFarmer[product.FarmerID], pricedLine{line: line, product: product})
	}

	farmers := make([]string, 0, len(byFarmer))
	for farmerID := range byFarmer {
		farmers = append(farmers, farmerID)
	}
	sort.Strings(farmers)

	groups := make([][]pricedLine, 0, len(farmers))
	for _, farmerID := range farmers {
		groups = append(groups, byFarmer[farmerID])
	}
	return groups, nil
}

func (o *Orchestrator) placeOrder(ctx context.Context, tx store.Tx, actor models.Actor, req CheckoutRequest, lines []pricedLine, now time.Time) (*models.Order, error) {
	items := make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, models.OrderItem{
			ProductID:   l.product.ID,
			ProductName: l.product.Name,
			Quantity:    l.line.Quantity,
			UnitPrice:   l.product.UnitPrice,
		})
	}

	order, err := models.NewOrder(models.OrderDraft{
		ID:              uuid.New().String(),
		Number:          NewOrderNumber(),
		BuyerID:         actor.ID,
		FarmerID:        lines[0].product.FarmerID,
		Items:           items,
		FeeRate:         o.feeRate,
		DeliveryAddress: req.DeliveryAddress,
		PickupAddress:   lines[0].product.Location,
		PaymentMethod:   req.PaymentMethod,
		Currency:        o.currency,
	}, now)
	if err != nil {
		return nil, err
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	for _, item := range order.Items {
		r, err := o.inventory.Reserve(ctx, tx, item.ProductID, item.Quantity, order.ID)
		if err != nil {
			return nil, err
		}
		if err := o.inventory.Commit(ctx, tx, r); err != nil {
			return nil, err
		}
	}

	if _, err := o.payments.Initiate(ctx, tx, order, req.PaymentMethod, now); err != nil {
		return nil, err
	}
	return order, nil
}
