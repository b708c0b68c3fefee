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

// CartService keeps each buyer's cart server-side. Cart changes never touch
// inventory; stock is only reserved at checkout.
type CartService struct {
	txm    store.TxManager
	locker Locker
	now    func() time.Time
	logger *zap.Logger
}

func NewCartService(txm store.TxManager, locker Locker, clock func() time.Time) *CartService {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &CartService{
		txm:    txm,
		locker: locker,
		now:    clock,
		logger: util.GetLogger(),
	}
}

func (s *CartService) mutate(ctx context.Context, actor models.Actor, fn func(ctx context.Context, tx store.Tx, cart *models.Cart) error) (*models.Cart, error) {
	if err := authorize(actor, ActionCheckout, nil, nil); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, cartLockKey(actor.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var cart *models.Cart
	err = s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if cart, err = tx.GetCart(ctx, actor.ID); err != nil {
			return err
		}
		if err := fn(ctx, tx, cart); err != nil {
			return err
		}
		if cart.IsEmpty() {
			return tx.DeleteCart(ctx, actor.ID)
		}
		return tx.SaveCart(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// AddItem snapshots the product's current price into the cart.
func (s *CartService) AddItem(ctx context.Context, actor models.Actor, req AddToCartRequest) (*models.Cart, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, func(ctx context.Context, tx store.Tx, cart *models.Cart) error {
		product, err := tx.GetProduct(ctx, req.ProductID)
		if errors.Is(err, errs.ErrNotFound) {
			return errs.New(errs.CodeValidation, "unknown product").With("product_id", req.ProductID)
		}
		if err != nil {
			return err
		}
		if err := cart.Add(product.ID, req.Quantity, product.UnitPrice, s.now()); err != nil {
			return err
		}
		s.logger.Debug("Cart item added",
			zap.String("buyer_id", actor.ID),
			zap.String("product_id", product.ID),
			zap.Int("quantity", cart.Lines[product.ID].Quantity))
		return nil
	})
}

func (s *CartService) UpdateItem(ctx context.Context, actor models.Actor, productID string, req UpdateCartItemRequest) (*models.Cart, error) {
	return s.mutate(ctx, actor, func(_ context.Context, _ store.Tx, cart *models.Cart) error {
		return cart.Update(productID, req.Quantity, s.now())
	})
}

func (s *CartService) RemoveItem(ctx context.Context, actor models.Actor, productID string) (*models.Cart, error) {
	return s.mutate(ctx, actor, func(_ context.Context, _ store.Tx, cart *models.Cart) error {
		cart.Remove(productID, s.now())
		return nil
	})
}

func (s *CartService) Clear(ctx context.Context, actor models.Actor) error {
	_, err := s.mutate(ctx, actor, func(_ context.Context, _ store.Tx, cart *models.Cart) error {
		cart.Clear(s.now())
		return nil
	})
	return err
}

// CartView is a cart with its computed subtotal.
type CartView struct {
	*models.Cart
	Subtotal models.Money `json:"subtotal"`
}

func (s *CartService) Get(ctx context.Context, actor models.Actor) (*CartView, error) {
	if err := authorize(actor, ActionCheckout, nil, nil); err != nil {
		return nil, err
	}
	var cart *models.Cart
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		cart, err = tx.GetCart(ctx, actor.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CartView{Cart: cart, Subtotal: cart.Subtotal()}, nil
}
