// Package memory is an in-process implementation of the store interfaces.
// Every transaction works on a private copy of the state that replaces the
// shared state only on commit, so a failed transition leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

type state struct {
	products     map[string]*models.Product
	reservations map[string]*models.Reservation
	carts        map[string]*models.Cart
	orders       map[string]*models.Order
	payments     map[string]*models.Payment
	deliveries   map[string]*models.DeliveryRecord
}

func newState() *state {
	return &state{
		products:     make(map[string]*models.Product),
		reservations: make(map[string]*models.Reservation),
		carts:        make(map[string]*models.Cart),
		orders:       make(map[string]*models.Order),
		payments:     make(map[string]*models.Payment),
		deliveries:   make(map[string]*models.DeliveryRecord),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, p := range s.products {
		copied := *p
		c.products[id] = &copied
	}
	for id, r := range s.reservations {
		copied := *r
		c.reservations[id] = &copied
	}
	for id, cart := range s.carts {
		c.carts[id] = cart.Clone()
	}
	for id, o := range s.orders {
		c.orders[id] = o.Clone()
	}
	for id, p := range s.payments {
		copied := *p
		c.payments[id] = &copied
	}
	for id, d := range s.deliveries {
		c.deliveries[id] = d.Clone()
	}
	return c
}

// Store serializes transactions with a single mutex.
type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.state.clone()
	if err := fn(ctx, &tx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// SeedProduct inserts or replaces a catalog product.
func (s *Store) SeedProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = &p
}

// Product returns a copy of the committed catalog entry.
func (s *Store) Product(id string) (models.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.products[id]
	if !ok {
		return models.Product{}, false
	}
	return *p, true
}

type tx struct {
	state *state
}

var _ store.Tx = (*tx)(nil)

func (t *tx) GetProduct(_ context.Context, productID string) (*models.Product, error) {
	p, ok := t.state.products[productID]
	if !ok {
		return nil, store.NotFound("product", productID)
	}
	copied := *p
	return &copied, nil
}

func (t *tx) AdjustAvailability(_ context.Context, productID string, delta int) (*models.Product, error) {
	p, ok := t.state.products[productID]
	if !ok {
		return nil, store.NotFound("product", productID)
	}
	if p.Available+delta < 0 {
		return nil, store.InsufficientStock(productID, p.Available, -delta)
	}
	p.Available += delta
	copied := *p
	return &copied, nil
}

func (t *tx) CreateReservation(_ context.Context, r *models.Reservation) error {
	copied := *r
	t.state.reservations[r.ID] = &copied
	return nil
}

func (t *tx) UpdateReservation(_ context.Context, r *models.Reservation) error {
	if _, ok := t.state.reservations[r.ID]; !ok {
		return store.NotFound("reservation", r.ID)
	}
	copied := *r
	t.state.reservations[r.ID] = &copied
	return nil
}

func (t *tx) ListReservations(_ context.Context, orderID string) ([]*models.Reservation, error) {
	var out []*models.Reservation
	for _, r := range t.state.reservations {
		if r.OrderID == orderID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (t *tx) GetCart(_ context.Context, buyerID string) (*models.Cart, error) {
	if cart, ok := t.state.carts[buyerID]; ok {
		return cart.Clone(), nil
	}
	return models.NewCart(buyerID), nil
}

func (t *tx) SaveCart(_ context.Context, cart *models.Cart) error {
	t.state.carts[cart.BuyerID] = cart.Clone()
	return nil
}

func (t *tx) DeleteCart(_ context.Context, buyerID string) error {
	delete(t.state.carts, buyerID)
	return nil
}

func (t *tx) CreateOrder(_ context.Context, order *models.Order) error {
	order.Version = 1
	t.state.orders[order.ID] = order.Clone()
	return nil
}

func (t *tx) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	o, ok := t.state.orders[orderID]
	if !ok {
		return nil, store.NotFound("order", orderID)
	}
	return o.Clone(), nil
}

func (t *tx) UpdateOrder(_ context.Context, order *models.Order) error {
	current, ok := t.state.orders[order.ID]
	if !ok {
		return store.NotFound("order", order.ID)
	}
	if current.Version != order.Version {
		return store.StaleOrder(order.ID, order.Version)
	}
	order.Version++
	t.state.orders[order.ID] = order.Clone()
	return nil
}

func (t *tx) ListOrders(_ context.Context, filter store.OrderFilter) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range t.state.orders {
		if filter.BuyerID != "" && o.BuyerID != filter.BuyerID {
			continue
		}
		if filter.FarmerID != "" && o.FarmerID != filter.FarmerID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.TransporterID != "" {
			d, ok := t.state.deliveries[o.ID]
			if !ok || d.TransporterID != filter.TransporterID {
				continue
			}
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if filter.Offset >= len(out) {
		return []*models.Order{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) CreatePayment(_ context.Context, payment *models.Payment) error {
	copied := *payment
	t.state.payments[payment.OrderID] = &copied
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, payment *models.Payment) error {
	if _, ok := t.state.payments[payment.OrderID]; !ok {
		return store.NotFound("payment", payment.ID)
	}
	copied := *payment
	t.state.payments[payment.OrderID] = &copied
	return nil
}

func (t *tx) GetPaymentByOrder(_ context.Context, orderID string) (*models.Payment, error) {
	p, ok := t.state.payments[orderID]
	if !ok {
		return nil, store.NotFound("payment", orderID)
	}
	copied := *p
	return &copied, nil
}

func (t *tx) GetPaymentByReference(_ context.Context, reference string) (*models.Payment, error) {
	for _, p := range t.state.payments {
		if reference != "" && p.ExternalReference == reference {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.NotFound("payment", reference)
}

func (t *tx) CreateDelivery(_ context.Context, delivery *models.DeliveryRecord) error {
	t.state.deliveries[delivery.OrderID] = delivery.Clone()
	return nil
}

func (t *tx) UpdateDelivery(_ context.Context, delivery *models.DeliveryRecord) error {
	if _, ok := t.state.deliveries[delivery.OrderID]; !ok {
		return store.NotFound("delivery", delivery.ID)
	}
	t.state.deliveries[delivery.OrderID] = delivery.Clone()
	return nil
}

func (t *tx) GetDeliveryByOrder(_ context.Context, orderID string) (*models.DeliveryRecord, error) {
	d, ok := t.state.deliveries[orderID]
	if !ok {
		return nil, store.NotFound("delivery", orderID)
	}
	return d.Clone(), nil
}
