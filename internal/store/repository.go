package store

import (
	"context"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
)

// CatalogRepository is the engine's view of the catalog service.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	// AdjustAvailability applies delta to a product's available quantity.
	// A result below zero fails with INSUFFICIENT_STOCK and changes nothing.
	AdjustAvailability(ctx context.Context, productID string, delta int) (*models.Product, error)
}

type ReservationRepository interface {
	CreateReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	ListReservations(ctx context.Context, orderID string) ([]*models.Reservation, error)
}

type CartRepository interface {
	// GetCart returns an empty cart when the buyer has none.
	GetCart(ctx context.Context, buyerID string) (*models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart) error
	DeleteCart(ctx context.Context, buyerID string) error
}

// OrderFilter scopes ListOrders. Empty fields are ignored.
type OrderFilter struct {
	BuyerID       string
	FarmerID      string
	TransporterID string
	Status        models.OrderStatus
	Limit         int
	Offset        int
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	// UpdateOrder persists order if its Version still matches the stored one,
	// then bumps Version. A stale version fails with CONCURRENT_MODIFICATION.
	UpdateOrder(ctx context.Context, order *models.Order) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
}

type DeliveryRepository interface {
	CreateDelivery(ctx context.Context, delivery *models.DeliveryRecord) error
	UpdateDelivery(ctx context.Context, delivery *models.DeliveryRecord) error
	// GetDeliveryByOrder returns NOT_FOUND until a transporter is assigned.
	GetDeliveryByOrder(ctx context.Context, orderID string) (*models.DeliveryRecord, error)
}

// Tx is the unit of work handed to WithinTx callbacks.
type Tx interface {
	CatalogRepository
	ReservationRepository
	CartRepository
	OrderRepository
	PaymentRepository
	DeliveryRepository
}

// TxManager runs fn atomically: every write made through tx is committed
// together when fn returns nil and discarded otherwise.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// DefaultListLimit caps ListOrders when the filter does not.
const DefaultListLimit = 50

func NotFound(kind, id string) *errs.Error {
	return errs.Newf(errs.CodeNotFound, "%s not found", kind).With(kind+"_id", id)
}

func StaleOrder(orderID string, version int64) *errs.Error {
	return errs.New(errs.CodeConcurrentModification, "order was modified concurrently").
		With("order_id", orderID).
		With("version", version)
}

func InsufficientStock(productID string, available, requested int) *errs.Error {
	return errs.New(errs.CodeInsufficientStock, "insufficient stock").
		With("product_id", productID).
		With("available", available).
		With("requested", requested)
}
