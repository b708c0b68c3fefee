package service

import (
	"context"

	"fulfillment-service/internal/models"
)

// Locker serializes operations on one key (an order, a buyer's cart).
// Lock must fail fast with CONCURRENT_MODIFICATION rather than wait.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Notifier is the fire-and-forget sink for domain events.
type Notifier interface {
	Notify(ctx context.Context, event *models.OrderEvent) error
}

// PaymentGateway starts a settlement with the external provider and returns
// its reference. Confirmation arrives later through a webhook.
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req models.GatewayRequest) (string, error)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *models.OrderEvent) error { return nil }
