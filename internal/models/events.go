package models

import "time"

// Event types
const (
	EventTypeOrderCreated             = "order.created"
	EventTypeOrderConfirmed           = "order.confirmed"
	EventTypeOrderTransporterAssigned = "order.transporter_assigned"
	EventTypeOrderInTransit           = "order.in_transit"
	EventTypeDeliveryUpdated          = "delivery.updated"
	EventTypeOrderDelivered           = "order.delivered"
	EventTypeOrderCompleted           = "order.completed"
	EventTypeOrderCancelled           = "order.cancelled"
	EventTypeOrderRated               = "order.rated"
	EventTypeBuyerRated               = "order.buyer_rated"
	EventTypePaymentHeld              = "payment.held"
	EventTypePaymentFailed            = "payment.failed"

	EventTypeGatewayPaymentConfirmed = "gateway.payment_confirmed"
	EventTypeGatewayPaymentFailed    = "gateway.payment_failed"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is emitted after every successful transition
type OrderEvent struct {
	BaseEvent
	OrderID       string         `json:"order_id"`
	OrderNumber   string         `json:"order_number"`
	ActorID       string         `json:"actor_id"`
	BuyerID       string         `json:"buyer_id"`
	FarmerID      string         `json:"farmer_id"`
	Status        OrderStatus    `json:"status"`
	Total         Money          `json:"total"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// GatewayEvent is a payment gateway callback delivered over the gateway events topic
type GatewayEvent struct {
	BaseEvent
	ExternalReference string `json:"external_reference"`
	Reason            string `json:"reason,omitempty"`
}
