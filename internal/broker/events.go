package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes order notifications. It satisfies service.Notifier.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{
		producer: producer,
	}
}

// orderKey keeps all events of one order on one partition, in order.
func orderKey(orderID string) string {
	return "order-" + orderID
}

// Notify publishes an order event keyed by its order.
func (p *EventPublisher) Notify(ctx context.Context, event *models.OrderEvent) error {
	if event == nil {
		return nil
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// GatewayPublisher publishes payment gateway callbacks onto the gateway events topic.
type GatewayPublisher struct {
	producer *Producer
}

func NewGatewayPublisher(producer *Producer) *GatewayPublisher {
	return &GatewayPublisher{producer: producer}
}

func (p *GatewayPublisher) PublishPaymentConfirmed(ctx context.Context, reference string) error {
	return p.publish(ctx, models.EventTypeGatewayPaymentConfirmed, reference, "")
}

func (p *GatewayPublisher) PublishPaymentFailed(ctx context.Context, reference, reason string) error {
	return p.publish(ctx, models.EventTypeGatewayPaymentFailed, reference, reason)
}

func (p *GatewayPublisher) publish(ctx context.Context, eventType, reference, reason string) error {
	event := models.GatewayEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		ExternalReference: reference,
		Reason:            reason,
	}
	return p.producer.PublishEvent(ctx, reference, event)
}

// OrderEventHandler handles one decoded order event.
type OrderEventHandler func(ctx context.Context, event *models.OrderEvent) error

// GatewayEventHandler handles one decoded gateway callback.
type GatewayEventHandler func(ctx context.Context, event *models.GatewayEvent) error

// EventHandler routes consumed messages to typed handlers by event_type.
type EventHandler struct {
	orderHandlers   map[string]OrderEventHandler
	gatewayHandlers map[string]GatewayEventHandler
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{
		orderHandlers:   make(map[string]OrderEventHandler),
		gatewayHandlers: make(map[string]GatewayEventHandler),
		logger:          util.GetLogger(),
	}
}

// OnOrderEvent registers a handler for an order event type (order.created, ...).
func (h *EventHandler) OnOrderEvent(eventType string, handler OrderEventHandler) {
	h.orderHandlers[eventType] = handler
}

func (h *EventHandler) OnOrderCreated(handler OrderEventHandler) {
	h.OnOrderEvent(models.EventTypeOrderCreated, handler)
}

func (h *EventHandler) OnGatewayPaymentConfirmed(handler GatewayEventHandler) {
	h.gatewayHandlers[models.EventTypeGatewayPaymentConfirmed] = handler
}

func (h *EventHandler) OnGatewayPaymentFailed(handler GatewayEventHandler) {
	h.gatewayHandlers[models.EventTypeGatewayPaymentFailed] = handler
}

// HandleMessage decodes msg and dispatches it. Event types without a
// registered handler are skipped so the offset still advances.
func (h *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		h.logger.Warn("Dropping undecodable message",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	if handler, ok := h.orderHandlers[base.EventType]; ok {
		var event models.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", base.EventType, err)
		}
		return handler(ctx, &event)
	}

	if handler, ok := h.gatewayHandlers[base.EventType]; ok {
		var event models.GatewayEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", base.EventType, err)
		}
		return handler(ctx, &event)
	}

	h.logger.Debug("No handler for event type", zap.String("event_type", base.EventType))
	return nil
}
