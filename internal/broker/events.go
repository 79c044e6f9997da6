package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"egg-market/internal/models"
	"egg-market/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is the write side used by EventPublisher.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderEvent publishes order creation and status changes
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentEvent publishes payment resolutions
func (ep *EventPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishDeliveryEvent publishes delivery assignment and status changes
func (ep *EventPublisher) PublishDeliveryEvent(ctx context.Context, event *models.DeliveryEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishUserEvent publishes account validation decisions
func (ep *EventPublisher) PublishUserEvent(ctx context.Context, event *models.UserEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("user-%d", event.UserID), event)
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishOrderEvent(context.Context, *models.OrderEvent) error       { return nil }
func (NopPublisher) PublishPaymentEvent(context.Context, *models.PaymentEvent) error   { return nil }
func (NopPublisher) PublishDeliveryEvent(context.Context, *models.DeliveryEvent) error { return nil }
func (NopPublisher) PublishUserEvent(context.Context, *models.UserEvent) error         { return nil }

// EventHandler handles incoming events
type EventHandler struct {
	onOrder    func(context.Context, *models.OrderEvent) error
	onPayment  func(context.Context, *models.PaymentEvent) error
	onDelivery func(context.Context, *models.DeliveryEvent) error
	onUser     func(context.Context, *models.UserEvent) error
	logger     *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Named("events")}
}

func (eh *EventHandler) OnOrder(handler func(context.Context, *models.OrderEvent) error) {
	eh.onOrder = handler
}

func (eh *EventHandler) OnPayment(handler func(context.Context, *models.PaymentEvent) error) {
	eh.onPayment = handler
}

func (eh *EventHandler) OnDelivery(handler func(context.Context, *models.DeliveryEvent) error) {
	eh.onDelivery = handler
}

func (eh *EventHandler) OnUser(handler func(context.Context, *models.UserEvent) error) {
	eh.onUser = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated, models.EventTypeOrderStatus, models.EventTypeOrderCancelled:
		return dispatch(ctx, msg.Value, eh.onOrder)
	case models.EventTypePaymentResolved:
		return dispatch(ctx, msg.Value, eh.onPayment)
	case models.EventTypeDeliveryAssigned, models.EventTypeDeliveryStatus, models.EventTypeDeliveryCompleted:
		return dispatch(ctx, msg.Value, eh.onDelivery)
	case models.EventTypeUserValidated:
		return dispatch(ctx, msg.Value, eh.onUser)
	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}
	return nil
}

func dispatch[E any](ctx context.Context, raw []byte, handler func(context.Context, *E) error) error {
	if handler == nil {
		return nil
	}
	var event E
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", event, err)
	}
	return handler(ctx, &event)
}
