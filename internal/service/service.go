// Package service holds the marketplace business logic. Every state-changing
// operation runs inside one store transaction; domain events are published
// after commit and never fail the operation.
package service

import (
	"context"
	"errors"
	"time"

	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/store"
	"egg-market/internal/util"

	"go.uber.org/zap"
)

// DataStore is the persistence contract shared by the PostgreSQL and
// in-memory stores.
type DataStore interface {
	store.Querier
	InTx(ctx context.Context, fn func(q store.Querier) error) error
}

// EventPublisher is implemented by broker.EventPublisher and broker.NopPublisher.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
	PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
	PublishDeliveryEvent(ctx context.Context, event *models.DeliveryEvent) error
	PublishUserEvent(ctx context.Context, event *models.UserEvent) error
}

// IdempotencyStore backs duplicate order detection. A nil store disables it.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	CompleteIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// DeliveryCache serves tracking reads. A nil cache disables it.
type DeliveryCache interface {
	CacheDelivery(ctx context.Context, d *models.Delivery) error
	GetCachedDelivery(ctx context.Context, id int64) (*models.Delivery, error)
	InvalidateDelivery(ctx context.Context, id int64) error
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64
	Role   models.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

func (a Actor) is(role models.Role, userID int64) bool {
	return a.Role == role && a.UserID == userID
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// storeErr maps store sentinels to service error kinds. Errors that already
// carry a kind pass through.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, store.ErrNotFound):
		return apperr.New(apperr.NotFound, what+" not found")
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(err, apperr.AlreadyExists, what+" already exists")
	}
	return apperr.Wrap(err, apperr.Internal, "failed to access "+what)
}

// transitionErr surfaces a rejected status change as InvalidState.
func transitionErr(err error) error {
	if errors.Is(err, models.ErrInvalidTransition) {
		return apperr.New(apperr.InvalidState, err.Error())
	}
	return err
}

// emit publishes one event and swallows the error after counting it.
func emit(ctx context.Context, logger *zap.Logger, eventType string, publish func(context.Context) error) {
	if err := publish(ctx); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(eventType).Inc()
		logger.Error("Failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func orderEvent(eventType string, o *models.Order, from models.OrderStatus, reason string) *models.OrderEvent {
	return &models.OrderEvent{
		BaseEvent:  models.NewBaseEvent(eventType),
		OrderID:    o.ID,
		Reference:  o.Reference,
		ClientID:   o.ClientID,
		ProducerID: o.ProducerID,
		From:       from,
		To:         o.Status,
		Total:      o.Total,
		Reason:     reason,
	}
}

// announceOrder records and publishes a committed order transition.
func announceOrder(ctx context.Context, logger *zap.Logger, events EventPublisher, o *models.Order, from models.OrderStatus, reason string) {
	if o.Status == from {
		return
	}
	util.OrderTransitionsTotal.WithLabelValues(string(o.Status)).Inc()
	logger.Info("Order status changed",
		zap.Int64("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)))

	eventType := models.EventTypeOrderStatus
	if o.Status == models.OrderStatusCancelled {
		eventType = models.EventTypeOrderCancelled
	}
	event := orderEvent(eventType, o, from, reason)
	emit(ctx, logger, eventType, func(ctx context.Context) error {
		return events.PublishOrderEvent(ctx, event)
	})
}

func deliveryEvent(eventType string, d *models.Delivery, from models.DeliveryStatus) *models.DeliveryEvent {
	return &models.DeliveryEvent{
		BaseEvent:  models.NewBaseEvent(eventType),
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		CourierID:  d.CourierID,
		From:       from,
		To:         d.Status,
		Notes:      d.Notes,
	}
}

// loadOrderForUpdate locks an order and maps a miss to NotFound.
func loadOrderForUpdate(ctx context.Context, q store.Querier, id int64) (*models.Order, error) {
	o, err := q.LockOrder(ctx, id)
	if err != nil {
		return nil, storeErr(err, "order")
	}
	return o, nil
}
