package broker

import (
	"context"
	"encoding/json"
	"testing"

	"egg-market/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	keys   []string
	events []interface{}
}

func (c *capturePublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	c.keys = append(c.keys, key)
	c.events = append(c.events, event)
	return nil
}

func TestPublisherKeysByOrder(t *testing.T) {
	capture := &capturePublisher{}
	ep := NewEventPublisher(capture)
	ctx := context.Background()

	require.NoError(t, ep.PublishOrderEvent(ctx, &models.OrderEvent{OrderID: 12}))
	require.NoError(t, ep.PublishPaymentEvent(ctx, &models.PaymentEvent{OrderID: 12}))
	require.NoError(t, ep.PublishDeliveryEvent(ctx, &models.DeliveryEvent{OrderID: 12}))
	require.NoError(t, ep.PublishUserEvent(ctx, &models.UserEvent{UserID: 5}))

	assert.Equal(t, []string{"order-12", "order-12", "order-12", "user-5"}, capture.keys)
}

func TestHandleMessageRoutes(t *testing.T) {
	eh := NewEventHandler()

	var gotOrder *models.OrderEvent
	var gotDelivery *models.DeliveryEvent
	eh.OnOrder(func(_ context.Context, e *models.OrderEvent) error {
		gotOrder = e
		return nil
	})
	eh.OnDelivery(func(_ context.Context, e *models.DeliveryEvent) error {
		gotDelivery = e
		return nil
	})

	orderEvent := models.OrderEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatus),
		OrderID:   3,
		From:      models.OrderStatusPending,
		To:        models.OrderStatusConfirmed,
	}
	raw, err := json.Marshal(orderEvent)
	require.NoError(t, err)
	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: raw}))
	require.NotNil(t, gotOrder)
	assert.Equal(t, models.OrderStatusConfirmed, gotOrder.To)

	deliveryEvent := models.DeliveryEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeDeliveryCompleted),
		DeliveryID: 8,
		To:         models.DeliveryStatusDelivered,
	}
	raw, err = json.Marshal(deliveryEvent)
	require.NoError(t, err)
	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: raw}))
	require.NotNil(t, gotDelivery)
	assert.Equal(t, int64(8), gotDelivery.DeliveryID)

	// No handler registered for payments: ignored.
	raw, err = json.Marshal(models.PaymentEvent{BaseEvent: models.NewBaseEvent(models.EventTypePaymentResolved)})
	require.NoError(t, err)
	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: raw}))

	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")}))
}
