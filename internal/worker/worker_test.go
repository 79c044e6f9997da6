package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"egg-market/internal/broker"
	"egg-market/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	messages []kafka.Message
	handled  []error
	closed   bool
}

func (s *fakeSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range s.messages {
		s.handled = append(s.handled, handler(ctx, msg))
	}
	return nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type inbox struct {
	got  []Notification
	fail error
}

func (i *inbox) Notify(_ context.Context, n Notification) error {
	if i.fail != nil {
		return i.fail
	}
	i.got = append(i.got, n)
	return nil
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

func TestNotificationsFromEvents(t *testing.T) {
	source := &fakeSource{messages: []kafka.Message{
		message(t, models.OrderEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderCreated),
			OrderID:   1, Reference: "CMD-1", ClientID: 10, ProducerID: 20, To: models.OrderStatusPending, Total: 5500,
		}),
		message(t, models.OrderEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatus),
			OrderID:   1, Reference: "CMD-1", ClientID: 10, ProducerID: 20, From: models.OrderStatusPending, To: models.OrderStatusConfirmed,
		}),
		message(t, models.DeliveryEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeDeliveryAssigned),
			DeliveryID: 7, OrderID: 1, CourierID: 30, To: models.DeliveryStatusAssigned,
		}),
		message(t, models.DeliveryEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeDeliveryStatus),
			DeliveryID: 7, OrderID: 1, CourierID: 30, From: models.DeliveryStatusAssigned, To: models.DeliveryStatusAccepted,
		}),
		message(t, models.UserEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeUserValidated),
			UserID:    30, Role: models.RoleCourier, Approved: false, Reason: "missing licence",
		}),
	}}
	box := &inbox{}
	w := NewNotificationWorker(source, box)

	require.NoError(t, w.Start(context.Background()))
	for _, err := range source.handled {
		assert.NoError(t, err)
	}

	require.Len(t, box.got, 5)
	assert.Equal(t, models.RoleProducer, box.got[0].Audience)
	assert.Equal(t, int64(20), box.got[0].UserID)
	assert.Contains(t, box.got[0].Body, "5500 FCFA")
	assert.Equal(t, int64(10), box.got[1].UserID)
	assert.Contains(t, box.got[2].Body, "confirmed")
	assert.Equal(t, models.RoleCourier, box.got[3].Audience)
	assert.Equal(t, "Account rejected", box.got[4].Title)
	assert.Contains(t, box.got[4].Body, "missing licence")

	require.NoError(t, w.Stop())
	assert.True(t, source.closed)
}

func TestNotifierFailureIsReported(t *testing.T) {
	source := &fakeSource{messages: []kafka.Message{
		message(t, models.PaymentEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypePaymentResolved),
			OrderID:   1, Reference: "MOMO-1", Status: models.PaymentStatusSucceeded, Amount: 5500,
		}),
		{Value: []byte("not json")},
	}}
	box := &inbox{fail: errors.New("sms gateway down")}
	w := NewNotificationWorker(source, box)

	require.NoError(t, w.Start(context.Background()))
	require.Len(t, source.handled, 2)
	assert.ErrorContains(t, source.handled[0], "sms gateway down")
	assert.Error(t, source.handled[1])
}

func TestDeliveryNotifications(t *testing.T) {
	box := &inbox{}
	w := NewNotificationWorker(&fakeSource{}, box)
	ctx := context.Background()

	require.NoError(t, w.onDelivery(ctx, &models.DeliveryEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeDeliveryStatus}, To: models.DeliveryStatusEnRouteToClient}))
	assert.Empty(t, box.got)

	require.NoError(t, w.onDelivery(ctx, &models.DeliveryEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeDeliveryStatus}, OrderID: 4, To: models.DeliveryStatusArrived}))
	require.NoError(t, w.onDelivery(ctx, &models.DeliveryEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeDeliveryCompleted}, OrderID: 4, To: models.DeliveryStatusDelivered}))
	require.Len(t, box.got, 2)
	assert.Equal(t, "Courier at your door", box.got[0].Title)
	assert.Equal(t, "Order delivered", box.got[1].Title)
	assert.Equal(t, int64(4), box.got[1].OrderID)
}
