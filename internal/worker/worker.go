package worker

import (
	"context"
	"fmt"

	"egg-market/internal/broker"
	"egg-market/internal/models"
	"egg-market/internal/util"

	"go.uber.org/zap"
)

// Source is the consuming side of the event topic.
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Notification is one message for a marketplace participant. UserID is zero
// when the event only identifies the order; the recipient is then the order's
// client.
type Notification struct {
	Audience models.Role
	UserID   int64
	OrderID  int64
	Title    string
	Body     string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.Named("notifier")}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("Notification",
		zap.String("audience", string(n.Audience)),
		zap.Int64("user_id", n.UserID),
		zap.Int64("order_id", n.OrderID),
		zap.String("title", n.Title),
		zap.String("body", n.Body))
	return nil
}

// NotificationWorker turns domain events into notifications
type NotificationWorker struct {
	source       Source
	notifier     Notifier
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source Source, notifier Notifier) *NotificationWorker {
	w := &NotificationWorker{
		source:       source,
		notifier:     notifier,
		eventHandler: broker.NewEventHandler(),
		logger:       util.Named("notifications"),
	}
	w.eventHandler.OnOrder(w.onOrder)
	w.eventHandler.OnPayment(w.onPayment)
	w.eventHandler.OnDelivery(w.onDelivery)
	w.eventHandler.OnUser(w.onUser)
	return w
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}

func (w *NotificationWorker) send(ctx context.Context, notes ...Notification) error {
	for _, n := range notes {
		if err := w.notifier.Notify(ctx, n); err != nil {
			return fmt.Errorf("failed to notify %s %d: %w", n.Audience, n.UserID, err)
		}
		util.NotificationsSentTotal.WithLabelValues(string(n.Audience)).Inc()
	}
	return nil
}

func (w *NotificationWorker) onOrder(ctx context.Context, e *models.OrderEvent) error {
	switch e.EventType {
	case models.EventTypeOrderCreated:
		return w.send(ctx,
			Notification{
				Audience: models.RoleProducer, UserID: e.ProducerID, OrderID: e.OrderID,
				Title: "New order",
				Body:  fmt.Sprintf("Order %s for %d FCFA is waiting for your confirmation.", e.Reference, e.Total),
			},
			Notification{
				Audience: models.RoleClient, UserID: e.ClientID, OrderID: e.OrderID,
				Title: "Order received",
				Body:  fmt.Sprintf("Your order %s has been sent to the producer.", e.Reference),
			})
	case models.EventTypeOrderCancelled:
		body := fmt.Sprintf("Order %s was cancelled.", e.Reference)
		if e.Reason != "" {
			body = fmt.Sprintf("Order %s was cancelled: %s", e.Reference, e.Reason)
		}
		return w.send(ctx,
			Notification{Audience: models.RoleClient, UserID: e.ClientID, OrderID: e.OrderID, Title: "Order cancelled", Body: body},
			Notification{Audience: models.RoleProducer, UserID: e.ProducerID, OrderID: e.OrderID, Title: "Order cancelled", Body: body})
	}
	return w.send(ctx, Notification{
		Audience: models.RoleClient, UserID: e.ClientID, OrderID: e.OrderID,
		Title: "Order update",
		Body:  fmt.Sprintf("Order %s is now %s.", e.Reference, orderLabel(e.To)),
	})
}

func (w *NotificationWorker) onPayment(ctx context.Context, e *models.PaymentEvent) error {
	title := "Payment failed"
	body := fmt.Sprintf("Payment %s was not completed (%s).", e.Reference, e.Status)
	if e.Status == models.PaymentStatusSucceeded {
		title = "Payment received"
		body = fmt.Sprintf("Payment %s of %d FCFA was received.", e.Reference, e.Amount)
	}
	return w.send(ctx, Notification{Audience: models.RoleClient, OrderID: e.OrderID, Title: title, Body: body})
}

func (w *NotificationWorker) onDelivery(ctx context.Context, e *models.DeliveryEvent) error {
	switch e.EventType {
	case models.EventTypeDeliveryAssigned:
		return w.send(ctx, Notification{
			Audience: models.RoleCourier, UserID: e.CourierID, OrderID: e.OrderID,
			Title: "New delivery",
			Body:  fmt.Sprintf("Delivery %d has been assigned to you.", e.DeliveryID),
		})
	case models.EventTypeDeliveryCompleted:
		return w.send(ctx, Notification{
			Audience: models.RoleClient, OrderID: e.OrderID,
			Title: "Order delivered",
			Body:  "Your eggs have been delivered. Thank you for your order!",
		})
	}
	if e.To == models.DeliveryStatusFailed {
		return w.send(ctx, Notification{
			Audience: models.RoleClient, OrderID: e.OrderID,
			Title: "Delivery problem",
			Body:  "The courier could not complete your delivery. We will contact you.",
		})
	}
	if e.To != models.DeliveryStatusArrived {
		return nil
	}
	return w.send(ctx, Notification{
		Audience: models.RoleClient, OrderID: e.OrderID,
		Title: "Courier at your door",
		Body:  "Your courier has arrived. Have your confirmation code ready.",
	})
}

func (w *NotificationWorker) onUser(ctx context.Context, e *models.UserEvent) error {
	n := Notification{Audience: e.Role, UserID: e.UserID, Title: "Account validated", Body: "Your account has been validated. Welcome!"}
	if !e.Approved {
		n.Title = "Account rejected"
		n.Body = "Your account could not be validated."
		if e.Reason != "" {
			n.Body += " Reason: " + e.Reason
		}
	}
	return w.send(ctx, n)
}

var orderLabels = map[models.OrderStatus]string{
	models.OrderStatusConfirmed:  "confirmed",
	models.OrderStatusPreparing:  "being prepared",
	models.OrderStatusReady:      "ready for pickup",
	models.OrderStatusInDelivery: "on its way",
	models.OrderStatusDelivered:  "delivered",
	models.OrderStatusRefunded:   "refunded",
}

func orderLabel(s models.OrderStatus) string {
	if label, ok := orderLabels[s]; ok {
		return label
	}
	return string(s)
}
