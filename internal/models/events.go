package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated      = "ORDER_CREATED"
	EventTypeOrderStatus       = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled    = "ORDER_CANCELLED"
	EventTypePaymentResolved   = "PAYMENT_RESOLVED"
	EventTypeDeliveryAssigned  = "DELIVERY_ASSIGNED"
	EventTypeDeliveryStatus    = "DELIVERY_STATUS_CHANGED"
	EventTypeDeliveryCompleted = "DELIVERY_COMPLETED"
	EventTypeUserValidated     = "USER_VALIDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderEvent is published on order creation and every order status change.
type OrderEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	Reference  string          `json:"reference"`
	ClientID   int64           `json:"client_id"`
	ProducerID int64           `json:"producer_id"`
	From       OrderStatus     `json:"from,omitempty"`
	To         OrderStatus     `json:"to"`
	Total      int64           `json:"total"`
	Reason     string          `json:"reason,omitempty"`
	Items      []OrderItemData `json:"items,omitempty"`
}

// PaymentEvent is published when a payment leaves PENDING.
type PaymentEvent struct {
	BaseEvent
	PaymentID     int64         `json:"payment_id"`
	Reference     string        `json:"reference"`
	OrderID       int64         `json:"order_id"`
	Amount        int64         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id"`
}

// DeliveryEvent is published on assignment and every delivery status change.
type DeliveryEvent struct {
	BaseEvent
	DeliveryID int64          `json:"delivery_id"`
	OrderID    int64          `json:"order_id"`
	CourierID  int64          `json:"courier_id"`
	From       DeliveryStatus `json:"from,omitempty"`
	To         DeliveryStatus `json:"to"`
	Notes      string         `json:"notes,omitempty"`
}

// UserEvent is published when an admin validates or rejects an account.
type UserEvent struct {
	BaseEvent
	UserID   int64  `json:"user_id"`
	Role     Role   `json:"role"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// ItemsOf flattens order lines for event payloads.
func ItemsOf(lines []OrderLine) []OrderItemData {
	items := make([]OrderItemData, 0, len(lines))
	for _, l := range lines {
		items = append(items, OrderItemData{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return items
}
