package models

// transitionTable maps a status to the set of statuses it may move to.
type transitionTable[S comparable] map[S][]S

func (t transitionTable[S]) allows(from, to S) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

// forwardSteps returns the statuses after from up to and including target
// on the given path. ok is false when target is not ahead of from.
func forwardSteps[S comparable](path []S, from, target S) ([]S, bool) {
	start, end := -1, -1
	for i, s := range path {
		if s == from {
			start = i
		}
		if s == target {
			end = i
		}
	}
	if start < 0 || end <= start {
		return nil, false
	}
	return path[start+1 : end+1], true
}

// OrderStatus represents order lifecycle state
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusPreparing  OrderStatus = "PREPARING"
	OrderStatusReady      OrderStatus = "READY"
	OrderStatusInDelivery OrderStatus = "IN_DELIVERY"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

var orderTransitions = transitionTable[OrderStatus]{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing:  {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:      {OrderStatusInDelivery, OrderStatusCancelled},
	OrderStatusInDelivery: {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {OrderStatusRefunded},
}

var orderFulfilmentPath = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusInDelivery,
	OrderStatusDelivered,
	OrderStatusRefunded,
}

// CanTransition reports whether the order table lists from -> to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return orderTransitions.allows(s, to)
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// Cancellable is the cancel operation's policy, narrower than the table.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady,
		OrderStatusInDelivery, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

var paymentTransitions = transitionTable[PaymentStatus]{
	PaymentStatusPending: {PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled},
}

func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	return paymentTransitions.allows(s, to)
}

func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusPending
}

type DeliveryStatus string

const (
	DeliveryStatusAssigned          DeliveryStatus = "ASSIGNED"
	DeliveryStatusAccepted          DeliveryStatus = "ACCEPTED"
	DeliveryStatusEnRouteToProducer DeliveryStatus = "EN_ROUTE_TO_PRODUCER"
	DeliveryStatusPickedUp          DeliveryStatus = "PICKED_UP"
	DeliveryStatusEnRouteToClient   DeliveryStatus = "EN_ROUTE_TO_CLIENT"
	DeliveryStatusArrived           DeliveryStatus = "ARRIVED"
	DeliveryStatusDelivered         DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed            DeliveryStatus = "FAILED"
)

var deliveryTransitions = transitionTable[DeliveryStatus]{
	DeliveryStatusAssigned:          {DeliveryStatusAccepted, DeliveryStatusFailed},
	DeliveryStatusAccepted:          {DeliveryStatusEnRouteToProducer, DeliveryStatusPickedUp, DeliveryStatusFailed},
	DeliveryStatusEnRouteToProducer: {DeliveryStatusPickedUp, DeliveryStatusFailed},
	DeliveryStatusPickedUp:          {DeliveryStatusEnRouteToClient, DeliveryStatusFailed},
	DeliveryStatusEnRouteToClient:   {DeliveryStatusArrived, DeliveryStatusDelivered, DeliveryStatusFailed},
	DeliveryStatusArrived:           {DeliveryStatusDelivered, DeliveryStatusFailed},
}

var deliveryHandoffPath = []DeliveryStatus{
	DeliveryStatusAssigned,
	DeliveryStatusAccepted,
	DeliveryStatusEnRouteToProducer,
	DeliveryStatusPickedUp,
	DeliveryStatusEnRouteToClient,
	DeliveryStatusArrived,
	DeliveryStatusDelivered,
}

func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	return deliveryTransitions.allows(s, to)
}

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// Active reports whether a courier is still working on the delivery.
func (s DeliveryStatus) Active() bool {
	return !s.Terminal()
}

// ActiveDeliveryStatuses lists every non-terminal delivery status.
func ActiveDeliveryStatuses() []DeliveryStatus {
	return []DeliveryStatus{
		DeliveryStatusAssigned,
		DeliveryStatusAccepted,
		DeliveryStatusEnRouteToProducer,
		DeliveryStatusPickedUp,
		DeliveryStatusEnRouteToClient,
		DeliveryStatusArrived,
	}
}
