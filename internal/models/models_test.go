package models

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusConfirmed, OrderStatusPreparing, true},
		{OrderStatusPreparing, OrderStatusReady, true},
		{OrderStatusReady, OrderStatusInDelivery, true},
		{OrderStatusInDelivery, OrderStatusDelivered, true},
		{OrderStatusInDelivery, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusRefunded, true},
		{OrderStatusPending, OrderStatusDelivered, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusRefunded, OrderStatusDelivered, false},
		{OrderStatusConfirmed, OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestCancellablePolicy(t *testing.T) {
	assert.True(t, OrderStatusPending.Cancellable())
	assert.True(t, OrderStatusConfirmed.Cancellable())
	assert.False(t, OrderStatusPreparing.Cancellable())
	assert.False(t, OrderStatusReady.Cancellable())
	assert.False(t, OrderStatusInDelivery.Cancellable())
}

func TestPaymentTransitions(t *testing.T) {
	for _, to := range []PaymentStatus{PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled} {
		assert.True(t, PaymentStatusPending.CanTransition(to), to)
		assert.True(t, to.Terminal())
		assert.False(t, to.CanTransition(PaymentStatusPending))
		assert.False(t, to.CanTransition(PaymentStatusSucceeded))
	}
}

func TestDeliveryTransitions(t *testing.T) {
	for _, s := range ActiveDeliveryStatuses() {
		assert.True(t, s.CanTransition(DeliveryStatusFailed), s)
	}
	assert.False(t, DeliveryStatusDelivered.CanTransition(DeliveryStatusFailed))
	assert.False(t, DeliveryStatusFailed.CanTransition(DeliveryStatusAssigned))
	assert.False(t, DeliveryStatusAssigned.CanTransition(DeliveryStatusDelivered))
	assert.True(t, DeliveryStatusAccepted.CanTransition(DeliveryStatusPickedUp))
}

func TestOrderTotalInvariant(t *testing.T) {
	o := &Order{DeliveryFee: 500}

	o.AddLine(OrderLine{ProductID: 1, Quantity: 2, UnitPrice: 2500})
	assert.Equal(t, int64(5000), o.Subtotal)
	assert.Equal(t, int64(5500), o.Total)

	o.AddLine(OrderLine{ProductID: 2, Quantity: 1, UnitPrice: 1200})
	assert.Equal(t, o.Subtotal+o.DeliveryFee-o.Discount, o.Total)

	o.ApplyDiscount(700)
	assert.Equal(t, int64(6200+500-700), o.Total)

	require.True(t, o.RemoveLine(2))
	assert.Equal(t, int64(5000), o.Subtotal)
	assert.Equal(t, o.Subtotal+o.DeliveryFee-o.Discount, o.Total)
	assert.False(t, o.RemoveLine(99))
}

func TestOrderAdvanceTo(t *testing.T) {
	now := time.Now()
	o := &Order{Status: OrderStatusConfirmed}

	require.NoError(t, o.AdvanceTo(OrderStatusDelivered, now))
	assert.Equal(t, OrderStatusDelivered, o.Status)
	require.NotNil(t, o.DeliveredAt)

	assert.NoError(t, o.AdvanceTo(OrderStatusDelivered, now))

	cancelled := &Order{Status: OrderStatusCancelled}
	assert.ErrorIs(t, cancelled.AdvanceTo(OrderStatusDelivered, now), ErrInvalidTransition)

	back := &Order{Status: OrderStatusReady}
	assert.ErrorIs(t, back.AdvanceTo(OrderStatusConfirmed, now), ErrInvalidTransition)
}

func TestDeliveryAdvanceStampsMilestones(t *testing.T) {
	now := time.Now()
	d := &Delivery{Status: DeliveryStatusAssigned}

	require.NoError(t, d.AdvanceTo(DeliveryStatusArrived, now))
	assert.Equal(t, DeliveryStatusArrived, d.Status)
	assert.NotNil(t, d.AcceptedAt)
	assert.NotNil(t, d.PickedUpAt)
	assert.Nil(t, d.CompletedAt)

	require.NoError(t, d.AdvanceTo(DeliveryStatusDelivered, now))
	assert.NotNil(t, d.CompletedAt)

	failed := &Delivery{Status: DeliveryStatusFailed}
	assert.ErrorIs(t, failed.AdvanceTo(DeliveryStatusDelivered, now), ErrInvalidTransition)
}

func TestPaymentResolve(t *testing.T) {
	p := &Payment{Status: PaymentStatusPending}
	require.NoError(t, p.Resolve(PaymentStatusSucceeded, time.Now()))
	assert.NotNil(t, p.ConfirmedAt)
	assert.ErrorIs(t, p.Resolve(PaymentStatusFailed, time.Now()), ErrInvalidTransition)
}

func TestProductStock(t *testing.T) {
	p := &Product{Stock: 3, Available: true}

	assert.False(t, p.Decrement(4))
	assert.Equal(t, 3, p.Stock)

	assert.True(t, p.Decrement(3))
	assert.Equal(t, 0, p.Stock)
	assert.False(t, p.Available)

	p.Increment(2)
	assert.Equal(t, 2, p.Stock)
	assert.True(t, p.Available)

	p.SetStock(-5)
	assert.Equal(t, 0, p.Stock)
	assert.False(t, p.Available)
}

func TestUnitMultiplier(t *testing.T) {
	assert.Equal(t, 1, UnitPiece.Multiplier())
	assert.Equal(t, 30, UnitTray30.Multiplier())
	assert.Equal(t, 180, UnitCase180.Multiplier())
	assert.Equal(t, 360, UnitCase360.Multiplier())
	assert.False(t, Unit("BASKET").Valid())
}

func TestOrderReference(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^EGG-2025-[0-9A-F]{8}$`)

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		ref := NewOrderReference(now)
		require.Regexp(t, pattern, ref)
		_, dup := seen[ref]
		require.False(t, dup, "duplicate reference %s", ref)
		seen[ref] = struct{}{}
	}
}

func TestConfirmationCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.Regexp(t, `^[0-9]{4}$`, NewConfirmationCode())
	}
}

func TestNextAverage(t *testing.T) {
	avg := NextAverage(0, 0, 4)
	assert.Equal(t, 4.0, avg)

	avg = NextAverage(avg, 1, 2)
	assert.Equal(t, 3.0, avg)

	avg = NextAverage(avg, 2, 5)
	assert.InDelta(t, 11.0/3.0, avg, 1e-9)
}
