package service

import (
	"testing"

	"egg-market/internal/apperr"
	"egg-market/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderReservesStock(t *testing.T) {
	f := newFixture(t)

	o := f.placeOrder(2)

	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, int64(5000), o.Subtotal)
	assert.Equal(t, int64(500), o.DeliveryFee)
	assert.Equal(t, int64(5500), o.Total)
	assert.Regexp(t, `^EGG-\d{4}-[0-9A-F]{8}$`, o.Reference)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, int64(2500), o.Lines[0].UnitPrice)
	assert.Equal(t, int64(5000), o.Lines[0].LineTotal)
	assert.Equal(t, 8, f.stock())

	assert.Equal(t, []string{models.EventTypeOrderCreated}, f.events.orderTypes())
	require.Len(t, f.events.orders[0].Items, 1)
	assert.Equal(t, 2, f.events.orders[0].Items[0].Quantity)
}

func TestCreateOrderInsufficientStockLeavesStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.CreateOrder(f.ctx, f.client, f.orderRequest(11))
	assertKind(t, err, apperr.InsufficientStock)
	assert.Equal(t, 10, f.stock())

	page, err := f.orders.ListOrders(f.ctx, f.client, "", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestCreateOrderRollsBackEarlierLines(t *testing.T) {
	f := newFixture(t)
	other := &models.Product{
		ProducerID: f.producer.UserID,
		CategoryID: f.category.ID,
		Name:       "Carton de 180",
		Price:      14000,
		Unit:       models.UnitCase180,
		Stock:      1,
		Available:  true,
	}
	require.NoError(t, f.st.CreateProduct(f.ctx, other))

	req := f.orderRequest(3)
	req.Lines = append(req.Lines, LineRequest{ProductID: other.ID, Quantity: 2})
	_, err := f.orders.CreateOrder(f.ctx, f.client, req)
	assertKind(t, err, apperr.InsufficientStock)
	assert.Equal(t, 10, f.stock())
}

func TestCreateOrderExactStockMarksUnavailable(t *testing.T) {
	f := newFixture(t)

	f.placeOrder(10)

	p, err := f.st.GetProduct(f.ctx, f.product.ID)
	require.NoError(t, err)
	assert.Zero(t, p.Stock)
	assert.False(t, p.Available)

	_, err = f.orders.CreateOrder(f.ctx, f.client, f.orderRequest(1))
	assertKind(t, err, apperr.InsufficientStock)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		actor  Actor
		mutate func(*CreateOrderRequest)
		kind   apperr.Kind
	}{
		{"no lines", f.client, func(r *CreateOrderRequest) { r.Lines = nil }, apperr.Validation},
		{"zero quantity", f.client, func(r *CreateOrderRequest) { r.Lines[0].Quantity = 0 }, apperr.Validation},
		{"unknown mode", f.client, func(r *CreateOrderRequest) { r.PaymentMode = "BARTER" }, apperr.Validation},
		{"unknown product", f.client, func(r *CreateOrderRequest) { r.Lines[0].ProductID = 999 }, apperr.NotFound},
		{"producer cannot order", f.producer, func(*CreateOrderRequest) {}, apperr.Unauthorized},
		{"unknown address", f.client, func(r *CreateOrderRequest) { r.AddressID = 999 }, apperr.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.orderRequest(1)
			tt.mutate(req)
			_, err := f.orders.CreateOrder(f.ctx, tt.actor, req)
			assertKind(t, err, tt.kind)
		})
	}
	assert.Equal(t, 10, f.stock())
}

func TestCreateOrderRejectsForeignAddress(t *testing.T) {
	f := newFixture(t)
	other := f.addUser(models.RoleClient, "690000099")

	_, err := f.orders.CreateOrder(f.ctx, other, f.orderRequest(1))
	assertKind(t, err, apperr.Unauthorized)
}

func TestCreateOrderUnvalidatedProducer(t *testing.T) {
	f := newFixture(t)
	p, err := f.st.GetProducerProfile(f.ctx, f.producer.UserID)
	require.NoError(t, err)
	p.Validated = false
	require.NoError(t, f.st.UpdateProducerProfile(f.ctx, p))

	_, err = f.orders.CreateOrder(f.ctx, f.client, f.orderRequest(1))
	assertKind(t, err, apperr.Validation)
}

func TestCreateOrderIdempotent(t *testing.T) {
	f := newFixture(t)
	req := f.orderRequest(2)
	req.IdempotencyKey = "checkout-1"

	first, err := f.orders.CreateOrder(f.ctx, f.client, req)
	require.NoError(t, err)
	second, err := f.orders.CreateOrder(f.ctx, f.client, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 8, f.stock())
}

func TestCreateOrderReleasesKeyOnFailure(t *testing.T) {
	f := newFixture(t)
	req := f.orderRequest(11)
	req.IdempotencyKey = "checkout-2"

	_, err := f.orders.CreateOrder(f.ctx, f.client, req)
	assertKind(t, err, apperr.InsufficientStock)

	req.Lines[0].Quantity = 1
	o, err := f.orders.CreateOrder(f.ctx, f.client, req)
	require.NoError(t, err)
	assert.Equal(t, 9, f.stock())
	assert.NotZero(t, o.ID)
}

func TestCancelPendingRestoresStock(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(2)
	require.Equal(t, 8, f.stock())

	cancelled, err := f.orders.Cancel(f.ctx, f.client, o.ID, "changed my mind")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Contains(t, cancelled.Notes, "Cancelled: changed my mind")
	assert.Equal(t, 10, f.stock())
	assert.Contains(t, f.events.orderTypes(), models.EventTypeOrderCancelled)
}

func TestCancelConfirmedCancelsPendingPayment(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(1)
	res, err := f.payments.Initiate(f.ctx, f.client, InitiatePaymentRequest{OrderID: o.ID, Amount: o.Total})
	require.NoError(t, err)
	_, err = f.orders.Confirm(f.ctx, f.producer, o.ID)
	require.NoError(t, err)

	_, err = f.orders.Cancel(f.ctx, f.producer, o.ID, "")
	require.NoError(t, err)

	p, err := f.st.GetPayment(f.ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, p.Status)
	assert.Equal(t, 10, f.stock())
}

func TestCancelPaidOrderKeepsSettledPayment(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(2)
	res, err := f.payments.Initiate(f.ctx, f.client, InitiatePaymentRequest{OrderID: o.ID, Amount: o.Total})
	require.NoError(t, err)
	_, err = f.payments.Confirm(f.ctx, f.client, res.Payment.ID, ConfirmPaymentRequest{Code: "1234"})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusConfirmed, f.order(o.ID).Status)

	cancelled, err := f.orders.Cancel(f.ctx, f.client, o.ID, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.True(t, cancelled.Paid)
	assert.Equal(t, 10, f.stock())

	p, err := f.st.GetPayment(f.ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)

	_, err = f.orders.Refund(f.ctx, f.adminActor, o.ID, "")
	assertKind(t, err, apperr.InvalidState)
}

func TestCancelFromPreparingRejected(t *testing.T) {
	f := newFixture(t)
	o := f.confirmedOrder(2)
	_, err := f.orders.StartPreparing(f.ctx, f.producer, o.ID)
	require.NoError(t, err)

	_, err = f.orders.Cancel(f.ctx, f.client, o.ID, "too late")
	assertKind(t, err, apperr.InvalidState)

	assert.Equal(t, models.OrderStatusPreparing, f.order(o.ID).Status)
	assert.Equal(t, 8, f.stock())
}

func TestCancelByStranger(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(1)
	other := f.addUser(models.RoleClient, "690000099")

	_, err := f.orders.Cancel(f.ctx, other, o.ID, "")
	assertKind(t, err, apperr.Unauthorized)
	assert.Equal(t, 9, f.stock())
}

func TestProducerTransitions(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(1)

	_, err := f.orders.MarkReady(f.ctx, f.producer, o.ID)
	assertKind(t, err, apperr.InvalidState)

	_, err = f.orders.Confirm(f.ctx, f.courier, o.ID)
	assertKind(t, err, apperr.Unauthorized)

	o, err = f.orders.Confirm(f.ctx, f.producer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, o.Status)

	_, err = f.orders.Confirm(f.ctx, f.producer, o.ID)
	assertKind(t, err, apperr.InvalidState)

	o, err = f.orders.MarkReady(f.ctx, f.producer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReady, o.Status)
	assert.Equal(t, []string{
		models.EventTypeOrderCreated,
		models.EventTypeOrderStatus,
		models.EventTypeOrderStatus,
	}, f.events.orderTypes())
}

func TestApplyDiscountKeepsTotal(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(2)

	o, err := f.orders.ApplyDiscount(f.ctx, f.producer, o.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(4500), o.Total)
	assert.Equal(t, o.Subtotal+o.DeliveryFee-o.Discount, o.Total)
	assert.Equal(t, int64(4500), f.order(o.ID).Total)

	_, err = f.orders.ApplyDiscount(f.ctx, f.producer, o.ID, 6000)
	assertKind(t, err, apperr.Validation)
	_, err = f.orders.ApplyDiscount(f.ctx, f.producer, o.ID, -1)
	assertKind(t, err, apperr.Validation)
}

func TestRefundRequiresDelivered(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(1)

	_, err := f.orders.Refund(f.ctx, f.client, o.ID, "")
	assertKind(t, err, apperr.Unauthorized)
	_, err = f.orders.Refund(f.ctx, f.adminActor, o.ID, "")
	assertKind(t, err, apperr.InvalidState)
}

func TestGetOrderAccess(t *testing.T) {
	f := newFixture(t)
	o, d := f.assignedDelivery(1)
	stranger := f.addCourier("690000098", nil, nil)

	got, err := f.orders.GetOrder(f.ctx, f.client, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Delivery)
	assert.Len(t, got.Delivery.ConfirmationCode, 4)

	got, err = f.orders.GetOrder(f.ctx, f.courier, o.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.Delivery.ID)
	assert.Empty(t, got.Delivery.ConfirmationCode)

	got, err = f.orders.GetOrderByReference(f.ctx, f.producer, o.Reference)
	require.NoError(t, err)
	assert.Empty(t, got.Delivery.ConfirmationCode)

	_, err = f.orders.GetOrder(f.ctx, stranger, o.ID)
	assertKind(t, err, apperr.Unauthorized)

	_, err = f.orders.GetOrder(f.ctx, f.client, 999)
	assertKind(t, err, apperr.NotFound)
}

func TestListOrdersScopes(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(1)
	f.placeOrder(1)

	page, err := f.orders.ListOrders(f.ctx, f.client, "", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Orders, 1)

	page, err = f.orders.ListOrders(f.ctx, f.producer, models.OrderStatusPending, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, defaultPageSize, page.Limit)

	_, err = f.orders.ListOrders(f.ctx, f.courier, "", 0, 0)
	assertKind(t, err, apperr.Unauthorized)
	_, err = f.orders.ListOrders(f.ctx, f.client, "LOST", 0, 0)
	assertKind(t, err, apperr.Validation)
}
