package service

import (
	"testing"

	"egg-market/internal/apperr"
	"egg-market/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) deliveredOrder() (*models.Order, *models.Delivery) {
	f.t.Helper()
	o, d := f.assignedDelivery(1)
	_, err := f.deliveries.Accept(f.ctx, f.courier, d.ID)
	require.NoError(f.t, err)
	_, err = f.deliveries.Confirm(f.ctx, f.courier, d.ID, ConfirmDeliveryRequest{Code: f.handoffCode(o.ID)})
	require.NoError(f.t, err)
	return f.order(o.ID), d
}

func TestRateOrder(t *testing.T) {
	f := newFixture(t)
	first, _ := f.deliveredOrder()
	second, _ := f.deliveredOrder()

	r, err := f.ratings.RateOrder(f.ctx, f.client, first.ID, RateOrderRequest{ProducerScore: 5, CourierScore: ptr(4), Comment: "Tres frais"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, r.OrderID)

	_, err = f.ratings.RateOrder(f.ctx, f.client, second.ID, RateOrderRequest{ProducerScore: 2})
	require.NoError(t, err)

	producer, err := f.st.GetProducerProfile(f.ctx, f.producer.UserID)
	require.NoError(t, err)
	assert.Equal(t, 2, producer.RatingCount)
	assert.InDelta(t, 3.5, producer.RatingAvg, 1e-9)

	courier, err := f.st.GetCourierProfile(f.ctx, f.courier.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, courier.RatingCount)
	assert.InDelta(t, 4.0, courier.RatingAvg, 1e-9)

	_, err = f.ratings.RateOrder(f.ctx, f.client, first.ID, RateOrderRequest{ProducerScore: 1})
	assertKind(t, err, apperr.AlreadyExists)

	got, err := f.ratings.GetRating(f.ctx, f.producer, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tres frais", got.Comment)
	_, err = f.ratings.GetRating(f.ctx, f.courier, first.ID)
	assertKind(t, err, apperr.Unauthorized)
}

func TestRateOrderRules(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(1)

	_, err := f.ratings.RateOrder(f.ctx, f.client, o.ID, RateOrderRequest{ProducerScore: 6})
	assertKind(t, err, apperr.Validation)
	_, err = f.ratings.RateOrder(f.ctx, f.client, o.ID, RateOrderRequest{ProducerScore: 3, CourierScore: ptr(0)})
	assertKind(t, err, apperr.Validation)
	_, err = f.ratings.RateOrder(f.ctx, f.client, o.ID, RateOrderRequest{ProducerScore: 3})
	assertKind(t, err, apperr.InvalidState)
	_, err = f.ratings.RateOrder(f.ctx, f.producer, o.ID, RateOrderRequest{ProducerScore: 3})
	assertKind(t, err, apperr.Unauthorized)

	_, err = f.ratings.GetRating(f.ctx, f.client, o.ID)
	assertKind(t, err, apperr.NotFound)
}
