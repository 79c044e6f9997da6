package service

import (
	"testing"
	"time"

	"egg-market/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodStart(t *testing.T) {
	now := time.Date(2025, 3, 12, 15, 30, 0, 0, time.UTC)
	tests := []struct {
		in, period string
		want       time.Time
	}{
		{"day", "day", time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)},
		{"week", "week", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"", "month", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{" Month ", "month", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"year", "year", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		period, since, err := periodStart(tt.in, now)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.period, period)
		assert.Equal(t, tt.want, since, tt.in)
	}

	_, _, err := periodStart("decade", now)
	assertKind(t, err, apperr.Validation)
}

func TestStatsWithoutActivity(t *testing.T) {
	f := newFixture(t)

	deliveries, err := f.stats.Deliveries(f.ctx, f.adminActor, "")
	require.NoError(t, err)
	assert.Equal(t, 0, deliveries.Total)
	assert.Equal(t, 100.0, deliveries.SuccessRate)

	sales, err := f.stats.Sales(f.ctx, f.adminActor, "day")
	require.NoError(t, err)
	assert.Zero(t, sales.Revenue)
	assert.Zero(t, sales.AverageBasket)

	_, err = f.stats.Sales(f.ctx, f.producer, "")
	assertKind(t, err, apperr.Unauthorized)
}

func TestStatsAfterActivity(t *testing.T) {
	f := newFixture(t)
	f.deliveredOrder()
	_, failed := f.assignedDelivery(1)
	_, err := f.deliveries.ReportFailure(f.ctx, f.courier, failed.ID, "no answer")
	require.NoError(t, err)
	cancelled := f.placeOrder(1)
	_, err = f.orders.Cancel(f.ctx, f.client, cancelled.ID, "changed my mind")
	require.NoError(t, err)
	f.placeOrder(1)

	sales, err := f.stats.Sales(f.ctx, f.adminActor, "month")
	require.NoError(t, err)
	assert.Equal(t, 3, sales.Orders)
	assert.Equal(t, int64(9000), sales.Revenue)
	assert.Equal(t, 3000.0, sales.AverageBasket)
	assert.Equal(t, 1, sales.Clients)
	require.Len(t, sales.TopProducers, 1)
	assert.Equal(t, "Ferme de Bonaberi", sales.TopProducers[0].FarmName)
	require.Len(t, sales.Daily, 1)
	assert.Equal(t, 3, sales.Daily[0].Orders)

	deliveries, err := f.stats.Deliveries(f.ctx, f.adminActor, "week")
	require.NoError(t, err)
	assert.Equal(t, 2, deliveries.Total)
	assert.Equal(t, 1, deliveries.Delivered)
	assert.Equal(t, 1, deliveries.Failed)
	assert.Equal(t, 50.0, deliveries.SuccessRate)

	admin, err := f.stats.AdminDashboard(f.ctx, f.adminActor)
	require.NoError(t, err)
	assert.Equal(t, 1, admin.Clients)
	assert.Equal(t, 1, admin.Producers)
	assert.Equal(t, 1, admin.Couriers)
	assert.Equal(t, 3, admin.MonthOrders)
	assert.Equal(t, int64(9000), admin.MonthRevenue)
	assert.Len(t, admin.LastDays, chartDays)
	assert.Equal(t, 3, admin.LastDays[chartDays-1].Orders)

	producer, err := f.stats.ProducerDashboard(f.ctx, f.producer)
	require.NoError(t, err)
	assert.Equal(t, 3, producer.MonthOrders)
	assert.Equal(t, 1, producer.PendingOrders)
	assert.Equal(t, 1, producer.SalesCount)
	assert.Equal(t, 1, producer.InStock)
	assert.Len(t, producer.RecentOrders, 4)

	courier, err := f.stats.CourierDashboard(f.ctx, f.courier)
	require.NoError(t, err)
	assert.Equal(t, 2, courier.TodayDeliveries)
	assert.Equal(t, 1, courier.TodayDelivered)
	assert.Equal(t, int64(500), courier.TodayEarnings)
	assert.Equal(t, 1, courier.DeliveryCount)
	assert.Zero(t, courier.ActiveDeliveries)
	assert.Zero(t, courier.WaitingDeliveries)

	_, err = f.stats.CourierDashboard(f.ctx, f.producer)
	assertKind(t, err, apperr.Unauthorized)
}
