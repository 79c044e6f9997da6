package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"egg-market/internal/models"
	"egg-market/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInTxRollback(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &models.Product{Name: "Plateau", Price: 2500, Unit: models.UnitTray30, Stock: 10, Available: true}
	require.NoError(t, s.CreateProduct(ctx, p))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q store.Querier) error {
		locked, err := q.LockProduct(ctx, p.ID)
		require.NoError(t, err)
		locked.Decrement(4)
		require.NoError(t, q.UpdateProduct(ctx, locked))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Stock)

	require.NoError(t, s.InTx(ctx, func(q store.Querier) error {
		locked, err := q.LockProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		locked.Decrement(4)
		return q.UpdateProduct(ctx, locked)
	}))

	got, err = s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Stock)
}

func TestUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	email := "awa@example.cm"
	require.NoError(t, s.CreateUser(ctx, &models.User{Phone: "690", Email: &email, Role: models.RoleClient}))
	assert.ErrorIs(t, s.CreateUser(ctx, &models.User{Phone: "690", Role: models.RoleClient}), store.ErrConflict)
	assert.ErrorIs(t, s.CreateUser(ctx, &models.User{Phone: "691", Email: &email, Role: models.RoleClient}), store.ErrConflict)

	d := &models.Delivery{OrderID: 7, CourierID: 1, Status: models.DeliveryStatusAssigned, AssignedAt: time.Now()}
	require.NoError(t, s.CreateDelivery(ctx, d))
	assert.ErrorIs(t, s.CreateDelivery(ctx, &models.Delivery{OrderID: 7, CourierID: 2}), store.ErrConflict)

	require.NoError(t, s.CreateRating(ctx, &models.OrderRating{OrderID: 7, ProducerScore: 5}))
	assert.ErrorIs(t, s.CreateRating(ctx, &models.OrderRating{OrderID: 7, ProducerScore: 4}), store.ErrConflict)
}

func TestListOrdersFilterAndPaging(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		o := &models.Order{Reference: models.NewOrderReference(time.Now()), ClientID: int64(1 + i%2), Status: models.OrderStatusPending}
		o.AddLine(models.OrderLine{ProductID: 1, Quantity: 1, UnitPrice: 100})
		require.NoError(t, s.CreateOrder(ctx, o))
	}

	orders, total, err := s.ListOrders(ctx, models.OrderFilter{ClientID: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, orders, 2)
	assert.Greater(t, orders[0].ID, orders[1].ID)
	assert.Len(t, orders[0].Lines, 1)

	orders, _, err = s.ListOrders(ctx, models.OrderFilter{ClientID: 1, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestAvailableCouriersRequireActiveUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	active := &models.User{Phone: "1", Role: models.RoleCourier, Active: true}
	inactive := &models.User{Phone: "2", Role: models.RoleCourier, Active: false}
	require.NoError(t, s.CreateUser(ctx, active))
	require.NoError(t, s.CreateUser(ctx, inactive))
	require.NoError(t, s.CreateCourierProfile(ctx, &models.CourierProfile{UserID: active.ID, Available: true, Validated: true}))
	require.NoError(t, s.CreateCourierProfile(ctx, &models.CourierProfile{UserID: inactive.ID, Available: true, Validated: true}))

	couriers, err := s.ListAvailableCouriers(ctx)
	require.NoError(t, err)
	require.Len(t, couriers, 1)
	assert.Equal(t, active.ID, couriers[0].UserID)
}
