//go:build integration

package redisclient

import (
	"context"
	"testing"
	"time"

	"egg-market/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	c := NewFromClient(redis.NewClient(opts))
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))
	return c
}

func TestIdempotencyLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	claimed, err := c.ClaimIdempotencyKey(ctx, "order:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = c.ClaimIdempotencyKey(ctx, "order:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	val, pending, err := c.GetIdempotencyKey(ctx, "order:abc")
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Empty(t, val)

	require.NoError(t, c.CompleteIdempotencyKey(ctx, "order:abc", "42", time.Minute))
	val, pending, err = c.GetIdempotencyKey(ctx, "order:abc")
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, "42", val)

	require.NoError(t, c.ReleaseIdempotencyKey(ctx, "order:abc"))
	val, pending, err = c.GetIdempotencyKey(ctx, "order:abc")
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Empty(t, val)
}

func TestDeliveryCache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	miss, err := c.GetCachedDelivery(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, miss)

	d := &models.Delivery{ID: 7, OrderID: 3, CourierID: 9, Status: models.DeliveryStatusAccepted, DistanceKm: 4.2}
	require.NoError(t, c.CacheDelivery(ctx, d))

	got, err := c.GetCachedDelivery(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.DeliveryStatusAccepted, got.Status)
	assert.Equal(t, 4.2, got.DistanceKm)

	require.NoError(t, c.InvalidateDelivery(ctx, 7))
	got, err = c.GetCachedDelivery(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got)
}
