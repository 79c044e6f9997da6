package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"egg-market/internal/models"

	"github.com/go-redis/redis/v8"
)

// pendingValue marks an idempotency key whose request is still running.
const pendingValue = "pending"

const deliveryTTL = 24 * time.Hour

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an existing connection.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// ClaimIdempotencyKey reserves key for one in-flight request (SETNX).
// It returns false when another request already holds or completed it.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, idempotencyKey(key), pendingValue, ttl).Result()
}

// CompleteIdempotencyKey stores the result of the request that claimed key.
func (c *Client) CompleteIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), value, ttl).Err()
}

// GetIdempotencyKey returns the stored result, "" when absent, and whether
// the owning request is still running.
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingValue {
		return "", true, nil
	}
	return val, false, nil
}

// ReleaseIdempotencyKey drops a claim after a failed request so it can be retried.
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}

func deliveryKey(id int64) string {
	return fmt.Sprintf("delivery:%d", id)
}

func (c *Client) CacheDelivery(ctx context.Context, d *models.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, deliveryKey(d.ID), data, deliveryTTL).Err()
}

// GetCachedDelivery returns nil, nil on a cache miss.
func (c *Client) GetCachedDelivery(ctx context.Context, id int64) (*models.Delivery, error) {
	data, err := c.rdb.Get(ctx, deliveryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var d models.Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) InvalidateDelivery(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, deliveryKey(id)).Err()
}
