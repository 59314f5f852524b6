package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// dedupeTTL bounds how long a processed webhook event id is remembered.
// Providers stop retrying well within this window.
const dedupeTTL = 72 * time.Hour

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
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

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// FirstDelivery records a webhook event id for an order and reports whether
// this delivery is the first one seen. SETNX makes the check-and-set atomic,
// so concurrent deliveries of the same event agree on a single winner.
func (c *Client) FirstDelivery(ctx context.Context, orderID int64, eventID string) (bool, error) {
	key := fmt.Sprintf("payment-event:%d:%s", orderID, eventID)
	return c.rdb.SetNX(ctx, key, "1", dedupeTTL).Result()
}
