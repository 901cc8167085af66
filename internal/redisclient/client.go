package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// changeChannel carries collection names of store writes between
// service instances, so every instance's subscription hub re-runs its
// live queries after a peer writes.
const changeChannel = "docstore.changes"

const cachePrefix = "cache:content:"

type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis and verifies the connection.
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

// PublishChange broadcasts a collection change to peer instances.
func (c *Client) PublishChange(ctx context.Context, collection string) error {
	return c.rdb.Publish(ctx, changeChannel, collection).Err()
}

// SubscribeChanges delivers peer collection changes to handler until
// ctx is cancelled.
func (c *Client) SubscribeChanges(ctx context.Context, handler func(collection string)) error {
	sub := c.rdb.Subscribe(ctx, changeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler(msg.Payload)
		}
	}
}

// AcquireLock acquires a short-lived exclusive lock. Used to close the
// check-then-act window on one-open-inquiry-per-user ticket creation.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a previously acquired lock.
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// CacheGet reads a cached singleton document payload. A miss returns
// ("", nil).
func (c *Client) CacheGet(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, cachePrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// CacheSet stores a singleton document payload with a TTL.
func (c *Client) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, cachePrefix+key, value, ttl).Err()
}

// CacheInvalidate drops a cached singleton after a write.
func (c *Client) CacheInvalidate(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, cachePrefix+key).Err()
}
