package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aeroride/carpool/pkg/config"
	"github.com/aeroride/carpool/pkg/logger"
)

// Nil is re-exported so callers can detect cache misses without importing the
// driver directly.
const Nil = redis.Nil

// ClientInterface is the read/write slice middleware depends on.
type ClientInterface interface {
	GetString(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Client wraps the Redis client. A Client with a nil backend is the degraded
// mode: every read misses, every write succeeds silently. No caller may fail
// because the cache is down.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis. When the config is disabled, or the backend is
// unreachable, a degraded no-op client is returned instead of an error.
func NewClient(cfg *config.RedisConfig) *Client {
	if !cfg.Enabled {
		logger.Warn("redis not configured, cache disabled")
		return &Client{}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, cache disabled")
		_ = rdb.Close()
		return &Client{}
	}

	return &Client{rdb: rdb}
}

// NewClientFromRedis wraps an existing go-redis client, used by tests with redismock.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Enabled reports whether a live backend is attached.
func (c *Client) Enabled() bool {
	return c != nil && c.rdb != nil
}

// SetWithExpiration sets a key-value pair with expiration
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Set(ctx, key, value, expiration).Err()
}

// GetString gets a string value by key. Degraded mode always misses.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	if !c.Enabled() {
		return "", redis.Nil
	}
	return c.rdb.Get(ctx, key).Result()
}

// SetNX sets the key only if it is absent and reports whether it was set.
// Degraded mode reports true so no request is ever blocked on the cache.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if !c.Enabled() {
		return true, nil
	}
	return c.rdb.SetNX(ctx, key, value, expiration).Result()
}

// Delete deletes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Exists checks if a key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	result, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Scan iterates keys matching a glob pattern.
func (c *Client) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	if !c.Enabled() {
		return nil, 0, nil
	}
	return c.rdb.Scan(ctx, cursor, match, count).Result()
}

// Expire sets an expiration on a key
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Expire(ctx, key, expiration).Err()
}

// Cmdable exposes the underlying command interface, nil in degraded mode.
// Used by the rate limiter which is itself nil-safe.
func (c *Client) Cmdable() redis.Cmdable {
	if !c.Enabled() {
		return nil
	}
	return c.rdb
}

// Ping reports backend health.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}
