package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"dietchat/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultPort = 6379
	pingTimeout = 3 * time.Second
)

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

// Client is the shared handle for the auth token cache, the search cache and
// the rate limiter counters. A nil *Client reports errNotInitialized from
// every call, so optional caches can hold one unconditionally.
type Client struct {
	rdb *redis.Client
}

// NewRedisClient connects to the configured server and pings it.
func NewRedisClient(cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("redis host not configured")
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) ready() bool {
	return c != nil && c.rdb != nil
}

// Set stores value under key for ttl.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.ready() {
		return errNotInitialized
	}
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Get fetches the key as string. A missing key yields ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if !c.ready() {
		return "", errNotInitialized
	}
	return c.rdb.Get(ctx, key).Result()
}

// Del removes keys; an empty list is a no-op.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if !c.ready() {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// IncrWindow increments a fixed-window counter, starting the window on the
// first hit. It returns the new count and the time left in the window.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if !c.ready() {
		return 0, 0, errNotInitialized
	}
	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	count, ttl := incr.Val(), pttl.Val()
	if ttl < 0 {
		// new key, or an expiry that never landed
		if err := c.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire %s: %w", key, err)
		}
		ttl = window
	}
	return count, ttl, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if !c.ready() {
		return nil
	}
	return c.rdb.Close()
}
