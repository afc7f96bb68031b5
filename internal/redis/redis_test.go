package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"dietchat/internal/config"
)

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Second); !errors.Is(err, errNotInitialized) {
		t.Fatalf("Set on nil client: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("Get on nil client: %v", err)
	}
	if _, _, err := c.IncrWindow(ctx, "k", time.Second); !errors.Is(err, errNotInitialized) {
		t.Fatalf("IncrWindow on nil client: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
	if err := c.Del(ctx); !errors.Is(err, errNotInitialized) {
		t.Fatalf("Del on nil client: %v", err)
	}
}

func TestNewRedisClientRequiresHost(t *testing.T) {
	if _, err := NewRedisClient(config.RedisConfig{Port: 6379}); err == nil {
		t.Fatalf("expected error without host")
	}
}

func TestIncrWindowCounts(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()
	ctx := context.Background()

	key := "test:window:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer client.Del(ctx, key)

	for want := int64(1); want <= 3; want++ {
		count, ttl, err := client.IncrWindow(ctx, key, time.Minute)
		if err != nil {
			t.Fatalf("IncrWindow: %v", err)
		}
		if count != want {
			t.Fatalf("count: want %d got %d", want, count)
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Fatalf("unexpected ttl %v", ttl)
		}
	}

	if err := client.Set(ctx, key+":plain", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := client.Get(ctx, key+":plain"); err != nil || got != "v" {
		t.Fatalf("Get: %q %v", got, err)
	}
	if err := client.Del(ctx, key+":plain"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := client.Get(ctx, key+":plain"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := NewRedisClient(config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	return client
}
