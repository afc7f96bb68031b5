package ratelimit

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"dietchat/internal/config"
	"dietchat/internal/redis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewMemoryLimiter(3, 3*time.Second)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 2; i >= 0; i-- {
		d, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, i, d.Remaining)
	}

	d, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.True(t, d.Reset.After(now))
	assert.False(t, d.Reset.After(now.Add(time.Second)))

	// Other callers have their own bucket.
	d, err = l.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	now = now.Add(time.Second)
	d, err = l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterPrunesIdleBuckets(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewMemoryLimiter(1, time.Second)
	l.now = func() time.Time { return now }
	for i := 0; i < pruneThreshold; i++ {
		_, _ = l.Allow(context.Background(), strconv.Itoa(i))
	}
	now = now.Add(time.Minute)
	_, _ = l.Allow(context.Background(), "fresh")
	assert.Len(t, l.buckets, 1)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	client, err := redis.NewRedisClient(config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLimiter(client, 2, time.Minute)
	key := "test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	ctx := context.Background()
	defer client.Del(ctx, redisKeyPrefix+key)

	first, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	_, err = l.Allow(ctx, key)
	require.NoError(t, err)

	third, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.True(t, third.Reset.After(time.Now()))
}

func TestRedisLimiterWithoutClientFails(t *testing.T) {
	_, err := NewRedisLimiter(nil, 1, time.Second).Allow(context.Background(), "k")
	assert.Error(t, err)
}
