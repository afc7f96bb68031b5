// Package ratelimit bounds how many chat requests one caller may start per
// window.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"dietchat/internal/redis"

	"golang.org/x/time/rate"
)

// Decision is the limiter's answer for one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter admits or refuses one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// pruneThreshold is the number of tracked keys above which idle buckets are
// dropped.
const pruneThreshold = 10000

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps a token bucket per key in process memory. Tokens
// refill evenly so that limit requests fit in one window.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= pruneThreshold {
			l.pruneLocked(now)
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	// Reset is when the bucket holds at least one token again.
	reset := now
	if tokens < 1 {
		perToken := l.window / time.Duration(l.limit)
		reset = now.Add(time.Duration((1 - tokens) * float64(perToken)))
	}
	return Decision{Allowed: allowed, Limit: l.limit, Remaining: remaining, Reset: reset}, nil
}

func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.window {
			delete(l.buckets, key)
		}
	}
}

const redisKeyPrefix = "ratelimit:"

// RedisLimiter counts requests in fixed windows shared by every replica.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, ttl, err := l.client.IncrWindow(ctx, redisKeyPrefix+key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = l.window
	}
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     l.now().Add(ttl),
	}, nil
}
