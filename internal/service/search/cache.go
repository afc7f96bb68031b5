package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"dietchat/internal/redis"
)

const redisSnippetPrefix = "search:snippets:"

// Cache stores snippet sets per normalized query. Failures are logged and
// treated as misses.
type Cache interface {
	Load(ctx context.Context, query string) (SnippetSet, bool)
	Store(ctx context.Context, query string, set SnippetSet)
}

// RedisCache keeps snippet sets in redis as JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return redisSnippetPrefix + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Load(ctx context.Context, query string) (SnippetSet, bool) {
	if c == nil || c.client == nil {
		return SnippetSet{}, false
	}
	raw, err := c.client.Get(ctx, cacheKey(query))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			slog.WarnContext(ctx, "search cache lookup failed", "error", err)
		}
		return SnippetSet{}, false
	}
	var set SnippetSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		slog.WarnContext(ctx, "search cache decode failed", "error", err)
		return SnippetSet{}, false
	}
	return set, true
}

func (c *RedisCache) Store(ctx context.Context, query string, set SnippetSet) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(set)
	if err != nil {
		slog.WarnContext(ctx, "search cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(query), payload, c.ttl); err != nil {
		slog.WarnContext(ctx, "search cache store failed", "error", err)
	}
}
