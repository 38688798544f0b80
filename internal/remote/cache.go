package remote

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ProbeCache remembers authoritative not-found answers so repeated probes of
// a dead target stay off the wire.
type ProbeCache interface {
	IsNotFound(ctx context.Context, key string) bool
	MarkNotFound(ctx context.Context, key string, ttl time.Duration)
}

// MemoryCache is a TTL map cache, the default when no Redis is configured.
type MemoryCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

var _ ProbeCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{expires: make(map[string]time.Time)}
}

func (c *MemoryCache) IsNotFound(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := c.expires[key]
	if !ok {
		return false
	}
	if time.Now().After(deadline) {
		delete(c.expires, key)
		return false
	}
	return true
}

func (c *MemoryCache) MarkNotFound(_ context.Context, key string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expires[key] = time.Now().Add(ttl)
}

// RedisCache shares not-found answers across processes.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ ProbeCache = (*RedisCache)(nil)

// NewRedisCache creates a cache on the given client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "probe:notfound:"}
}

func (c *RedisCache) IsNotFound(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.prefix+key).Result()
	return err == nil && n > 0
}

func (c *RedisCache) MarkNotFound(ctx context.Context, key string, ttl time.Duration) {
	c.client.Set(ctx, c.prefix+key, "1", ttl)
}
