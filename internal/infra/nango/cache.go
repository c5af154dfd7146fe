// internal/infra/nango/cache.go
package nango

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache stores access tokens for a limited time. Get reports ok=false for missing or
// expired entries.
type TokenCache interface {
	Get(ctx context.Context, key string) (token string, ok bool, err error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryTokenCache is a process-local TokenCache.
type MemoryTokenCache struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryTokenCache(now func() time.Time) *MemoryTokenCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryTokenCache{now: now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.token, true, nil
}

func (m *MemoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{token: token, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryTokenCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// RedisCommands is the subset of the go-redis client the cache uses.
type RedisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisTokenCache shares tokens between processes. Expiry is delegated to redis.
type RedisTokenCache struct {
	rdb    RedisCommands
	prefix string
}

func NewRedisTokenCache(rdb RedisCommands, prefix string) *RedisTokenCache {
	if prefix == "" {
		prefix = "nango:token:"
	}
	return &RedisTokenCache{rdb: rdb, prefix: prefix}
}

func (r *RedisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	token, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error reading token from redis: %w", err)
	}
	return token, true, nil
}

func (r *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.prefix+key, token, ttl).Err(); err != nil {
		return fmt.Errorf("error writing token to redis: %w", err)
	}
	return nil
}

func (r *RedisTokenCache) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("error deleting token from redis: %w", err)
	}
	return nil
}
