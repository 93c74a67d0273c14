package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

type cacheEntry struct {
	value   string
	expires time.Time
}

func (e cacheEntry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// MemoryCache is the single-process stand-in for RedisAdapter, used with
// the memory storage driver.
type MemoryCache struct {
	mu             sync.Mutex
	entries        map[string]cacheEntry
	idempotencyTTL time.Duration
	tokenTTL       time.Duration
	now            func() time.Time
}

// NewMemoryCache builds a cache whose entries never expire; use WithTTL to
// match the Redis adapter's expiry.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) WithTTL(idempotencyTTL, tokenTTL time.Duration) *MemoryCache {
	c.idempotencyTTL = idempotencyTTL
	c.tokenTTL = tokenTTL
	return c
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := idempotencyKeyPrefix + key
	if e, ok := c.entries[k]; ok && e.live(c.now()) {
		return false, nil
	}
	c.entries[k] = cacheEntry{value: "1", expires: c.expiry(c.idempotencyTTL)}
	return true, nil
}

func (c *MemoryCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, idempotencyKeyPrefix+key)
	return nil
}

func (c *MemoryCache) AccountIDForToken(ctx context.Context, token string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[tokenKey(token)]
	if !ok || !e.live(c.now()) {
		return "", nil
	}
	return e.value, nil
}

func (c *MemoryCache) CacheToken(ctx context.Context, token, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tokenKey(token)] = cacheEntry{value: accountID, expires: c.expiry(c.tokenTTL)}
	return nil
}

func (c *MemoryCache) SwapToken(ctx context.Context, oldToken, newToken, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if oldToken != "" && domain.NormalizeToken(oldToken) != domain.NormalizeToken(newToken) {
		delete(c.entries, tokenKey(oldToken))
	}
	c.entries[tokenKey(newToken)] = cacheEntry{value: accountID, expires: c.expiry(c.tokenTTL)}
	return nil
}
