package tokencache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// MemoryCache keeps the token in process memory.
type MemoryCache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

// NewMemoryCache caches tokens from fetcher for at most ttl.
func NewMemoryCache(fetcher Fetcher, ttl time.Duration) *MemoryCache {
	return &MemoryCache{fetcher: fetcher, ttl: ttl, now: time.Now}
}

// Token returns the cached token, fetching a new one on miss or expiry.
// Concurrent misses share a single fetch.
func (c *MemoryCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok, exp := c.token, c.expiresAt
	c.mu.RUnlock()
	if tok != "" && c.now().Before(exp) {
		return tok, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		fresh, err := c.fetcher.Fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = fresh.AccessToken
		c.expiresAt = c.now().Add(effectiveTTL(c.ttl, fresh))
		c.mu.Unlock()
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *MemoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
	return nil
}
