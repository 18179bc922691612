package tokencache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const defaultRedisKey = "llamador:partner_token"

// RedisCache stores the token in Redis with the TTL as key expiry.
type RedisCache struct {
	client  *redis.Client
	key     string
	fetcher Fetcher
	ttl     time.Duration
	group   singleflight.Group
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, fetcher Fetcher, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, fetcher, ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client, fetcher Fetcher, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:  client,
		key:     defaultRedisKey,
		fetcher: fetcher,
		ttl:     ttl,
	}
}

// Token returns the stored token or fetches and stores a new one.
func (c *RedisCache) Token(ctx context.Context) (string, error) {
	tok, err := c.client.Get(ctx, c.key).Result()
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("read cached token: %w", err)
	}

	v, err, _ := c.group.Do(c.key, func() (interface{}, error) {
		fresh, err := c.fetcher.Fetch(ctx)
		if err != nil {
			return "", err
		}
		if err := c.client.Set(ctx, c.key, fresh.AccessToken, effectiveTTL(c.ttl, fresh)).Err(); err != nil {
			return "", fmt.Errorf("store token: %w", err)
		}
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
