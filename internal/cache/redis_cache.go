package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/friendlychat/internal/domain"
)

type RedisWindowCache struct {
	client *redis.Client
	prefix string
}

// NewRedisWindowCache creates a cache on a shared client. The caller owns
// the client.
func NewRedisWindowCache(client *redis.Client, prefix string) *RedisWindowCache {
	return &RedisWindowCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisWindowCache) genKey() string {
	return c.prefix + ":gen"
}

func (c *RedisWindowCache) windowKey(gen int64) string {
	return fmt.Sprintf("%s:window:%d", c.prefix, gen)
}

func (c *RedisWindowCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get generation from redis: %w", err)
	}
	return gen, nil
}

func (c *RedisWindowCache) Get(ctx context.Context, gen int64) ([]domain.Message, error) {
	data, err := c.client.Get(ctx, c.windowKey(gen)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return msgs, nil
}

func (c *RedisWindowCache) Set(ctx context.Context, gen int64, msgs []domain.Message, ttl time.Duration) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, c.windowKey(gen), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	return nil
}

func (c *RedisWindowCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.genKey()).Err(); err != nil {
		return fmt.Errorf("failed to bump generation in redis: %w", err)
	}
	return nil
}

// Close is a no-op; the client is shared with the change bus.
func (c *RedisWindowCache) Close() error {
	return nil
}
