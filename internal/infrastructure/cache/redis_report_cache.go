package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appledger "github.com/erp/stockledger/internal/application/ledger"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

const reportKeyPrefix = "stockledger:"

// RedisReportCache implements the report read-cache on Redis. Entries are
// JSON with a short TTL; writers invalidate eagerly and the TTL catches
// anything they miss.
type RedisReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReportCache creates a report cache from Redis configuration
func NewRedisReportCache(cfg config.RedisConfig, ttl time.Duration) (*RedisReportCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisReportCacheWithClient(client, ttl), nil
}

// NewRedisReportCacheWithClient creates a report cache on an existing client
func NewRedisReportCacheWithClient(client *redis.Client, ttl time.Duration) *RedisReportCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisReportCache{client: client, ttl: ttl}
}

// Get unmarshals the cached value into v, reporting whether it was present
func (c *RedisReportCache) Get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := c.client.Get(ctx, reportKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores v under key with the cache's TTL
func (c *RedisReportCache) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, reportKeyPrefix+key, raw, c.ttl).Err()
}

// Invalidate drops the given keys
func (c *RedisReportCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, reportKeyPrefix+key)
	}
	return c.client.Del(ctx, prefixed...).Err()
}

// Close closes the Redis client
func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

// Ensure RedisReportCache implements ReportCache
var _ appledger.ReportCache = (*RedisReportCache)(nil)
