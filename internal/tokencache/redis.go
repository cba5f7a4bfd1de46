package tokencache

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultPrefix = "assetintel:token:"

// RedisCache shares session tokens between processes through Redis. Expiry is
// delegated to the server.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *log.Logger
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration, logger *log.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisCache(c, ttl, logger), nil
}

func newRedisCache(c *redis.Client, ttl time.Duration, logger *log.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &RedisCache{client: c, prefix: defaultPrefix, ttl: ttl, logger: logger}
}

func (rc *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	tok, err := rc.client.Get(ctx, rc.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			rc.logger.Printf("Redis get error: %v", err)
		}
		return "", false
	}
	return tok, true
}

func (rc *RedisCache) Set(ctx context.Context, key, token string) {
	rc.SetTTL(ctx, key, token, rc.ttl)
}

// SetTTL stores token with an explicit lifetime instead of the cache TTL.
func (rc *RedisCache) SetTTL(ctx context.Context, key, token string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.client.Set(ctx, rc.prefix+key, token, ttl).Err(); err != nil {
		rc.logger.Printf("Redis set error: %v", err)
	}
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
