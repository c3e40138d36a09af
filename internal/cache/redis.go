package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"WChain-Bubbles/pkg/logger"
)

// RedisConfig describes the Redis connection backing a shared cache.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisStore shares cache entries between service instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// DialRedis connects to Redis and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStore(client, cfg.Prefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "bubbles:cache:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get returns a cached value. Redis failures are logged and reported as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Named("cache").Warn("redis get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

// Set stores value with an expiry. Failures are logged and dropped.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		logger.Named("cache").Warn("redis set failed", "key", key, "error", err)
	}
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
