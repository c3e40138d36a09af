// Package cache holds the TTL caches shared by tool handlers. Entries are
// advisory: a failed read is a miss and concurrent writers resolve as
// last-write-wins.
package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"WChain-Bubbles/pkg/logger"
)

// Store is a keyed byte cache with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	items *gocache.Cache
}

// NewMemoryStore creates an in-process store. cleanup controls how often
// expired entries are purged; expired entries are never returned regardless.
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &MemoryStore{items: gocache.New(gocache.NoExpiration, cleanup)}
}

// Get returns a cached value.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Set stores value for ttl.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.items.Set(key, value, ttl)
}

// Len reports the number of unexpired entries.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}

// Remember returns the cached value for key, or calls fn and caches its
// result for ttl. Errors from fn are returned and never cached.
func Remember[T any](ctx context.Context, store Store, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if store != nil {
		if raw, ok := store.Get(ctx, key); ok {
			var cached T
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
			logger.Named("cache").Warn("discarding undecodable entry", "key", key)
		}
	}

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}
	if store != nil {
		if raw, err := json.Marshal(value); err == nil {
			store.Set(ctx, key, raw, ttl)
		}
	}
	return value, nil
}
