package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockStats struct {
	Height int    `json:"height"`
	Hash   string `json:"hash"`
}

func TestRememberCachesSuccessfulResults(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	calls := 0
	load := func(context.Context) (blockStats, error) {
		calls++
		return blockStats{Height: 42, Hash: "0xabc"}, nil
	}

	first, err := Remember(ctx, store, "block:42", time.Minute, load)
	require.NoError(t, err)
	second, err := Remember(ctx, store, "block:42", time.Minute, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	calls := 0
	_, err := Remember(ctx, store, "k", time.Minute, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("upstream down")
	})
	require.Error(t, err)

	v, err := Remember(ctx, store, "k", time.Minute, func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	store.Set(ctx, "pending", []byte("1"), 20*time.Millisecond)

	_, ok := store.Get(ctx, "pending")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = store.Get(ctx, "pending")
	assert.False(t, ok)
}

func TestMemoryStoreConcurrentWriters(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Set(ctx, "shared", []byte{byte(i)}, time.Minute)
			store.Get(ctx, "shared")
		}(i)
	}
	wg.Wait()
	v, ok := store.Get(ctx, "shared")
	require.True(t, ok)
	assert.Len(t, v, 1)
}

func TestRedisStoreDegradesToMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStore(client, "")
	defer store.Close()

	ctx := context.Background()
	store.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)

	v, err := Remember(ctx, Store(store), "k", time.Minute, func(context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}
