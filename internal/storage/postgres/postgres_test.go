package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WChain-Bubbles/internal/classify"
	"WChain-Bubbles/internal/storage"
)

// setupTestDB connects to the database named by BUBBLES_TEST_POSTGRES_DSN and
// applies migrations. Tests are skipped when it is unset.
func setupTestDB(t *testing.T) *Pool {
	t.Helper()

	dsn := os.Getenv("BUBBLES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BUBBLES_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, Config{DSN: dsn})
	require.NoError(t, err, "failed to create pool")
	require.NoError(t, RunMigrations(ctx, pool), "failed to run migrations")

	_, err = pool.Exec(ctx, `TRUNCATE wallet_cache, knowledge_base`)
	require.NoError(t, err)

	t.Cleanup(pool.Close)
	return pool
}

func TestWalletCacheRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	cache := NewWalletCache(pool)

	c := classify.New(classify.Overrides{})
	whale := c.Record("0xAAA", decimal.RequireFromString("1000001"), 4)
	shrimp := c.Record("0xbbb", decimal.RequireFromString("0.5"), 1)
	require.NoError(t, cache.Upsert(ctx, []classify.WalletRecord{shrimp, whale}))

	rows, err := cache.ListWallets(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0xaaa", rows[0].Address)
	assert.True(t, rows[0].Balance.Equal(decimal.RequireFromString("1000001")))
	assert.Equal(t, classify.Whale, rows[0].Category)
	assert.Equal(t, classify.Shrimp, rows[1].Category)
}

func TestKnowledgeStoreOrdering(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewKnowledgeStore(pool)

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, e := range []storage.KnowledgeEntry{
		{Category: "faq", Title: "low", Content: "x", Priority: 1, IsActive: true, UpdatedAt: now},
		{Category: "faq", Title: "hidden", Content: "x", Priority: 50, IsActive: false, UpdatedAt: now},
		{Category: "tiers", Title: "high-old", Content: "x", Priority: 10, IsActive: true, UpdatedAt: now.Add(-time.Hour)},
		{Category: "tiers", Title: "high-new", Content: "x", Priority: 10, IsActive: true, UpdatedAt: now},
	} {
		_, err := store.Insert(ctx, e)
		require.NoError(t, err)
	}

	entries, err := store.ListActive(ctx)
	require.NoError(t, err)
	titles := make([]string, 0, len(entries))
	for _, e := range entries {
		titles = append(titles, e.Title)
	}
	assert.Equal(t, []string{"high-new", "high-old", "low"}, titles)
}
