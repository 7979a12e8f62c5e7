package cache_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekeep/coherence/pkg/coherence/cache"
)

func newSQLiteStore(t *testing.T) *cache.SQLiteStore {
	t.Helper()
	store, err := cache.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	key := cache.EntityKey("products", "p-1")
	require.NoError(t, store.Set(ctx, key, map[string]any{"name": "mug", "price": 12.5}))

	value, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	// JSON round trip yields map[string]any
	m, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mug", m["name"])
	assert.Equal(t, 12.5, m["price"])
}

func TestSQLiteStore_InvalidateCategory(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	require.NoError(t, store.Set(ctx, cache.EntityKey("sales", "s-1"), "a"))
	require.NoError(t, store.Set(ctx, cache.EntityKey("sales", "s-2"), "b"))
	require.NoError(t, store.Set(ctx, cache.EntityKey("products", "p-1"), "keep"))

	require.NoError(t, store.Invalidate(ctx, cache.CategoryKey("sales")))

	_, ok, _ := store.Get(ctx, cache.EntityKey("sales", "s-1"))
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, cache.EntityKey("sales", "s-2"))
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, cache.EntityKey("products", "p-1"))
	assert.True(t, ok)

	// Set clears the stale mark
	require.NoError(t, store.Set(ctx, cache.EntityKey("sales", "s-1"), "a2"))
	value, ok, _ := store.Get(ctx, cache.EntityKey("sales", "s-1"))
	require.True(t, ok)
	assert.Equal(t, "a2", value)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := cache.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, cache.EntityKey("products", "p-1"), "persisted"))
	require.NoError(t, store.Close(ctx))

	reopened, err := cache.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close(ctx)

	value, ok, err := reopened.Get(ctx, cache.EntityKey("products", "p-1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", value)
}

func TestSQLiteStore_Refetch(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	_, err := store.Refetch(ctx, cache.CategoryKey("sales"))
	assert.ErrorIs(t, err, cache.ErrNoFetcher)

	store.RegisterFetcher("sales", func(ctx context.Context, key cache.Key) (any, error) {
		return []any{"fresh"}, nil
	})

	value, err := store.Refetch(ctx, cache.CategoryKey("sales"))
	require.NoError(t, err)
	assert.Equal(t, []any{"fresh"}, value)
}

func TestSQLiteStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	require.NoError(t, store.Set(ctx, cache.EntityKey("sales", "s-1"), "a"))
	require.NoError(t, store.Set(ctx, cache.EntityKey("sales", "s-2"), "b"))
	store.Get(ctx, cache.EntityKey("sales", "s-1"))

	stats := store.Stats()
	require.Contains(t, stats, "sales")
	assert.Equal(t, 2, stats["sales"].Entries)
	assert.Equal(t, int64(1), stats["sales"].Hits)
}

func TestSQLiteStore_Closed(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)

	require.NoError(t, store.Close(ctx))
	require.NoError(t, store.Close(ctx))

	err = store.Set(ctx, cache.CategoryKey("sales"), "v")
	assert.ErrorIs(t, err, cache.ErrStoreClosed)
}
