package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekeep/coherence/pkg/coherence/cache"
)

func newRistrettoStore(t *testing.T) *cache.RistrettoStore {
	t.Helper()
	store, err := cache.NewRistrettoStore(cache.DefaultRistrettoConfig)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func TestRistrettoStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store := newRistrettoStore(t)

	key := cache.EntityKey("products", "p-1")

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, key, "mug"))

	value, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mug", value)
}

func TestRistrettoStore_InvalidateCategory(t *testing.T) {
	ctx := context.Background()
	store := newRistrettoStore(t)

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
}

func TestRistrettoStore_Refetch(t *testing.T) {
	ctx := context.Background()
	store := newRistrettoStore(t)

	store.RegisterFetcher("sales", func(ctx context.Context, key cache.Key) (any, error) {
		return []any{"fresh"}, nil
	})

	value, err := store.Refetch(ctx, cache.CategoryKey("sales"))
	require.NoError(t, err)
	assert.Equal(t, []any{"fresh"}, value)

	cached, ok, _ := store.Get(ctx, cache.CategoryKey("sales"))
	require.True(t, ok)
	assert.Equal(t, []any{"fresh"}, cached)
}

func TestRistrettoStore_InvalidConfig(t *testing.T) {
	_, err := cache.NewRistrettoStore(cache.RistrettoConfig{})
	assert.Error(t, err)
}
