package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/storekeep/coherence/pkg/coherence/cache"
)

func TestKeyNotation(t *testing.T) {
	t.Run("category key", func(t *testing.T) {
		key := cache.CategoryKey("sales")
		assert.Equal(t, "sales", key.String())
		assert.True(t, key.IsCategory())
	})

	t.Run("entity key", func(t *testing.T) {
		key := cache.EntityKey("sales", "s-1")
		assert.Equal(t, "sales:s-1", key.String())
		assert.False(t, key.IsCategory())
	})

	t.Run("parse round trip", func(t *testing.T) {
		assert.Equal(t, cache.CategoryKey("sales"), cache.ParseKey("sales"))
		assert.Equal(t, cache.EntityKey("sales", "s-1"), cache.ParseKey("sales:s-1"))
	})
}
