package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekeep/coherence/pkg/coherence/config"
)

const sampleYAML = `
batch_window: 150ms
dedupe_ttl: 2m
retry:
  max_retries: 5
  base_delay: 50ms
  backoff_factor: 1.5
edges:
  - source: products
    targets: [sales, reports]
    strategy: invalidate
    weight: 10
  - source: sales
    targets: [dashboard]
    strategy: optimistic
warming:
  - name: hot-products
    triggers: [product.updated]
    keys: ["products", "products:featured"]
    cooldown: 30s
  - name: periodic-reports
    interval: 5m
    keys: ["reports"]
`

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 150*time.Millisecond, cfg.BatchWindow.Std())
	assert.Equal(t, 2*time.Minute, cfg.DedupeTTL.Std())
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, 1.5, cfg.Retry.BackoffFactor)

	require.Len(t, cfg.Edges, 2)
	assert.Equal(t, "products", cfg.Edges[0].Source)
	assert.Equal(t, []string{"sales", "reports"}, cfg.Edges[0].Targets)
	assert.Equal(t, 10, cfg.Edges[0].Weight)

	require.Len(t, cfg.Warming, 2)
	assert.Equal(t, 30*time.Second, cfg.Warming[0].Cooldown.Std())
	assert.Equal(t, 5*time.Minute, cfg.Warming[1].Interval.Std())
}

func TestFromYAML_DefaultsPreserved(t *testing.T) {
	cfg, err := config.FromYAML([]byte("edges: []\n"))
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def.BatchWindow, cfg.BatchWindow)
	assert.Equal(t, def.Retry.MaxRetries, cfg.Retry.MaxRetries)
	assert.Equal(t, def.CleanupInterval, cfg.CleanupInterval)
}

func TestFromYAML_NumericDurationIsSeconds(t *testing.T) {
	cfg, err := config.FromYAML([]byte("batch_window: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.BatchWindow.Std())
}

func TestFromJSON(t *testing.T) {
	data := `{
		"batch_window": "250ms",
		"edges": [
			{"source": "products", "targets": ["sales"], "strategy": "refresh", "weight": 3}
		]
	}`
	cfg, err := config.FromJSON([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.BatchWindow.Std())
	require.Len(t, cfg.Edges, 1)
	assert.Equal(t, "refresh", cfg.Edges[0].Strategy)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "coherence.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

		cfg, err := config.FromFile(path)
		require.NoError(t, err)
		assert.Len(t, cfg.Edges, 2)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "coherence.toml")
		require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

		_, err := config.FromFile(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.FromFile(filepath.Join(dir, "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("unknown strategy", func(t *testing.T) {
		cfg := config.Default()
		cfg.Edges = []config.EdgeConfig{
			{Source: "a", Targets: []string{"b"}, Strategy: "purge"},
		}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown strategy")
	})

	t.Run("edge without targets", func(t *testing.T) {
		cfg := config.Default()
		cfg.Edges = []config.EdgeConfig{
			{Source: "a", Strategy: "invalidate"},
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("warming without keys", func(t *testing.T) {
		cfg := config.Default()
		cfg.Warming = []config.WarmingConfig{
			{Name: "x", Triggers: []string{"t"}},
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("warming needs triggers or interval", func(t *testing.T) {
		cfg := config.Default()
		cfg.Warming = []config.WarmingConfig{
			{Name: "x", Keys: []string{"products"}},
		}
		assert.Error(t, cfg.Validate())
	})
}
