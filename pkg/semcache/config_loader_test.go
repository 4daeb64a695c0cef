package semcache

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFromViper_Defaults(t *testing.T) {
	cfg := LoadConfigFromViper(viper.New())
	assert.Equal(t, DefaultConfig(), cfg)

	assert.Equal(t, DefaultConfig(), LoadConfigFromViper(nil))
}

func TestLoadConfigFromViper_Overrides(t *testing.T) {
	v := viper.New()
	v.Set("cache.semantic.prefix", "myapp")
	v.Set("cache.semantic.threshold", 0.9)
	v.Set("cache.semantic.ttl", "2h")
	v.Set("cache.semantic.max_local_entries", 500)
	v.Set("cache.semantic.cost_per_token", 0.0001)
	v.Set("cache.semantic.store_timeout", "1s")
	v.Set("cache.semantic.embed_timeout", "3s")
	v.Set("cache.semantic.recovery_check_period", "10s")
	v.Set("cache.semantic.metrics_enabled", false)
	v.Set("cache.semantic.embedding.model", "text-embedding-3-large")
	v.Set("cache.semantic.embedding.dimensions", 3072)

	cfg := LoadConfigFromViper(v)
	assert.Equal(t, "myapp", cfg.Prefix)
	assert.Equal(t, 0.9, cfg.DefaultThreshold)
	assert.Equal(t, 2*time.Hour, cfg.DefaultTTL)
	assert.Equal(t, 500, cfg.MaxLocalEntries)
	assert.Equal(t, 0.0001, cfg.CostPerToken)
	assert.Equal(t, time.Second, cfg.StoreTimeout)
	assert.Equal(t, 3*time.Second, cfg.EmbedTimeout)
	assert.Equal(t, 10*time.Second, cfg.RecoveryCheckPeriod)
	assert.False(t, cfg.EnableMetrics)
	assert.Equal(t, "text-embedding-3-large", cfg.EmbeddingModel)
	assert.Equal(t, 3072, cfg.EmbeddingDimensions)
}

func TestLoadConfigFromViper_PartialOverrides(t *testing.T) {
	v := viper.New()
	v.Set("cache.semantic.threshold", 0.85)

	cfg := LoadConfigFromViper(v)
	assert.Equal(t, 0.85, cfg.DefaultThreshold)
	assert.Equal(t, DefaultConfig().Prefix, cfg.Prefix)
	assert.Equal(t, DefaultConfig().DefaultTTL, cfg.DefaultTTL)
	assert.True(t, cfg.EnableMetrics)
}
