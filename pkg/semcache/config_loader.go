package semcache

import (
	"time"

	"github.com/spf13/viper"
)

// LoadConfigFromViper builds a Config from viper keys under
// cache.semantic.*, falling back to defaults for anything unset:
//
//	cache.semantic.prefix
//	cache.semantic.threshold
//	cache.semantic.ttl
//	cache.semantic.max_local_entries
//	cache.semantic.cost_per_token
//	cache.semantic.store_timeout
//	cache.semantic.embed_timeout
//	cache.semantic.recovery_check_period
//	cache.semantic.metrics_enabled
//	cache.semantic.embedding.model
//	cache.semantic.embedding.dimensions
//
// The returned config is not yet validated; New validates it.
func LoadConfigFromViper(v *viper.Viper) *Config {
	cfg := DefaultConfig()
	if v == nil {
		return cfg
	}

	setString(v, "cache.semantic.prefix", &cfg.Prefix)
	setString(v, "cache.semantic.embedding.model", &cfg.EmbeddingModel)
	setInt(v, "cache.semantic.embedding.dimensions", &cfg.EmbeddingDimensions)
	setInt(v, "cache.semantic.max_local_entries", &cfg.MaxLocalEntries)
	setFloat(v, "cache.semantic.threshold", &cfg.DefaultThreshold)
	setFloat(v, "cache.semantic.cost_per_token", &cfg.CostPerToken)
	setDuration(v, "cache.semantic.ttl", &cfg.DefaultTTL)
	setDuration(v, "cache.semantic.store_timeout", &cfg.StoreTimeout)
	setDuration(v, "cache.semantic.embed_timeout", &cfg.EmbedTimeout)
	setDuration(v, "cache.semantic.recovery_check_period", &cfg.RecoveryCheckPeriod)

	if v.IsSet("cache.semantic.metrics_enabled") {
		cfg.EnableMetrics = v.GetBool("cache.semantic.metrics_enabled")
	}

	return cfg
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setFloat(v *viper.Viper, key string, dst *float64) {
	if v.IsSet(key) {
		*dst = v.GetFloat64(key)
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}
