package semcache

import (
	"time"
)

// CacheEntry is a single cached prompt/response pair.
//
// PromptHash is the SHA-256 of the normalized prompt and is the identity of
// the entry across both tiers: writing the same normalized prompt again
// overwrites the previous entry. Embedding holds the prompt vector captured
// at write time; its length is whatever the provider produced, and entries
// whose length differs from a query vector are simply never candidates for
// that query.
type CacheEntry struct {
	ID         string                 `json:"id"`
	Prompt     string                 `json:"prompt"`
	PromptHash string                 `json:"prompt_hash"`
	Embedding  []float32              `json:"embedding,omitempty"`
	Response   string                 `json:"response"`
	Provider   string                 `json:"provider,omitempty"`
	Model      string                 `json:"model,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	ExpiresAt  time.Time              `json:"expires_at"`
	HitCount   int64                  `json:"hit_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Expired reports whether the entry is past its expiry at the given instant.
// An expired entry is logically absent even if a tier has not purged it yet.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// clone returns a shallow copy with its own metadata map, so hit-count
// updates never mutate an entry another goroutine may be reading.
func (e *CacheEntry) clone() *CacheEntry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Match is a successful cache lookup. Similarity is 1.0 on the exact path.
type Match struct {
	Entry      *CacheEntry `json:"entry"`
	Similarity float64     `json:"similarity"`
}

// MatchOptions narrows a similarity lookup.
//
// A zero Threshold uses the configured default; values outside [0, 1] are
// rejected. Provider and Model, when set, restrict candidates to entries
// carrying the same labels.
type MatchOptions struct {
	Threshold float64
	Provider  string
	Model     string
}

// SetOptions labels a write. A non-positive TTL uses the configured default.
type SetOptions struct {
	Provider string
	Model    string
	TTL      time.Duration
	Metadata map[string]interface{}
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	TotalRequests      int64     `json:"total_requests"`
	CacheHits          int64     `json:"cache_hits"`
	CacheMisses        int64     `json:"cache_misses"`
	HitRate            float64   `json:"hit_rate"`
	TotalEntries       int       `json:"total_entries"`
	TokensSaved        int64     `json:"tokens_saved"`
	EstimatedCostSaved float64   `json:"estimated_cost_saved"`
	Timestamp          time.Time `json:"timestamp"`
}

// Config holds cache-wide settings. Zero values fall back to the defaults
// from DefaultConfig; out-of-range values fail construction.
type Config struct {
	// EmbeddingModel and EmbeddingDimensions describe the vectors this cache
	// expects. Dimensions is advisory: entries with other lengths are stored
	// but never matched against queries of a different length.
	EmbeddingModel      string
	EmbeddingDimensions int

	// DefaultThreshold is the inclusive cosine-similarity floor applied when
	// a lookup does not specify one.
	DefaultThreshold float64

	// DefaultTTL bounds entry lifetime when a write does not specify one.
	DefaultTTL time.Duration

	// Prefix namespaces every durable-store key.
	Prefix string

	// MaxLocalEntries bounds the in-memory mirror (LRU eviction beyond it).
	MaxLocalEntries int

	// CostPerToken converts saved tokens into the estimated-cost-saved stat.
	CostPerToken float64

	// StoreTimeout caps each durable-store call; EmbedTimeout caps each
	// embedding call. Exceeding StoreTimeout counts as store unavailability.
	StoreTimeout time.Duration
	EmbedTimeout time.Duration

	// RecoveryCheckPeriod is how often a degraded cache probes the durable
	// store for recovery.
	RecoveryCheckPeriod time.Duration

	EnableMetrics bool
}

// DefaultConfig returns the standard production configuration.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		DefaultThreshold:    0.95,
		DefaultTTL:          24 * time.Hour,
		Prefix:              "semcache",
		MaxLocalEntries:     10000,
		CostPerToken:        0.00002,
		StoreTimeout:        5 * time.Second,
		EmbedTimeout:        10 * time.Second,
		RecoveryCheckPeriod: 5 * time.Second,
		EnableMetrics:       true,
	}
}

// applyDefaults fills zero-valued fields and validates the rest.
func (c *Config) applyDefaults() error {
	def := DefaultConfig()

	if c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return ErrInvalidThreshold
	}
	if c.DefaultThreshold == 0 {
		c.DefaultThreshold = def.DefaultThreshold
	}
	if c.DefaultTTL < 0 {
		return ErrInvalidConfig
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = def.DefaultTTL
	}
	if c.EmbeddingDimensions < 0 || c.MaxLocalEntries < 0 || c.CostPerToken < 0 {
		return ErrInvalidConfig
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = def.EmbeddingModel
	}
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	if c.MaxLocalEntries == 0 {
		c.MaxLocalEntries = def.MaxLocalEntries
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = def.StoreTimeout
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = def.EmbedTimeout
	}
	if c.RecoveryCheckPeriod <= 0 {
		c.RecoveryCheckPeriod = def.RecoveryCheckPeriod
	}
	return nil
}
