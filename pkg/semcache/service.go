package semcache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/semcache/pkg/embedding"
	"github.com/developer-mesh/semcache/pkg/observability"
)

// Cache is the semantic cache service. It coordinates the durable store,
// the in-memory mirror, the embedding provider, and the stats collector.
//
// Failure discipline: infrastructure problems (store down, embedding
// provider down, malformed stored data) degrade to misses or volatile-only
// operation and are logged, never returned. The only errors callers see are
// configuration mistakes (ErrInvalidThreshold, ErrInvalidConfig) and use
// after Close.
//
// While the durable store is unreachable the cache runs in degraded mode:
// reads and writes go to the in-memory mirror only, and a background probe
// restores durable operation once the store answers pings again. The
// transition in either direction is logged once, not per request.
type Cache struct {
	config     *Config
	provider   embedding.Provider
	durable    DurableStore
	volatile   *MemoryCache
	normalizer PromptNormalizer
	stats      *StatsCollector
	logger     observability.Logger
	metrics    observability.MetricsClient

	degraded atomic.Bool
	closed   atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

// New creates a cache from its collaborators. The provider and store are
// required; nil logger and metrics fall back to package defaults. The
// config is validated here so misconfiguration fails construction instead
// of silently skewing every lookup.
func New(provider embedding.Provider, store DurableStore, config *Config, logger observability.Logger, metrics observability.MetricsClient) (*Cache, error) {
	if provider == nil {
		return nil, ErrInvalidConfig
	}
	if store == nil {
		return nil, ErrInvalidConfig
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewLogger("semcache")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if !config.EnableMetrics {
		metrics = observability.NewNoOpMetricsClient()
	}

	volatile, err := NewMemoryCache(config.MaxLocalEntries, logger)
	if err != nil {
		return nil, err
	}

	return &Cache{
		config:     config,
		provider:   provider,
		durable:    store,
		volatile:   volatile,
		normalizer: NewDefaultNormalizer(),
		stats:      NewStatsCollector(config.CostPerToken, metrics),
		logger:     logger,
		metrics:    metrics,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}, nil
}

// SetNormalizer replaces the prompt normalizer. Must be called before the
// cache serves traffic; entries written under a different normalization are
// unreachable on the exact path.
func (c *Cache) SetNormalizer(n PromptNormalizer) {
	if n != nil {
		c.normalizer = n
	}
}

// setClock overrides the time source for tests, in both tiers.
func (c *Cache) setClock(now func() time.Time) {
	c.now = now
	c.volatile.now = now
}

// Open probes the durable store and starts the degraded-mode recovery
// loop. An unreachable store is not an error; the cache starts degraded
// and recovers on its own.
func (c *Cache) Open(ctx context.Context) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}

	if err := c.durable.Ping(ctx); err != nil {
		c.enterDegradedMode(err)
	}

	c.wg.Add(1)
	go c.recoveryLoop()

	c.logger.Info("Semantic cache opened", map[string]interface{}{
		"prefix":    c.config.Prefix,
		"threshold": c.config.DefaultThreshold,
		"degraded":  c.degraded.Load(),
	})
	return nil
}

// Close stops background work and releases the durable store. Further
// operations return ErrCacheClosed or their fail-soft zero value.
func (c *Cache) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.durable.Close()
}

// GetExact looks up a response by the hash of the normalized prompt. No
// embedding call is made. A miss returns (nil, nil).
func (c *Cache) GetExact(ctx context.Context, prompt string) (*Match, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}
	ctx, span := observability.StartSpan(ctx, "semcache.get_exact")
	defer span.End()

	c.stats.RecordRequest()

	normalized := c.normalizer.Normalize(prompt)
	if normalized == "" {
		c.stats.RecordMiss("empty_prompt")
		return nil, nil
	}

	entry := c.lookupExact(ctx, HashPrompt(normalized))
	if entry == nil {
		span.SetAttribute("cache.hit", false)
		c.stats.RecordMiss("no_exact_match")
		return nil, nil
	}

	updated := c.touch(ctx, entry)
	span.SetAttribute("cache.hit", true)
	c.stats.RecordHit("exact", len(updated.Response))
	return &Match{Entry: updated, Similarity: 1.0}, nil
}

// GetSimilar looks up a response by meaning: exact match first, then the
// best cosine-similarity match at or above the threshold among live entries
// with the same embedding length. A miss returns (nil, nil); the only error
// is an out-of-range threshold.
func (c *Cache) GetSimilar(ctx context.Context, prompt string, opts *MatchOptions) (*Match, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}

	threshold := c.config.DefaultThreshold
	if opts != nil && opts.Threshold != 0 {
		if opts.Threshold < 0 || opts.Threshold > 1 {
			return nil, ErrInvalidThreshold
		}
		threshold = opts.Threshold
	}

	ctx, span := observability.StartSpan(ctx, "semcache.get_similar")
	defer span.End()

	c.stats.RecordRequest()

	normalized := c.normalizer.Normalize(prompt)
	if normalized == "" {
		c.stats.RecordMiss("empty_prompt")
		return nil, nil
	}

	// Exact path first: no embedding call when the same normalized prompt
	// was cached before.
	if entry := c.lookupExact(ctx, HashPrompt(normalized)); entry != nil {
		updated := c.touch(ctx, entry)
		span.SetAttribute("cache.hit", true)
		span.SetAttribute("cache.hit_type", "exact")
		c.stats.RecordHit("exact", len(updated.Response))
		return &Match{Entry: updated, Similarity: 1.0}, nil
	}

	vector, err := c.embed(ctx, normalized)
	if err != nil {
		c.logger.Warn("Embedding failed, treating lookup as miss", map[string]interface{}{
			"error": err.Error(),
		})
		span.RecordError(err)
		c.stats.RecordMiss("embedding_error")
		return nil, nil
	}

	match := bestMatch(c.liveCandidates(ctx), vector, threshold, opts, c.now())
	if match == nil {
		span.SetAttribute("cache.hit", false)
		c.stats.RecordMiss("below_threshold")
		return nil, nil
	}

	updated := c.touch(ctx, match.Entry)
	span.SetAttribute("cache.hit", true)
	span.SetAttribute("cache.hit_type", "similarity")
	span.SetAttribute("cache.similarity", match.Similarity)
	c.stats.RecordHit("similarity", len(updated.Response))
	return &Match{Entry: updated, Similarity: match.Similarity}, nil
}

// Set stores a response under the prompt's hash, replacing any previous
// entry for the same normalized prompt. It reports whether the entry was
// stored in at least one tier; a durable-store outage alone does not make
// it false, a failed embedding call does.
func (c *Cache) Set(ctx context.Context, prompt, response string, opts *SetOptions) bool {
	if c.closed.Load() {
		return false
	}
	ctx, span := observability.StartSpan(ctx, "semcache.set")
	defer span.End()

	normalized := c.normalizer.Normalize(prompt)
	if normalized == "" {
		return false
	}

	ttl := c.config.DefaultTTL
	if opts != nil && opts.TTL > 0 {
		ttl = opts.TTL
	}

	vector, err := c.embed(ctx, normalized)
	if err != nil {
		c.logger.Warn("Embedding failed, entry not cached", map[string]interface{}{
			"error": err.Error(),
		})
		span.RecordError(err)
		c.metrics.IncrementCounterWithLabels("cache.set_failures", 1, map[string]string{
			"reason": "embedding_error",
		})
		return false
	}

	now := c.now()
	entry := &CacheEntry{
		ID:         uuid.NewString(),
		Prompt:     prompt,
		PromptHash: HashPrompt(normalized),
		Embedding:  vector,
		Response:   response,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if opts != nil {
		entry.Provider = opts.Provider
		entry.Model = opts.Model
		if opts.Metadata != nil {
			entry.Metadata = make(map[string]interface{}, len(opts.Metadata))
			for k, v := range opts.Metadata {
				entry.Metadata[k] = v
			}
		}
	}

	c.volatile.Put(entry)
	if !c.degraded.Load() {
		if err := c.durable.Put(ctx, entry, ttl); err != nil {
			c.enterDegradedMode(err)
		}
	}

	c.metrics.IncrementCounter("cache.sets", 1)
	return true
}

// Invalidate removes the entry for a prompt from both tiers, reporting
// whether a live entry existed in either.
func (c *Cache) Invalidate(ctx context.Context, prompt string) bool {
	if c.closed.Load() {
		return false
	}
	ctx, span := observability.StartSpan(ctx, "semcache.invalidate")
	defer span.End()

	normalized := c.normalizer.Normalize(prompt)
	if normalized == "" {
		return false
	}
	return c.deleteHash(ctx, HashPrompt(normalized))
}

// InvalidateByPattern removes every live entry whose original prompt
// contains the pattern, case-insensitively, and returns how many were
// removed. An empty pattern removes nothing; use Clear to drop everything.
func (c *Cache) InvalidateByPattern(ctx context.Context, pattern string) int {
	if c.closed.Load() || pattern == "" {
		return 0
	}
	ctx, span := observability.StartSpan(ctx, "semcache.invalidate_by_pattern")
	defer span.End()

	needle := strings.ToLower(pattern)
	now := c.now()

	// Union of both tiers by hash, so entries written during an outage are
	// found even after durable recovery.
	matched := make(map[string]struct{})
	for _, entry := range c.liveCandidates(ctx) {
		if !entry.Expired(now) && strings.Contains(strings.ToLower(entry.Prompt), needle) {
			matched[entry.PromptHash] = struct{}{}
		}
	}
	for _, entry := range c.volatile.ListLive() {
		if strings.Contains(strings.ToLower(entry.Prompt), needle) {
			matched[entry.PromptHash] = struct{}{}
		}
	}

	removed := 0
	for hash := range matched {
		if c.deleteHash(ctx, hash) {
			removed++
		}
	}

	span.SetAttribute("cache.removed", removed)
	return removed
}

// Clear removes every entry from both tiers, resets the statistics, and
// returns how many entries were removed.
func (c *Cache) Clear(ctx context.Context) int {
	if c.closed.Load() {
		return 0
	}
	ctx, span := observability.StartSpan(ctx, "semcache.clear")
	defer span.End()

	removed := 0
	durableOK := false
	if !c.degraded.Load() {
		n, err := c.durable.Clear(ctx)
		if err != nil {
			c.enterDegradedMode(err)
		} else {
			removed = n
			durableOK = true
		}
	}

	volatileRemoved := c.volatile.Clear()
	if !durableOK {
		removed = volatileRemoved
	}

	c.stats.Reset()
	c.logger.Info("Semantic cache cleared", map[string]interface{}{
		"removed": removed,
	})
	return removed
}

// Stats returns a snapshot of the cache counters plus the current
// live-entry count from whichever tier is authoritative.
func (c *Cache) Stats(ctx context.Context) *CacheStats {
	total := 0
	counted := false
	if !c.degraded.Load() {
		n, err := c.durable.CountLive(ctx)
		if err != nil {
			c.enterDegradedMode(err)
		} else {
			total = n
			counted = true
		}
	}
	if !counted {
		total = c.volatile.Len()
	}
	return c.stats.Snapshot(total)
}

// Degraded reports whether the cache is currently running without its
// durable store.
func (c *Cache) Degraded() bool {
	return c.degraded.Load()
}

// PurgeExpired removes expired entries from the in-memory mirror and
// returns how many it removed. The durable store reclaims its own keys via
// TTL.
func (c *Cache) PurgeExpired() int {
	return c.volatile.PurgeExpired()
}

// lookupExact resolves a prompt hash against the durable store, falling
// back to the mirror only while degraded. A reachable durable store is
// authoritative: on a durable miss any stale mirror entry is dropped so it
// cannot resurrect data another instance invalidated.
func (c *Cache) lookupExact(ctx context.Context, promptHash string) *CacheEntry {
	if !c.degraded.Load() {
		entry, err := c.durable.GetExact(ctx, promptHash)
		if err != nil {
			c.enterDegradedMode(err)
		} else {
			if entry != nil && !entry.Expired(c.now()) {
				return entry
			}
			c.volatile.Delete(promptHash)
			return nil
		}
	}

	if entry, ok := c.volatile.Get(promptHash); ok {
		return entry
	}
	return nil
}

// touch counts a hit on an entry: a copy with the incremented count goes to
// the mirror and, best-effort, back to the durable store under its
// remaining TTL.
func (c *Cache) touch(ctx context.Context, entry *CacheEntry) *CacheEntry {
	updated := entry.clone()
	updated.HitCount++

	c.volatile.Put(updated)
	if !c.degraded.Load() {
		if ttl := updated.ExpiresAt.Sub(c.now()); ttl > 0 {
			if err := c.durable.Put(ctx, updated, ttl); err != nil {
				c.enterDegradedMode(err)
			}
		}
	}
	return updated
}

// liveCandidates returns the similarity-scan candidate set: the durable
// store while reachable, the mirror while degraded.
func (c *Cache) liveCandidates(ctx context.Context) []*CacheEntry {
	if !c.degraded.Load() {
		entries, err := c.durable.ListLive(ctx)
		if err != nil {
			c.enterDegradedMode(err)
		} else {
			return entries
		}
	}
	return c.volatile.ListLive()
}

func (c *Cache) deleteHash(ctx context.Context, promptHash string) bool {
	found := false
	if !c.degraded.Load() {
		ok, err := c.durable.Delete(ctx, promptHash)
		if err != nil {
			c.enterDegradedMode(err)
		} else if ok {
			found = true
		}
	}
	if c.volatile.Delete(promptHash) {
		found = true
	}
	return found
}

func (c *Cache) embed(ctx context.Context, normalized string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.EmbedTimeout)
	defer cancel()
	return c.provider.GenerateEmbedding(ctx, normalized)
}

func (c *Cache) enterDegradedMode(cause error) {
	if !c.degraded.CompareAndSwap(false, true) {
		return
	}
	c.logger.Warn("Durable store unavailable, entering degraded mode", map[string]interface{}{
		"error": cause.Error(),
	})
	c.metrics.IncrementCounterWithLabels("cache.degraded_mode", 1, map[string]string{
		"transition": "entered",
	})
}

func (c *Cache) exitDegradedMode() {
	if !c.degraded.CompareAndSwap(true, false) {
		return
	}
	c.logger.Info("Durable store recovered, leaving degraded mode", nil)
	c.metrics.IncrementCounterWithLabels("cache.degraded_mode", 1, map[string]string{
		"transition": "exited",
	})
}

// recoveryLoop probes the durable store while degraded and flips back to
// normal operation on the first successful ping.
func (c *Cache) recoveryLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.RecoveryCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if !c.degraded.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.config.StoreTimeout)
			err := c.durable.Ping(ctx)
			cancel()
			if err == nil {
				c.exitDegradedMode()
			}
		}
	}
}
