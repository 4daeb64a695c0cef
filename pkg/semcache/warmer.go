package semcache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/developer-mesh/semcache/pkg/observability"
)

// WarmupEntry is one prompt/response pair to preload into the cache.
type WarmupEntry struct {
	Prompt   string
	Response string
	Provider string
	Model    string
}

// Warmer preloads the cache from a known-good set of prompt/response pairs,
// typically at deploy time so the first users hit a warm cache. Embedding
// calls run with bounded concurrency; individual failures are skipped, not
// fatal.
type Warmer struct {
	cache       *Cache
	concurrency int
	logger      observability.Logger
}

// NewWarmer creates a warmer. Concurrency below 1 is clamped to 1.
func NewWarmer(cache *Cache, concurrency int, logger observability.Logger) *Warmer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = observability.NewLogger("semcache.warmer")
	}
	return &Warmer{
		cache:       cache,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Warm stores each entry and returns how many were stored. It stops early
// when ctx is cancelled.
func (w *Warmer) Warm(ctx context.Context, entries []WarmupEntry) int {
	var stored atomic.Int64
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(e WarmupEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := w.cache.Set(ctx, e.Prompt, e.Response, &SetOptions{
				Provider: e.Provider,
				Model:    e.Model,
			})
			if ok {
				stored.Add(1)
			}
		}(entry)
	}
	wg.Wait()

	w.logger.Info("Cache warmup finished", map[string]interface{}{
		"requested": len(entries),
		"stored":    stored.Load(),
	})
	return int(stored.Load())
}
