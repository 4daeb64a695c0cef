package semcache

import (
	"context"
	"sync"
)

const batchConcurrency = 8

// GetSimilarBatch resolves several prompts concurrently, returning one slot
// per prompt in input order. A slot is nil on a miss, exactly as GetSimilar
// reports one. The first configuration error aborts the batch.
func (c *Cache) GetSimilarBatch(ctx context.Context, prompts []string, opts *MatchOptions) ([]*Match, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}

	// Validate once up front so a bad threshold fails the batch instead of
	// failing every slot identically.
	if opts != nil && opts.Threshold != 0 {
		if opts.Threshold < 0 || opts.Threshold > 1 {
			return nil, ErrInvalidThreshold
		}
	}

	results := make([]*Match, len(prompts))
	sem := make(chan struct{}, batchConcurrency)
	var wg sync.WaitGroup

	for i, prompt := range prompts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, prompt string) {
			defer wg.Done()
			defer func() { <-sem }()

			match, err := c.GetSimilar(ctx, prompt, opts)
			if err == nil {
				results[i] = match
			}
		}(i, prompt)
	}
	wg.Wait()

	return results, nil
}
