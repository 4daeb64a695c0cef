package semcache

import (
	"sync/atomic"
	"time"

	"github.com/developer-mesh/semcache/pkg/observability"
)

// StatsCollector accumulates cache effectiveness counters. Counters only
// grow; Reset (used by Clear) is the single way back to zero.
//
// Token savings are estimated from response length at roughly four bytes per
// token; cost savings derive from saved tokens at the configured per-token
// rate. Both are estimates for dashboards, not billing.
type StatsCollector struct {
	totalRequests atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	tokensSaved   atomic.Int64

	costPerToken float64
	metrics      observability.MetricsClient
}

// NewStatsCollector creates a collector. A nil metrics client disables
// metric emission but not counting.
func NewStatsCollector(costPerToken float64, metrics observability.MetricsClient) *StatsCollector {
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &StatsCollector{
		costPerToken: costPerToken,
		metrics:      metrics,
	}
}

// RecordRequest counts one lookup, before its outcome is known.
func (s *StatsCollector) RecordRequest() {
	s.totalRequests.Add(1)
	s.metrics.IncrementCounter("cache.requests", 1)
}

// RecordHit counts a hit and credits the saved tokens for the response that
// did not have to be regenerated. hitType is "exact" or "similarity".
func (s *StatsCollector) RecordHit(hitType string, responseLength int) {
	s.cacheHits.Add(1)
	s.tokensSaved.Add(estimateTokens(responseLength))
	s.metrics.IncrementCounterWithLabels("cache.hits", 1, map[string]string{
		"type": hitType,
	})
}

// RecordMiss counts a miss with the reason it missed.
func (s *StatsCollector) RecordMiss(reason string) {
	s.cacheMisses.Add(1)
	s.metrics.IncrementCounterWithLabels("cache.misses", 1, map[string]string{
		"reason": reason,
	})
}

// Snapshot returns the current counters plus the supplied live-entry gauge.
func (s *StatsCollector) Snapshot(totalEntries int) *CacheStats {
	requests := s.totalRequests.Load()
	hits := s.cacheHits.Load()
	tokens := s.tokensSaved.Load()

	stats := &CacheStats{
		TotalRequests:      requests,
		CacheHits:          hits,
		CacheMisses:        s.cacheMisses.Load(),
		TotalEntries:       totalEntries,
		TokensSaved:        tokens,
		EstimatedCostSaved: float64(tokens) * s.costPerToken,
		Timestamp:          time.Now().UTC(),
	}
	if requests > 0 {
		stats.HitRate = float64(hits) / float64(requests)
	}
	return stats
}

// Reset zeroes every counter.
func (s *StatsCollector) Reset() {
	s.totalRequests.Store(0)
	s.cacheHits.Store(0)
	s.cacheMisses.Store(0)
	s.tokensSaved.Store(0)
}

func estimateTokens(responseLength int) int64 {
	if responseLength <= 0 {
		return 0
	}
	return int64((responseLength + 3) / 4)
}
