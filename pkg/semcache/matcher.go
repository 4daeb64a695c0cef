package semcache

import (
	"math"
	"time"
)

// CosineSimilarity computes the cosine of the angle between two vectors,
// accumulating in float64. Returns 0.0 when either vector has zero norm, so
// degenerate vectors can never clear a positive threshold.
//
// Callers are expected to filter out length mismatches before comparing;
// mismatched lengths also return 0.0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// bestMatch scans candidates for the entry most similar to the query vector
// at or above threshold (inclusive). Candidates are skipped when expired at
// now, when their embedding length differs from the query, or when they fail
// the provider/model filter.
//
// Ties on similarity prefer the newer entry; ties on creation time prefer
// the lexicographically smallest prompt hash, so the winner is deterministic
// for any candidate ordering.
func bestMatch(candidates []*CacheEntry, query []float32, threshold float64, opts *MatchOptions, now time.Time) *Match {
	var best *Match

	for _, entry := range candidates {
		if entry == nil || entry.Expired(now) {
			continue
		}
		if len(entry.Embedding) != len(query) {
			continue
		}
		if opts != nil {
			if opts.Provider != "" && entry.Provider != opts.Provider {
				continue
			}
			if opts.Model != "" && entry.Model != opts.Model {
				continue
			}
		}

		sim := CosineSimilarity(query, entry.Embedding)
		if sim < threshold {
			continue
		}

		if best == nil || betterThan(entry, sim, best) {
			best = &Match{Entry: entry, Similarity: sim}
		}
	}

	return best
}

func betterThan(entry *CacheEntry, sim float64, best *Match) bool {
	if sim != best.Similarity {
		return sim > best.Similarity
	}
	if !entry.CreatedAt.Equal(best.Entry.CreatedAt) {
		return entry.CreatedAt.After(best.Entry.CreatedAt)
	}
	return entry.PromptHash < best.Entry.PromptHash
}
