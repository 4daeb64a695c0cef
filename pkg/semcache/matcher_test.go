package semcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		v := []float32{0.3, 0.5, 0.2}
		assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	})

	t.Run("zero norm yields zero", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
		assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 0}))
	})

	t.Run("length mismatch yields zero", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
		assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	})
}

func matchCandidate(hash string, vec []float32, createdAt time.Time) *CacheEntry {
	return &CacheEntry{
		PromptHash: hash,
		Embedding:  vec,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(time.Hour),
	}
}

func TestBestMatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	query := []float32{1, 0, 0}

	t.Run("picks highest similarity", func(t *testing.T) {
		candidates := []*CacheEntry{
			matchCandidate("aaa", []float32{0.9, 0.1, 0}, now),
			matchCandidate("bbb", []float32{1, 0, 0}, now),
		}
		m := bestMatch(candidates, query, 0.5, nil, now)
		require.NotNil(t, m)
		assert.Equal(t, "bbb", m.Entry.PromptHash)
		assert.InDelta(t, 1.0, m.Similarity, 1e-9)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		// cos([3,4,0],[4,3,0]) is exactly 24/25 = 0.96
		candidates := []*CacheEntry{
			matchCandidate("aaa", []float32{4, 3, 0}, now),
		}
		m := bestMatch(candidates, []float32{3, 4, 0}, 0.96, nil, now)
		require.NotNil(t, m)
		assert.Equal(t, 0.96, m.Similarity)

		assert.Nil(t, bestMatch(candidates, []float32{3, 4, 0}, 0.961, nil, now))
	})

	t.Run("skips expired entries", func(t *testing.T) {
		stale := matchCandidate("aaa", []float32{1, 0, 0}, now.Add(-2*time.Hour))
		assert.Nil(t, bestMatch([]*CacheEntry{stale}, query, 0.5, nil, now))
	})

	t.Run("skips dimension mismatches", func(t *testing.T) {
		candidates := []*CacheEntry{
			matchCandidate("aaa", []float32{1, 0}, now),
			matchCandidate("bbb", []float32{1, 0, 0, 0}, now),
		}
		assert.Nil(t, bestMatch(candidates, query, 0.0, nil, now))
	})

	t.Run("tie prefers newer entry", func(t *testing.T) {
		candidates := []*CacheEntry{
			matchCandidate("old", []float32{1, 0, 0}, now.Add(-time.Minute)),
			matchCandidate("new", []float32{1, 0, 0}, now),
		}
		m := bestMatch(candidates, query, 0.5, nil, now)
		require.NotNil(t, m)
		assert.Equal(t, "new", m.Entry.PromptHash)
	})

	t.Run("full tie prefers smallest hash", func(t *testing.T) {
		candidates := []*CacheEntry{
			matchCandidate("zzz", []float32{1, 0, 0}, now),
			matchCandidate("aaa", []float32{1, 0, 0}, now),
			matchCandidate("mmm", []float32{1, 0, 0}, now),
		}
		m := bestMatch(candidates, query, 0.5, nil, now)
		require.NotNil(t, m)
		assert.Equal(t, "aaa", m.Entry.PromptHash)
	})

	t.Run("deterministic across candidate order", func(t *testing.T) {
		forward := []*CacheEntry{
			matchCandidate("aaa", []float32{1, 0, 0}, now),
			matchCandidate("bbb", []float32{1, 0, 0}, now),
		}
		backward := []*CacheEntry{forward[1], forward[0]}

		m1 := bestMatch(forward, query, 0.5, nil, now)
		m2 := bestMatch(backward, query, 0.5, nil, now)
		require.NotNil(t, m1)
		require.NotNil(t, m2)
		assert.Equal(t, m1.Entry.PromptHash, m2.Entry.PromptHash)
	})

	t.Run("provider and model filters", func(t *testing.T) {
		a := matchCandidate("aaa", []float32{1, 0, 0}, now)
		a.Provider = "openai"
		a.Model = "gpt-4o"
		b := matchCandidate("bbb", []float32{1, 0, 0}, now)
		b.Provider = "anthropic"
		b.Model = "claude-sonnet"
		candidates := []*CacheEntry{a, b}

		m := bestMatch(candidates, query, 0.5, &MatchOptions{Provider: "anthropic"}, now)
		require.NotNil(t, m)
		assert.Equal(t, "bbb", m.Entry.PromptHash)

		m = bestMatch(candidates, query, 0.5, &MatchOptions{Model: "gpt-4o"}, now)
		require.NotNil(t, m)
		assert.Equal(t, "aaa", m.Entry.PromptHash)

		assert.Nil(t, bestMatch(candidates, query, 0.5, &MatchOptions{Provider: "cohere"}, now))
	})

	t.Run("empty candidate set", func(t *testing.T) {
		assert.Nil(t, bestMatch(nil, query, 0.5, nil, now))
	})
}
