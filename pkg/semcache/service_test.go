package semcache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/semcache/pkg/embedding"
	"github.com/developer-mesh/semcache/pkg/resilience"
	"github.com/developer-mesh/semcache/pkg/retry"
)

// stubProvider returns canned vectors for prompts registered with setVec
// and a deterministic filler vector otherwise. Lookups are keyed by the
// normalized prompt, which is what the cache embeds.
type stubProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	fail    bool
	calls   int
}

func newStubProvider() *stubProvider {
	return &stubProvider{vectors: make(map[string][]float32)}
}

func (p *stubProvider) setVec(prompt string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectors[NewDefaultNormalizer().Normalize(prompt)] = vec
}

func (p *stubProvider) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return nil, fmt.Errorf("%w: provider down", embedding.ErrEmbeddingFailed)
	}
	if vec, ok := p.vectors[text]; ok {
		return vec, nil
	}
	sum := sha256.Sum256([]byte(text))
	return []float32{float32(sum[0]) + 1, float32(sum[1]) + 1, float32(sum[2]) + 1}, nil
}

func (p *stubProvider) Model() string   { return "stub-embed" }
func (p *stubProvider) Dimensions() int { return 3 }

type cacheFixture struct {
	cache    *Cache
	redis    *miniredis.Miniredis
	provider *stubProvider
	now      *time.Time
}

func newTestCache(t *testing.T) *cacheFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store, err := NewRedisStore(client, RedisStoreConfig{
		Prefix:    "test",
		OpTimeout: 500 * time.Millisecond,
		Retry: retry.Config{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxElapsedTime:  100 * time.Millisecond,
			Multiplier:      2.0,
			MaxRetries:      1,
		},
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 100,
			ResetTimeout:     50 * time.Millisecond,
		},
	}, nil, nil)
	require.NoError(t, err)

	provider := newStubProvider()
	cache, err := New(provider, store, &Config{
		EmbeddingModel:      "stub-embed",
		EmbeddingDimensions: 3,
		DefaultThreshold:    0.95,
		DefaultTTL:          time.Hour,
		Prefix:              "test",
		MaxLocalEntries:     100,
		CostPerToken:        0.001,
		StoreTimeout:        500 * time.Millisecond,
		EmbedTimeout:        500 * time.Millisecond,
		RecoveryCheckPeriod: 25 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	current := time.Now()
	cache.setClock(func() time.Time { return current })

	require.NoError(t, cache.Open(context.Background()))
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	return &cacheFixture{cache: cache, redis: mr, provider: provider, now: &current}
}

func TestCache_ExactRoundTrip(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "What is the capital of France?", "Paris", nil))
	callsAfterSet := f.provider.callCount()

	match, err := f.cache.GetExact(ctx, "  what is the capital of FRANCE?  ")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "Paris", match.Entry.Response)
	assert.Equal(t, 1.0, match.Similarity)
	assert.Equal(t, "What is the capital of France?", match.Entry.Prompt)

	// The exact path never touches the embedding provider
	assert.Equal(t, callsAfterSet, f.provider.callCount())
}

func TestCache_ExactMiss(t *testing.T) {
	f := newTestCache(t)

	match, err := f.cache.GetExact(context.Background(), "never cached")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCache_EmptyPrompt(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	assert.False(t, f.cache.Set(ctx, "   ", "response", nil))

	match, err := f.cache.GetExact(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, match)

	match, err = f.cache.GetSimilar(ctx, "  \t ", nil)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCache_SimilarityHit(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	f.provider.setVec("what is the capital of france?", []float32{1, 0, 0})
	f.provider.setVec("france's capital city?", []float32{0.99, 0.14, 0})

	require.True(t, f.cache.Set(ctx, "What is the capital of France?", "Paris", nil))

	match, err := f.cache.GetSimilar(ctx, "France's capital city?", nil)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "Paris", match.Entry.Response)
	assert.GreaterOrEqual(t, match.Similarity, 0.95)
	assert.Less(t, match.Similarity, 1.0)
}

func TestCache_SimilarityExactFastPath(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "What is Go?", "A programming language", nil))
	callsAfterSet := f.provider.callCount()

	match, err := f.cache.GetSimilar(ctx, "what is go?", nil)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, 1.0, match.Similarity)
	assert.Equal(t, callsAfterSet, f.provider.callCount())
}

func TestCache_SimilarityMissBelowThreshold(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	f.provider.setVec("what is the capital of france?", []float32{1, 0, 0})
	f.provider.setVec("how do i bake bread?", []float32{0, 1, 0})

	require.True(t, f.cache.Set(ctx, "What is the capital of France?", "Paris", nil))

	match, err := f.cache.GetSimilar(ctx, "How do I bake bread?", nil)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCache_ThresholdOverride(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	f.provider.setVec("original prompt", []float32{1, 0, 0})
	f.provider.setVec("near prompt", []float32{0.99, 0.14, 0})

	require.True(t, f.cache.Set(ctx, "original prompt", "answer", nil))

	match, err := f.cache.GetSimilar(ctx, "near prompt", &MatchOptions{Threshold: 0.999})
	require.NoError(t, err)
	assert.Nil(t, match)

	match, err = f.cache.GetSimilar(ctx, "near prompt", &MatchOptions{Threshold: 0.9})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "answer", match.Entry.Response)
}

func TestCache_InvalidThresholdSurfaces(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	_, err := f.cache.GetSimilar(ctx, "anything", &MatchOptions{Threshold: 1.5})
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = f.cache.GetSimilar(ctx, "anything", &MatchOptions{Threshold: -0.2})
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	// A rejected lookup never counts as a request
	assert.Zero(t, f.cache.Stats(ctx).TotalRequests)
}

func TestCache_ProviderModelFilter(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	f.provider.setVec("summarize the report", []float32{1, 0, 0})
	f.provider.setVec("summarize this report", []float32{0.99, 0.1, 0})

	require.True(t, f.cache.Set(ctx, "summarize the report", "gpt summary", &SetOptions{
		Provider: "openai", Model: "gpt-4o",
	}))

	match, err := f.cache.GetSimilar(ctx, "summarize this report", &MatchOptions{Model: "gpt-4o"})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "gpt summary", match.Entry.Response)

	match, err = f.cache.GetSimilar(ctx, "summarize this report", &MatchOptions{Model: "claude-sonnet"})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCache_ExpiryWithInjectedClock(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "short lived", "gone soon", &SetOptions{TTL: time.Minute}))

	match, err := f.cache.GetExact(ctx, "short lived")
	require.NoError(t, err)
	require.NotNil(t, match)

	*f.now = f.now.Add(2 * time.Minute)

	match, err = f.cache.GetExact(ctx, "short lived")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCache_HitCountIncrements(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "counted prompt", "resp", nil))

	match, err := f.cache.GetExact(ctx, "counted prompt")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, int64(1), match.Entry.HitCount)

	match, err = f.cache.GetExact(ctx, "counted prompt")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, int64(2), match.Entry.HitCount)
}

func TestCache_LastWriteWins(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "same prompt", "first answer", nil))
	require.True(t, f.cache.Set(ctx, "Same   PROMPT", "second answer", nil))

	match, err := f.cache.GetExact(ctx, "same prompt")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "second answer", match.Entry.Response)

	assert.Equal(t, 1, f.cache.Stats(ctx).TotalEntries)
}

func TestCache_Invalidate(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "to remove", "resp", nil))

	assert.True(t, f.cache.Invalidate(ctx, "to remove"))
	assert.False(t, f.cache.Invalidate(ctx, "to remove"))

	match, err := f.cache.GetExact(ctx, "to remove")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCache_InvalidateByPattern(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "Acme pricing plan", "a", nil))
	require.True(t, f.cache.Set(ctx, "Acme support hours", "b", nil))
	require.True(t, f.cache.Set(ctx, "Globex pricing", "c", nil))

	assert.Equal(t, 2, f.cache.InvalidateByPattern(ctx, "acme"))

	match, err := f.cache.GetExact(ctx, "Acme pricing plan")
	require.NoError(t, err)
	assert.Nil(t, match)

	match, err = f.cache.GetExact(ctx, "Globex pricing")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "c", match.Entry.Response)

	assert.Zero(t, f.cache.InvalidateByPattern(ctx, ""))
	assert.Zero(t, f.cache.InvalidateByPattern(ctx, "no such prompt text"))
}

func TestCache_ClearResetsEverything(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, f.cache.Set(ctx, fmt.Sprintf("prompt %d", i), "resp", nil))
	}
	_, err := f.cache.GetExact(ctx, "prompt 0")
	require.NoError(t, err)

	assert.Equal(t, 3, f.cache.Clear(ctx))

	stats := f.cache.Stats(ctx)
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.CacheHits)
	assert.Zero(t, stats.TokensSaved)
	assert.Zero(t, stats.TotalEntries)

	match, err := f.cache.GetExact(ctx, "prompt 0")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCache_StatsAccounting(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	f.provider.setVec("prompt one", []float32{1, 0, 0})
	f.provider.setVec("unrelated question", []float32{0, 1, 0})

	require.True(t, f.cache.Set(ctx, "prompt one", "resp-one", nil))

	_, err := f.cache.GetExact(ctx, "prompt one") // hit
	require.NoError(t, err)
	_, err = f.cache.GetExact(ctx, "prompt two") // miss
	require.NoError(t, err)
	_, err = f.cache.GetSimilar(ctx, "unrelated question", nil) // miss
	require.NoError(t, err)

	stats := f.cache.Stats(ctx)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.CacheMisses)
	assert.Equal(t, stats.TotalRequests, stats.CacheHits+stats.CacheMisses)
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, int64(2), stats.TokensSaved) // len("resp-one") / 4
	assert.InDelta(t, 0.002, stats.EstimatedCostSaved, 1e-9)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 1e-9)
}

func TestCache_EmbeddingFailureIsAMissNotAnError(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "cached prompt", "resp", nil))
	f.provider.setFail(true)

	match, err := f.cache.GetSimilar(ctx, "some other prompt", nil)
	require.NoError(t, err)
	assert.Nil(t, match)

	// The exact path still works without the provider
	match, err = f.cache.GetSimilar(ctx, "cached prompt", nil)
	require.NoError(t, err)
	require.NotNil(t, match)

	assert.False(t, f.cache.Set(ctx, "new prompt", "resp", nil))
}

func TestCache_MalformedDurableEntryIsAMiss(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	hash := HashPrompt(NewDefaultNormalizer().Normalize("broken prompt"))
	f.redis.Set("test:exact:"+hash, "{corrupted")
	f.redis.Set("test:semantic:"+hash, "{corrupted")

	match, err := f.cache.GetExact(ctx, "broken prompt")
	require.NoError(t, err)
	assert.Nil(t, match)
	assert.False(t, f.cache.Degraded())
}

func TestCache_DurableWinsOverStaleMirror(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "shared prompt", "resp", nil))

	// Another instance invalidated the entry in Redis
	hash := HashPrompt(NewDefaultNormalizer().Normalize("shared prompt"))
	f.redis.Del("test:exact:" + hash)
	f.redis.Del("test:semantic:" + hash)

	match, err := f.cache.GetExact(ctx, "shared prompt")
	require.NoError(t, err)
	assert.Nil(t, match)

	// The mirror dropped its copy too, so it cannot resurrect the entry
	_, ok := f.cache.volatile.Get(hash)
	assert.False(t, ok)
}

func TestCache_DegradedModeServesFromMirror(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "survivor", "still here", nil))

	f.redis.Close()

	match, err := f.cache.GetExact(ctx, "survivor")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "still here", match.Entry.Response)
	assert.True(t, f.cache.Degraded())

	// Writes keep working against the mirror
	assert.True(t, f.cache.Set(ctx, "written while down", "resp", nil))

	match, err = f.cache.GetExact(ctx, "written while down")
	require.NoError(t, err)
	require.NotNil(t, match)
}

func TestCache_DegradedModeRecovers(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "probe", "resp", nil))
	f.redis.Close()

	_, err := f.cache.GetExact(ctx, "probe")
	require.NoError(t, err)
	require.True(t, f.cache.Degraded())

	require.NoError(t, f.redis.Restart())

	assert.Eventually(t, func() bool {
		return !f.cache.Degraded()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompt := fmt.Sprintf("worker prompt %d", i)
			response := fmt.Sprintf("worker response %d", i)

			if !assert.True(t, f.cache.Set(ctx, prompt, response, nil)) {
				return
			}

			match, err := f.cache.GetExact(ctx, prompt)
			if !assert.NoError(t, err) || !assert.NotNil(t, match) {
				return
			}
			assert.Equal(t, response, match.Entry.Response)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, workers, f.cache.Stats(ctx).TotalEntries)
}

func TestCache_ClosedCache(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, f.cache.Close(ctx))

	_, err := f.cache.GetExact(ctx, "anything")
	assert.ErrorIs(t, err, ErrCacheClosed)

	_, err = f.cache.GetSimilar(ctx, "anything", nil)
	assert.ErrorIs(t, err, ErrCacheClosed)

	assert.False(t, f.cache.Set(ctx, "anything", "resp", nil))
	assert.False(t, f.cache.Invalidate(ctx, "anything"))
	assert.Zero(t, f.cache.Clear(ctx))

	// Close is idempotent
	assert.NoError(t, f.cache.Close(ctx))
}

func TestCache_GetSimilarBatch(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	f.provider.setVec("batch prompt one", []float32{1, 0, 0})
	f.provider.setVec("batch query one", []float32{0.99, 0.1, 0})
	f.provider.setVec("batch query two", []float32{0, 1, 0})

	require.True(t, f.cache.Set(ctx, "batch prompt one", "answer one", nil))

	results, err := f.cache.GetSimilarBatch(ctx, []string{
		"batch query one",
		"batch query two",
		"batch prompt one",
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.NotNil(t, results[0])
	assert.Equal(t, "answer one", results[0].Entry.Response)
	assert.Nil(t, results[1])
	require.NotNil(t, results[2])
	assert.Equal(t, 1.0, results[2].Similarity)

	_, err = f.cache.GetSimilarBatch(ctx, []string{"x"}, &MatchOptions{Threshold: 2})
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestCache_TopEntries(t *testing.T) {
	f := newTestCache(t)
	ctx := context.Background()

	require.True(t, f.cache.Set(ctx, "popular", "a", nil))
	require.True(t, f.cache.Set(ctx, "middling", "b", nil))
	require.True(t, f.cache.Set(ctx, "unloved", "c", nil))

	for i := 0; i < 3; i++ {
		_, err := f.cache.GetExact(ctx, "popular")
		require.NoError(t, err)
	}
	_, err := f.cache.GetExact(ctx, "middling")
	require.NoError(t, err)

	top := f.cache.TopEntries(2)
	require.Len(t, top, 2)
	assert.Equal(t, "popular", top[0].Prompt)
	assert.Equal(t, "middling", top[1].Prompt)

	assert.Nil(t, f.cache.TopEntries(0))
}

func TestNew_Validation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewRedisStore(client, RedisStoreConfig{Prefix: "test"}, nil, nil)
	require.NoError(t, err)
	provider := newStubProvider()

	t.Run("requires provider and store", func(t *testing.T) {
		_, err := New(nil, store, nil, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)

		_, err = New(provider, nil, nil, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("rejects out-of-range threshold", func(t *testing.T) {
		_, err := New(provider, store, &Config{DefaultThreshold: 1.2}, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidThreshold)

		_, err = New(provider, store, &Config{DefaultThreshold: -0.1}, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidThreshold)
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		c, err := New(provider, store, nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.95, c.config.DefaultThreshold)
		assert.Equal(t, 24*time.Hour, c.config.DefaultTTL)
	})
}
