package semcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/developer-mesh/semcache/pkg/observability"
	"github.com/developer-mesh/semcache/pkg/resilience"
	"github.com/developer-mesh/semcache/pkg/retry"
)

const (
	scanBatchSize = 100
	mgetBatchSize = 100
)

// RedisStoreConfig configures the Redis-backed durable store.
type RedisStoreConfig struct {
	// Prefix namespaces every key this store writes.
	Prefix string

	// OpTimeout caps each store call. Exceeding it is reported as
	// ErrStoreUnavailable, the same as an unreachable server.
	OpTimeout time.Duration

	// Retry controls transient-failure retries within a single call.
	Retry retry.Config

	// Breaker trips after sustained failures so a down Redis costs a fast
	// rejection instead of a timeout per call.
	Breaker resilience.CircuitBreakerConfig
}

// RedisStore implements DurableStore on Redis.
//
// Each entry is written under two keys sharing one TTL:
//
//	{prefix}:exact:{hash}     O(1) lookup for the exact-match path
//	{prefix}:semantic:{hash}  enumerable family for similarity scans
//
// Redis expiry is authoritative for storage reclamation; readers apply their
// own expiry check on top, so an entry redis has not reaped yet is still
// treated as gone.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
	breaker   *resilience.CircuitBreaker
	retry     retry.Policy
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// NewRedisStore creates a durable store on an existing Redis client. The
// store does not own the client's connection settings, only its own
// per-operation timeout, retry, and circuit breaking.
func NewRedisStore(client redis.UniversalClient, config RedisStoreConfig, logger observability.Logger, metrics observability.MetricsClient) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = observability.NewLogger("semcache.redis")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if config.Prefix == "" {
		config.Prefix = DefaultConfig().Prefix
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = DefaultConfig().StoreTimeout
	}
	if config.Retry.MaxRetries == 0 {
		config.Retry = retry.Config{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     500 * time.Millisecond,
			MaxElapsedTime:  config.OpTimeout,
			Multiplier:      2.0,
			MaxRetries:      2,
		}
	}
	breakerCfg := config.Breaker
	if breakerCfg.FailureThreshold == 0 {
		breakerCfg = resilience.DefaultCircuitBreakerConfig()
		breakerCfg.ResetTimeout = 5 * time.Second
	}

	return &RedisStore{
		client:    client,
		prefix:    config.Prefix,
		opTimeout: config.OpTimeout,
		breaker:   resilience.NewCircuitBreaker("semcache.redis", breakerCfg, logger, metrics),
		retry:     retry.NewExponentialBackoff(config.Retry),
		logger:    logger,
		metrics:   metrics,
	}, nil
}

func (s *RedisStore) exactKey(promptHash string) string {
	return s.prefix + ":exact:" + promptHash
}

func (s *RedisStore) semanticKey(promptHash string) string {
	return s.prefix + ":semantic:" + promptHash
}

// exec runs fn under the per-call timeout, retry policy, and circuit
// breaker. Any failure surfaces as ErrStoreUnavailable; fn is responsible
// for treating redis.Nil as a successful miss.
func (s *RedisStore) exec(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, s.retry.Execute(ctx, fn)
	})
	s.metrics.RecordCacheOperation(op, err == nil, time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
	return nil
}

// GetExact implements DurableStore.
func (s *RedisStore) GetExact(ctx context.Context, promptHash string) (*CacheEntry, error) {
	var (
		payload string
		found   bool
	)
	err := s.exec(ctx, "get_exact", func(ctx context.Context) error {
		val, err := s.client.Get(ctx, s.exactKey(promptHash)).Result()
		if err == redis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		payload = val
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		s.logger.Warn("Skipping malformed cache entry", map[string]interface{}{
			"key":   s.exactKey(promptHash),
			"error": err.Error(),
		})
		return nil, nil
	}
	return &entry, nil
}

// Put implements DurableStore. Both key families are written in one
// pipeline so the exact and semantic views of an entry stay consistent.
func (s *RedisStore) Put(ctx context.Context, entry *CacheEntry, ttl time.Duration) error {
	if entry == nil || entry.PromptHash == "" {
		return fmt.Errorf("%w: entry with prompt hash is required", ErrInvalidConfig)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}

	return s.exec(ctx, "put", func(ctx context.Context) error {
		pipe := s.client.Pipeline()
		pipe.Set(ctx, s.exactKey(entry.PromptHash), payload, ttl)
		pipe.Set(ctx, s.semanticKey(entry.PromptHash), payload, ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Delete implements DurableStore.
func (s *RedisStore) Delete(ctx context.Context, promptHash string) (bool, error) {
	var removed int64
	err := s.exec(ctx, "delete", func(ctx context.Context) error {
		n, err := s.client.Del(ctx, s.exactKey(promptHash), s.semanticKey(promptHash)).Result()
		if err != nil {
			return err
		}
		removed = n
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// ListLive implements DurableStore. It scans the semantic key family and
// fetches payloads in batches; keys that expire between scan and fetch are
// silently skipped, malformed payloads are skipped with a warning.
func (s *RedisStore) ListLive(ctx context.Context) ([]*CacheEntry, error) {
	var entries []*CacheEntry
	err := s.exec(ctx, "list_live", func(ctx context.Context) error {
		keys, err := s.scanKeys(ctx, s.prefix+":semantic:*")
		if err != nil {
			return err
		}

		entries = entries[:0]
		for start := 0; start < len(keys); start += mgetBatchSize {
			end := start + mgetBatchSize
			if end > len(keys) {
				end = len(keys)
			}
			values, err := s.client.MGet(ctx, keys[start:end]...).Result()
			if err != nil {
				return err
			}
			for i, raw := range values {
				payload, ok := raw.(string)
				if !ok {
					continue
				}
				var entry CacheEntry
				if err := json.Unmarshal([]byte(payload), &entry); err != nil {
					s.logger.Warn("Skipping malformed cache entry", map[string]interface{}{
						"key":   keys[start+i],
						"error": err.Error(),
					})
					continue
				}
				entries = append(entries, &entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CountLive implements DurableStore.
func (s *RedisStore) CountLive(ctx context.Context) (int, error) {
	var count int
	err := s.exec(ctx, "count_live", func(ctx context.Context) error {
		keys, err := s.scanKeys(ctx, s.prefix+":semantic:*")
		if err != nil {
			return err
		}
		count = len(keys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Clear implements DurableStore. The returned count is entries (semantic
// keys), not raw keys, since each entry occupies two keys.
func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	var cleared int
	err := s.exec(ctx, "clear", func(ctx context.Context) error {
		keys, err := s.scanKeys(ctx, s.prefix+":*")
		if err != nil {
			return err
		}

		cleared = 0
		semanticPrefix := s.prefix + ":semantic:"
		for _, key := range keys {
			if len(key) >= len(semanticPrefix) && key[:len(semanticPrefix)] == semanticPrefix {
				cleared++
			}
		}

		for start := 0; start < len(keys); start += mgetBatchSize {
			end := start + mgetBatchSize
			if end > len(keys) {
				end = len(keys)
			}
			if err := s.client.Del(ctx, keys[start:end]...).Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// Ping implements DurableStore.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.exec(ctx, "ping", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

// Close implements DurableStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
