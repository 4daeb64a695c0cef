package semcache

import (
	"context"
	"time"
)

// DurableStore is the shared, expiring tier behind the cache. The production
// implementation is RedisStore; anything with per-key TTLs and enumeration
// can stand in.
//
// Implementations must wrap every transport-level failure (unreachable,
// timeout, circuit open) in ErrStoreUnavailable so the cache can tell an
// outage apart from a miss. A miss is (nil, nil) from GetExact, never an
// error.
type DurableStore interface {
	// GetExact returns the entry stored under a prompt hash, or (nil, nil)
	// when absent. Malformed stored payloads are logged and reported absent.
	GetExact(ctx context.Context, promptHash string) (*CacheEntry, error)

	// Put stores an entry under its prompt hash with the given TTL,
	// replacing any previous entry for the same hash.
	Put(ctx context.Context, entry *CacheEntry, ttl time.Duration) error

	// Delete removes the entry for a prompt hash, reporting whether one
	// was present.
	Delete(ctx context.Context, promptHash string) (bool, error)

	// ListLive returns every stored entry that parses, skipping malformed
	// payloads with a log line.
	ListLive(ctx context.Context) ([]*CacheEntry, error)

	// CountLive returns the number of stored entries.
	CountLive(ctx context.Context) (int, error)

	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
