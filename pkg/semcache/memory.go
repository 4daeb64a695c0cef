package semcache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/developer-mesh/semcache/pkg/observability"
)

// MemoryCache is the bounded in-memory tier, an LRU keyed by prompt hash.
// It mirrors durable entries for fast reads and carries writes made while
// the durable store is unreachable. It is never authoritative: a reachable
// durable store overrides whatever the mirror holds.
//
// Expired entries are purged lazily, on the lookup or scan that finds them.
// All methods are safe for concurrent use.
type MemoryCache struct {
	entries *lru.Cache[string, *CacheEntry]
	logger  observability.Logger
	now     func() time.Time
}

// NewMemoryCache creates a memory cache holding at most maxEntries entries.
func NewMemoryCache(maxEntries int, logger observability.Logger) (*MemoryCache, error) {
	if maxEntries <= 0 {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	entries, err := lru.New[string, *CacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}

	return &MemoryCache{
		entries: entries,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Get returns the live entry for a prompt hash. An expired entry is removed
// and reported as a miss.
func (m *MemoryCache) Get(promptHash string) (*CacheEntry, bool) {
	entry, ok := m.entries.Get(promptHash)
	if !ok {
		return nil, false
	}
	if entry.Expired(m.now()) {
		m.entries.Remove(promptHash)
		return nil, false
	}
	return entry, true
}

// Put stores an entry under its prompt hash, replacing any previous entry
// for the same hash.
func (m *MemoryCache) Put(entry *CacheEntry) {
	if entry == nil || entry.PromptHash == "" {
		return
	}
	m.entries.Add(entry.PromptHash, entry)
}

// Delete removes an entry, reporting whether a live entry was present.
func (m *MemoryCache) Delete(promptHash string) bool {
	entry, ok := m.entries.Peek(promptHash)
	live := ok && !entry.Expired(m.now())
	m.entries.Remove(promptHash)
	return live
}

// ListLive returns all unexpired entries, purging expired ones as it goes.
func (m *MemoryCache) ListLive() []*CacheEntry {
	now := m.now()
	keys := m.entries.Keys()
	live := make([]*CacheEntry, 0, len(keys))
	for _, key := range keys {
		entry, ok := m.entries.Peek(key)
		if !ok {
			continue
		}
		if entry.Expired(now) {
			m.entries.Remove(key)
			continue
		}
		live = append(live, entry)
	}
	return live
}

// PurgeExpired removes all expired entries and returns how many it removed.
func (m *MemoryCache) PurgeExpired() int {
	now := m.now()
	removed := 0
	for _, key := range m.entries.Keys() {
		entry, ok := m.entries.Peek(key)
		if ok && entry.Expired(now) {
			m.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Clear removes everything and returns the number of live entries removed.
func (m *MemoryCache) Clear() int {
	count := len(m.ListLive())
	m.entries.Purge()
	return count
}

// Len returns the number of live entries.
func (m *MemoryCache) Len() int {
	return len(m.ListLive())
}
