package semcache

import "errors"

var (
	// Storage errors
	ErrStoreUnavailable = errors.New("semcache: durable store unavailable")
	ErrMalformedEntry   = errors.New("semcache: malformed cache entry")

	// Configuration errors, the one class surfaced to callers
	ErrInvalidConfig    = errors.New("semcache: invalid configuration")
	ErrInvalidThreshold = errors.New("semcache: similarity threshold must be between 0 and 1")

	// Lifecycle errors
	ErrCacheClosed = errors.New("semcache: cache is closed")
)
