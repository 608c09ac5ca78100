package cache

import (
	"context"
	"time"
)

// Store is the shared get/set/increment backing store for output cache
// entries and per-tenant version counters. Implementations must be safe for
// concurrent use; callers treat every error as a cache miss.
type Store interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes a value with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
}
