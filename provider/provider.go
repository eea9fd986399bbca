// Package provider defines the byte stores a query cache can sit on.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Set for a key. A store may keep its own metadata
// next to the value (an expiry stamp, for example) as long as Get strips it.
//
// The keyspaces "single:<ns>:" and "bulk:<ns>:" are owned by the cache.
// Foreign writes under these prefixes fail wire validation and are deleted.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Scanner is implemented by stores that can enumerate their keys. The cache
// uses it for prefix removal of entries written by an earlier process (a
// persistent bolt file or a shared Redis); stores without it only see keys
// written through the current cache instance.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}
