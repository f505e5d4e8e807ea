// Package cache defines the port interface for the shared byte cache that
// backs context snapshots across GroundControl instances.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
// A miss is reported as found == false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Reserver is a Cache that can claim a key atomically across instances.
type Reserver interface {
	Cache

	// Add stores value only when key is absent and reports whether it did.
	// A claim made with a positive ttl expires on its own even if the
	// claimant never overwrites or deletes it.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
