// Package ristretto is the in-process tier of the context snapshot cache.
// Snapshots are small JSON documents, so the budget is counted in bytes of
// key plus value.
package ristretto

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Stats is a point-in-time view of the L1 counters.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Rejected uint64 // writes refused by admission or dropped under contention
	Evicted  uint64
}

// Cache holds snapshots in a ristretto cache.
type Cache struct {
	c        *ristretto.Cache[string, []byte]
	maxBytes int64
	oversize atomic.Uint64
}

// New creates a cache bounded to maxBytes of keys and values.
func New(maxBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// One counter per ~100 bytes, about ten per expected snapshot.
		NumCounters: max(maxBytes/100, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, maxBytes: maxBytes}, nil
}

// Get returns the cached snapshot for key.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.c.Get(key)
	return val, found, nil
}

// Set stores a copy of value and waits until it is visible to Get. A
// non-positive ttl never expires. A write refused by admission is not an
// error: the next lookup misses and refreshes from the provider or L2.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	cost := int64(len(key) + len(value))
	if cost > c.maxBytes {
		// ristretto drops these silently, without counting them.
		c.oversize.Add(1)
		c.c.Del(key)
		return nil
	}
	if c.c.SetWithTTL(key, bytes.Clone(value), cost, ttl) {
		c.c.Wait()
	}
	return nil
}

// Delete drops key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Stats reports the hit, miss, rejection and eviction counters.
func (c *Cache) Stats() Stats {
	m := c.c.Metrics
	return Stats{
		Hits:     m.Hits(),
		Misses:   m.Misses(),
		Rejected: m.SetsRejected() + m.SetsDropped() + c.oversize.Load(),
		Evicted:  m.KeysEvicted(),
	}
}

// Close releases the cache's goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
