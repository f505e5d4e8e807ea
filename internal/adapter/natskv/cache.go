// Package natskv stores cache entries in a NATS JetStream KV bucket. It backs
// the shared context snapshot tier and the Idempotency-Key replay store.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Option configures a Cache.
type Option func(*Cache)

// WithKeyTTL lets Add give each claim its own TTL. The bucket must have been
// created with a LimitMarkerTTL (nats-server 2.11+); otherwise claims live
// for the bucket TTL.
func WithKeyTTL() Option {
	return func(c *Cache) { c.keyTTL = true }
}

// Cache keeps values in one KV bucket. Expiry of plain writes is the
// bucket's TTL.
type Cache struct {
	kv     jetstream.KeyValue
	keyTTL bool
}

// New wraps a KV bucket.
func New(kv jetstream.KeyValue, opts ...Option) *Cache {
	c := &Cache{kv: kv}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the latest value for key. Deleted and expired keys are misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, encodeKey(key))
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("kv %s get: %w", c.kv.Bucket(), err)
	}
	return entry.Value(), true, nil
}

// Set writes value. The ttl argument is ignored; the bucket TTL applies.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := c.kv.Put(ctx, encodeKey(key), value); err != nil {
		return fmt.Errorf("kv %s put: %w", c.kv.Bucket(), err)
	}
	return nil
}

// Add creates key only if it has no live value. The KV revision check makes
// the claim atomic across every instance sharing the bucket.
func (c *Cache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var opts []jetstream.KVCreateOpt
	if c.keyTTL && ttl > 0 {
		opts = append(opts, jetstream.KeyTTL(ttl))
	}
	_, err := c.kv.Create(ctx, encodeKey(key), value, opts...)
	switch {
	case errors.Is(err, jetstream.ErrKeyExists):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("kv %s create: %w", c.kv.Bucket(), err)
	}
	return true, nil
}

// Delete removes key. A missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, encodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv %s delete: %w", c.kv.Bucket(), err)
	}
	return nil
}

// encodeKey maps keys such as "ctx:drone/d1" or
// "idempotency:/api/v1/commands:abc" onto the KV key alphabet, which has no ':'
// and no spaces.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}
