// Package tiered layers the in-process snapshot cache over the shared one.
package tiered

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/GroundControl/internal/port/cache"
	"github.com/Strob0t/GroundControl/internal/resilience"
)

// Option configures a Cache.
type Option func(*Cache)

// WithL1TTL caps how long an entry lives in L1, both on Set and on an L2
// backfill. Zero keeps the caller's TTL.
func WithL1TTL(d time.Duration) Option {
	return func(c *Cache) { c.l1TTL = d }
}

// WithBreaker guards L2 reads and writes. While the circuit is open the
// cache runs on L1 alone, so a shared-tier outage costs provider refreshes
// instead of a timeout on every decision.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Cache) { c.breaker = b }
}

// Cache reads L1 then L2 and writes both. L2 failures degrade to L1-only.
type Cache struct {
	l1      cache.Cache
	l2      cache.Cache
	l1TTL   time.Duration
	breaker *resilience.Breaker
}

// New layers l1 over l2.
func New(l1, l2 cache.Cache, opts ...Option) *Cache {
	c := &Cache{l1: l1, l2: l2}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get answers from L1, then from L2 with an L1 backfill. An L2 failure or
// open circuit is a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, found, err := c.l1.Get(ctx, key); err != nil || found {
		return val, found, err
	}

	var (
		val   []byte
		found bool
	)
	err := c.shared(func() error {
		var err error
		val, found, err = c.l2.Get(ctx, key)
		return err
	})
	if err != nil {
		logL2(ctx, "get", key, err)
		return nil, false, nil
	}
	if found {
		_ = c.l1.Set(ctx, key, val, c.capL1(0))
	}
	return val, found, nil
}

// Set writes L1 then L2. With the circuit open only L1 is written.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.capL1(ttl)); err != nil {
		return err
	}
	err := c.shared(func() error { return c.l2.Set(ctx, key, value, ttl) })
	if errors.Is(err, resilience.ErrCircuitOpen) {
		logL2(ctx, "set", key, err)
		return nil
	}
	return err
}

// Delete removes key from L2 before L1, so a concurrent Get that still finds
// L1 populated never backfills from the copy being deleted. Delete bypasses
// the breaker: an invalidation must reach L2 whenever L2 is reachable.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l2.Delete(ctx, key); err != nil {
		_ = c.l1.Delete(ctx, key)
		return err
	}
	return c.l1.Delete(ctx, key)
}

func (c *Cache) shared(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

// capL1 bounds an L1 TTL by l1TTL. A non-positive ttl means "no own expiry".
func (c *Cache) capL1(ttl time.Duration) time.Duration {
	if c.l1TTL > 0 && (ttl <= 0 || ttl > c.l1TTL) {
		return c.l1TTL
	}
	return ttl
}

func logL2(ctx context.Context, op, key string, err error) {
	level := slog.LevelWarn
	if errors.Is(err, resilience.ErrCircuitOpen) {
		level = slog.LevelDebug
	}
	slog.Log(ctx, level, "l2 cache "+op+" skipped", "key", key, "error", err)
}
