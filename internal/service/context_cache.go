package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	gcotel "github.com/Strob0t/GroundControl/internal/adapter/otel"
	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/fleet"
	"github.com/Strob0t/GroundControl/internal/port/cache"
	"github.com/Strob0t/GroundControl/internal/port/contextprovider"
)

const sharedKeyPrefix = "ctx:"

// ContextCache serves time-bounded fleet snapshots per scope. Concurrent
// misses for the same scope collapse into one provider call; failures are
// returned to every waiter and never cached.
type ContextCache struct {
	provider contextprovider.Provider
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]fleet.EvaluationContext
	gens    map[string]uint64 // bumped by Invalidate

	flight singleflight.Group
	shared cache.Cache // optional, may be nil

	refreshes atomic.Int64
	metrics   *gcotel.Metrics
}

// NewContextCache creates a cache over provider with the given TTL.
func NewContextCache(provider contextprovider.Provider, ttl time.Duration) *ContextCache {
	return &ContextCache{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]fleet.EvaluationContext),
		gens:     make(map[string]uint64),
	}
}

// SetShared attaches a cache shared with other instances. Snapshots found
// there are used only while their own ExpiresAt has not passed.
func (c *ContextCache) SetShared(shared cache.Cache) {
	c.shared = shared
}

// SetMetrics sets the optional metric instruments.
func (c *ContextCache) SetMetrics(m *gcotel.Metrics) {
	c.metrics = m
}

// SetClock overrides the time source.
func (c *ContextCache) SetClock(now func() time.Time) {
	c.now = now
}

// TTL returns the configured snapshot lifetime.
func (c *ContextCache) TTL() time.Duration {
	return c.ttl
}

// Refreshes returns how many provider fetches have been made.
func (c *ContextCache) Refreshes() int64 {
	return c.refreshes.Load()
}

// Get returns a fresh EvaluationContext for scope, recomputing it when the
// cached one has expired. Errors wrap domain.ErrCacheRefresh.
func (c *ContextCache) Get(ctx context.Context, scope string) (fleet.EvaluationContext, error) {
	if ec, ok := c.lookup(scope); ok {
		return ec, nil
	}

	// The flight is detached from the first caller's cancellation so one
	// impatient caller cannot fail the refresh for everyone else waiting.
	ch := c.flight.DoChan(scope, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), scope)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return fleet.EvaluationContext{}, res.Err
		}
		return res.Val.(fleet.EvaluationContext), nil
	case <-ctx.Done():
		return fleet.EvaluationContext{}, fmt.Errorf("%w: %s: %w", domain.ErrCacheRefresh, scope, ctx.Err())
	}
}

// Invalidate drops the cached context for scope from this instance and the
// shared tier. A refresh already in flight still answers its waiters but its
// result is not cached, and later callers start a new fetch.
func (c *ContextCache) Invalidate(ctx context.Context, scope string) {
	c.mu.Lock()
	delete(c.entries, scope)
	c.gens[scope]++
	c.mu.Unlock()
	c.flight.Forget(scope)

	if c.shared != nil {
		if err := c.shared.Delete(ctx, sharedKeyPrefix+scope); err != nil {
			slog.Warn("shared context cache delete failed", "scope", scope, "error", err)
		}
	}
}

func (c *ContextCache) lookup(scope string) (fleet.EvaluationContext, bool) {
	c.mu.RLock()
	ec, ok := c.entries[scope]
	c.mu.RUnlock()
	if ok && ec.Fresh(c.now()) {
		return ec, true
	}
	return fleet.EvaluationContext{}, false
}

func (c *ContextCache) refresh(ctx context.Context, scope string) (fleet.EvaluationContext, error) {
	// A caller that missed just before the previous flight stored its
	// result would otherwise start a second fetch.
	if ec, ok := c.lookup(scope); ok {
		return ec, nil
	}
	gen := c.generation(scope)

	if ec, ok := c.loadShared(ctx, scope); ok {
		c.storeIfCurrent(scope, gen, ec)
		return ec, nil
	}

	ctx, span := gcotel.StartRefreshSpan(ctx, scope)
	defer span.End()

	c.refreshes.Add(1)
	if c.metrics != nil {
		c.metrics.ContextRefreshes.Add(ctx, 1)
	}

	snap, err := c.provider.FetchContext(ctx, scope)
	if err != nil {
		slog.Warn("context refresh failed", "scope", scope, "error", err)
		span.RecordError(err)
		return fleet.EvaluationContext{}, fmt.Errorf("%w: %s: %w", domain.ErrCacheRefresh, scope, err)
	}

	ec := fleet.NewEvaluationContext(scope, snap, c.now(), c.ttl)
	if c.storeIfCurrent(scope, gen, ec) {
		c.saveShared(ctx, scope, ec)
	} else {
		slog.Debug("context invalidated during refresh, not caching", "scope", scope)
	}
	return ec, nil
}

func (c *ContextCache) generation(scope string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[scope]
}

// storeIfCurrent caches ec unless scope was invalidated after gen was read.
func (c *ContextCache) storeIfCurrent(scope string, gen uint64, ec fleet.EvaluationContext) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[scope] != gen {
		return false
	}
	c.entries[scope] = ec
	return true
}

func (c *ContextCache) loadShared(ctx context.Context, scope string) (fleet.EvaluationContext, bool) {
	if c.shared == nil {
		return fleet.EvaluationContext{}, false
	}
	data, found, err := c.shared.Get(ctx, sharedKeyPrefix+scope)
	if err != nil {
		slog.Warn("shared context cache get failed", "scope", scope, "error", err)
		return fleet.EvaluationContext{}, false
	}
	if !found {
		return fleet.EvaluationContext{}, false
	}
	var ec fleet.EvaluationContext
	if err := json.Unmarshal(data, &ec); err != nil {
		slog.Warn("shared context cache entry corrupt", "scope", scope, "error", err)
		return fleet.EvaluationContext{}, false
	}
	if ec.Scope != scope || !ec.Fresh(c.now()) {
		return fleet.EvaluationContext{}, false
	}
	return ec, true
}

func (c *ContextCache) saveShared(ctx context.Context, scope string, ec fleet.EvaluationContext) {
	if c.shared == nil {
		return
	}
	data, err := json.Marshal(ec)
	if err != nil {
		slog.Warn("shared context cache marshal failed", "scope", scope, "error", err)
		return
	}
	ttl := ec.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return
	}
	if err := c.shared.Set(ctx, sharedKeyPrefix+scope, data, ttl); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("shared context cache set failed", "scope", scope, "error", err)
	}
}
