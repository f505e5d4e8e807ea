package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/fleet"
	"github.com/Strob0t/GroundControl/internal/port/contextprovider"
)

func TestContextCacheReusesWithinTTL(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	p := newFakeProvider()
	c := NewContextCache(p, 30*time.Second)
	c.SetClock(clk.Now)
	ctx := context.Background()

	first, err := c.Get(ctx, "drone/d1")
	if err != nil {
		t.Fatal(err)
	}
	if !first.ExpiresAt.Equal(clk.Now().Add(30 * time.Second)) {
		t.Fatalf("expiresAt = %v", first.ExpiresAt)
	}

	clk.Advance(29 * time.Second)
	second, err := c.Get(ctx, "drone/d1")
	if err != nil {
		t.Fatal(err)
	}
	if p.calls.Load() != 1 || c.Refreshes() != 1 {
		t.Fatalf("provider calls = %d, refreshes = %d, want 1", p.calls.Load(), c.Refreshes())
	}
	if !second.ComputedAt.Equal(first.ComputedAt) {
		t.Fatal("expected the cached context to be reused")
	}
}

func TestContextCacheRefreshesAtExpiry(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	p := newFakeProvider()
	c := NewContextCache(p, 30*time.Second)
	c.SetClock(clk.Now)
	ctx := context.Background()

	if _, err := c.Get(ctx, "drone/d1"); err != nil {
		t.Fatal(err)
	}
	// now == expiresAt is no longer fresh.
	clk.Advance(30 * time.Second)
	ec, err := c.Get(ctx, "drone/d1")
	if err != nil {
		t.Fatal(err)
	}
	if p.calls.Load() != 2 {
		t.Fatalf("provider calls = %d, want 2", p.calls.Load())
	}
	if !ec.ComputedAt.Equal(clk.Now()) {
		t.Fatalf("computedAt = %v, want %v", ec.ComputedAt, clk.Now())
	}
}

func TestContextCacheSingleFetchUnderConcurrency(t *testing.T) {
	t.Parallel()

	p := newFakeProvider()
	p.gate = make(chan struct{})
	p.started = make(chan struct{}, 10)
	c := NewContextCache(p, time.Minute)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]fleet.EvaluationContext, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "drone/d1")
		}()
	}

	<-p.started
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	if got := p.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want exactly 1", got)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !results[i].ComputedAt.Equal(results[0].ComputedAt) {
			t.Fatalf("caller %d observed a different context", i)
		}
	}
}

func TestContextCacheErrorSharedAndNotCached(t *testing.T) {
	t.Parallel()

	p := newFakeProvider()
	p.errs = []error{errProviderDown}
	p.gate = make(chan struct{})
	p.started = make(chan struct{}, 10)
	c := NewContextCache(p, time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "drone/d1")
		}()
	}
	<-p.started
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			if !errors.Is(err, domain.ErrCacheRefresh) || !errors.Is(err, errProviderDown) {
				t.Fatalf("expected wrapped CacheRefresh error, got %v", err)
			}
		}
	}
	if failed == 0 {
		t.Fatal("expected the failing refresh to reach its waiters")
	}

	if _, err := c.Get(context.Background(), "drone/d1"); err != nil {
		t.Fatalf("expected a fresh fetch after failure, got %v", err)
	}
}

func TestContextCacheScopesAreIndependent(t *testing.T) {
	t.Parallel()

	p := newFakeProvider()
	c := NewContextCache(p, time.Minute)
	ctx := context.Background()

	a, _ := c.Get(ctx, "drone/a")
	b, _ := c.Get(ctx, "drone/b")
	if a.Scope != "drone/a" || b.Scope != "drone/b" {
		t.Fatalf("scopes = %q, %q", a.Scope, b.Scope)
	}
	if p.calls.Load() != 2 {
		t.Fatalf("provider calls = %d, want 2", p.calls.Load())
	}
}

func TestContextCacheInvalidate(t *testing.T) {
	t.Parallel()

	p := newFakeProvider()
	c := NewContextCache(p, time.Minute)
	ctx := context.Background()

	_, _ = c.Get(ctx, "drone/d1")
	c.Invalidate(ctx, "drone/d1")
	_, _ = c.Get(ctx, "drone/d1")
	if p.calls.Load() != 2 {
		t.Fatalf("provider calls = %d, want 2 after invalidate", p.calls.Load())
	}
}

func TestContextCacheInvalidateDuringRefresh(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		battery = 90.0
	)
	started := make(chan struct{}, 2)
	gate := make(chan struct{})
	var calls atomic.Int64
	p := contextprovider.Func(func(ctx context.Context, scope string) (fleet.Snapshot, error) {
		calls.Add(1)
		mu.Lock()
		batt := battery
		mu.Unlock()
		started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return fleet.Snapshot{}, ctx.Err()
		}
		return fleet.Snapshot{Scope: scope, Drone: &fleet.DroneState{DroneID: "d1", BatteryPct: &batt}}, nil
	})
	c := NewContextCache(p, time.Minute)
	ctx := context.Background()

	type result struct {
		ec  fleet.EvaluationContext
		err error
	}
	get := func() <-chan result {
		ch := make(chan result, 1)
		go func() {
			ec, err := c.Get(ctx, "drone/d1")
			ch <- result{ec, err}
		}()
		return ch
	}

	before := get()
	<-started

	mu.Lock()
	battery = 5
	mu.Unlock()
	c.Invalidate(ctx, "drone/d1")

	after := get()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("get after invalidate joined the stale refresh")
	}
	close(gate)

	old := <-before
	fresh := <-after
	if old.err != nil || fresh.err != nil {
		t.Fatalf("errors = %v, %v", old.err, fresh.err)
	}
	if got := *old.ec.Snapshot.Drone.BatteryPct; got != 90 {
		t.Fatalf("in-flight waiter battery = %v, want 90", got)
	}
	if got := *fresh.ec.Snapshot.Drone.BatteryPct; got != 5 {
		t.Fatalf("post-invalidate battery = %v, want 5", got)
	}

	cached, err := c.Get(ctx, "drone/d1")
	if err != nil {
		t.Fatal(err)
	}
	if got := *cached.Snapshot.Drone.BatteryPct; got != 5 {
		t.Fatalf("cached battery = %v, want 5", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("provider calls = %d, want 2", calls.Load())
	}
}

func TestContextCacheInvalidateDropsStaleSharedWrite(t *testing.T) {
	t.Parallel()

	p := newFakeProvider()
	p.started = make(chan struct{}, 1)
	p.gate = make(chan struct{})
	shared := newMemCache()
	c := NewContextCache(p, time.Minute)
	c.SetShared(shared)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get(ctx, "drone/d1")
	}()
	<-p.started
	c.Invalidate(ctx, "drone/d1")
	close(p.gate)
	<-done

	if _, found, _ := shared.Get(ctx, sharedKeyPrefix+"drone/d1"); found {
		t.Fatal("stale snapshot written to shared tier after invalidate")
	}
	if shared.sets.Load() != 0 {
		t.Fatalf("shared sets = %d, want 0", shared.sets.Load())
	}
}

func TestContextCacheSharedTier(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	shared := newMemCache()

	p1 := newFakeProvider()
	c1 := NewContextCache(p1, time.Minute)
	c1.SetClock(clk.Now)
	c1.SetShared(shared)

	p2 := newFakeProvider()
	c2 := NewContextCache(p2, time.Minute)
	c2.SetClock(clk.Now)
	c2.SetShared(shared)

	ctx := context.Background()
	ec1, err := c1.Get(ctx, "drone/d1")
	if err != nil {
		t.Fatal(err)
	}
	ec2, err := c2.Get(ctx, "drone/d1")
	if err != nil {
		t.Fatal(err)
	}
	if p2.calls.Load() != 0 {
		t.Fatalf("second instance should reuse the shared snapshot, made %d calls", p2.calls.Load())
	}
	if !ec2.ExpiresAt.Equal(ec1.ExpiresAt) {
		t.Fatalf("shared entry must keep its own expiry: %v vs %v", ec2.ExpiresAt, ec1.ExpiresAt)
	}
}

func TestContextCacheIgnoresExpiredSharedEntry(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	shared := newMemCache()
	stale := fleet.NewEvaluationContext("drone/d1", fleet.Snapshot{Scope: "drone/d1"}, clk.Now().Add(-2*time.Minute), time.Minute)
	data, _ := json.Marshal(stale)
	_ = shared.Set(context.Background(), sharedKeyPrefix+"drone/d1", data, time.Hour)

	p := newFakeProvider()
	c := NewContextCache(p, time.Minute)
	c.SetClock(clk.Now)
	c.SetShared(shared)

	ec, err := c.Get(context.Background(), "drone/d1")
	if err != nil {
		t.Fatal(err)
	}
	if p.calls.Load() != 1 {
		t.Fatalf("expired shared entry must not be served; provider calls = %d", p.calls.Load())
	}
	if !ec.Fresh(clk.Now()) {
		t.Fatal("returned context must be fresh")
	}
}

func TestContextCacheCallerCancellation(t *testing.T) {
	t.Parallel()

	p := newFakeProvider()
	p.gate = make(chan struct{})
	c := NewContextCache(p, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "drone/d1")
	if !errors.Is(err, domain.ErrCacheRefresh) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected CacheRefresh wrapping deadline, got %v", err)
	}

	close(p.gate)
	if _, err := c.Get(context.Background(), "drone/d1"); err != nil {
		t.Fatalf("refresh should complete for later callers: %v", err)
	}
	if p.calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls.Load())
	}
}

func TestContextCacheProviderFunc(t *testing.T) {
	t.Parallel()

	provider := contextprovider.Func(func(_ context.Context, scope string) (fleet.Snapshot, error) {
		return fleet.Snapshot{Scope: scope, FleetSize: 3}, nil
	})
	c := NewContextCache(provider, time.Minute)
	if c.TTL() != time.Minute {
		t.Fatalf("ttl = %v", c.TTL())
	}

	ec, err := c.Get(context.Background(), ScopeFleet)
	if err != nil {
		t.Fatal(err)
	}
	if ec.Snapshot.Scope != ScopeFleet || ec.Snapshot.FleetSize != 3 {
		t.Fatalf("unexpected snapshot: %+v", ec.Snapshot)
	}
}
