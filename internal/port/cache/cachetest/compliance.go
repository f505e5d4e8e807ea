// Package cachetest provides a compliance suite shared by every cache.Cache adapter.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/GroundControl/internal/port/cache"
)

// Run runs the standard compliance test suite against c.
// Keys are prefixed so the suite can run against a shared backend.
func Run(t *testing.T, c cache.Cache, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := func(k string) string { return prefix + k }

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, key("scope-a"), []byte(`{"scope":"drone/a"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, key("scope-a"))
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"scope":"drone/a"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, key("nonexistent"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, key("del"), []byte("x"), time.Minute)
		if err := c.Delete(ctx, key("del")); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, key("del"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, key("never-existed")); err != nil {
			t.Fatalf("Delete of nonexistent key should not error: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, key("ow"), []byte("v1"), time.Minute)
		_ = c.Set(ctx, key("ow"), []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, key("ow"))
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})
}

// RunReserver runs Run plus the create-if-absent checks against r.
func RunReserver(t *testing.T, r cache.Reserver, prefix string) {
	t.Helper()
	Run(t, r, prefix)

	ctx := context.Background()
	key := func(k string) string { return prefix + k }

	t.Run("AddClaimsOnce", func(t *testing.T) {
		_ = r.Delete(ctx, key("claim"))
		ok, err := r.Add(ctx, key("claim"), []byte("first"), time.Minute)
		if err != nil || !ok {
			t.Fatalf("first Add = %v, %v; want true", ok, err)
		}
		ok, err = r.Add(ctx, key("claim"), []byte("second"), time.Minute)
		if err != nil || ok {
			t.Fatalf("second Add = %v, %v; want false", ok, err)
		}
		val, _, _ := r.Get(ctx, key("claim"))
		if string(val) != "first" {
			t.Fatalf("value = %q, want first", val)
		}
	})

	t.Run("AddAfterDelete", func(t *testing.T) {
		_ = r.Delete(ctx, key("reclaim"))
		_, _ = r.Add(ctx, key("reclaim"), []byte("v1"), time.Minute)
		if err := r.Delete(ctx, key("reclaim")); err != nil {
			t.Fatal(err)
		}
		ok, err := r.Add(ctx, key("reclaim"), []byte("v2"), time.Minute)
		if err != nil || !ok {
			t.Fatalf("Add after Delete = %v, %v; want true", ok, err)
		}
	})

	t.Run("SetOverClaim", func(t *testing.T) {
		_, _ = r.Add(ctx, key("complete"), []byte("pending"), time.Minute)
		if err := r.Set(ctx, key("complete"), []byte("done"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, _ := r.Get(ctx, key("complete"))
		if !found || string(val) != "done" {
			t.Fatalf("value = %q (found=%v), want done", val, found)
		}
	})
}
