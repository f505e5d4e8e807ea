// Package contextprovider defines the port that supplies fleet snapshots to the context cache.
package contextprovider

import (
	"context"

	"github.com/Strob0t/GroundControl/internal/domain/fleet"
)

// Provider computes a fresh fleet snapshot for a scope. It may be slow and may fail.
type Provider interface {
	FetchContext(ctx context.Context, scope string) (fleet.Snapshot, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, scope string) (fleet.Snapshot, error)

// FetchContext calls f.
func (f Func) FetchContext(ctx context.Context, scope string) (fleet.Snapshot, error) {
	return f(ctx, scope)
}
