// Package eventstore defines the append-only log of decision outcome events.
package eventstore

import (
	"context"

	"github.com/Strob0t/GroundControl/internal/domain/event"
)

// Store persists outcome events so a decision's lifecycle can be replayed
// after it has left the in-memory ledger.
type Store interface {
	// Append persists a new event.
	Append(ctx context.Context, ev *event.Outcome) error

	// LoadByDecision returns all events for a decision in the order they occurred.
	LoadByDecision(ctx context.Context, decisionID string) ([]event.Outcome, error)
}
