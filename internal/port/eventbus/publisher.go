// Package eventbus defines the outbound stream of decision outcome events.
package eventbus

import (
	"context"

	"github.com/Strob0t/GroundControl/internal/domain/event"
)

// Publisher delivers outcome events to subscribers.
// Publish must not block the decision path on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev event.Outcome)
}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

// Publish forwards ev to every publisher.
func (m Multi) Publish(ctx context.Context, ev event.Outcome) {
	for _, p := range m {
		p.Publish(ctx, ev)
	}
}
