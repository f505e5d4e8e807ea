package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/GroundControl/internal/domain/event"
	"github.com/Strob0t/GroundControl/internal/port/messagequeue"
)

const publishTimeout = 2 * time.Second

// OutcomePublisher publishes decision outcome events on decision.{type}.
type OutcomePublisher struct {
	q messagequeue.Queue
}

// NewOutcomePublisher creates an OutcomePublisher.
func NewOutcomePublisher(q messagequeue.Queue) *OutcomePublisher {
	return &OutcomePublisher{q: q}
}

// Publish implements eventbus.Publisher. Failures are logged, never returned.
func (p *OutcomePublisher) Publish(ctx context.Context, ev event.Outcome) {
	data, err := json.Marshal(payloadFor(ev))
	if err != nil {
		slog.Error("marshal decision event", "type", ev.Type, "error", err)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.q.Publish(pctx, ev.Subject(), data); err != nil {
		slog.Error("publish decision event failed", "type", ev.Type, "decision_id", ev.DecisionID, "error", err)
	}
}

func payloadFor(ev event.Outcome) messagequeue.DecisionEventPayload {
	return messagequeue.DecisionEventPayload{
		Type:       string(ev.Type),
		DecisionID: ev.DecisionID,
		DroneID:    ev.DroneID,
		ToolName:   ev.ToolName,
		Policy:     string(ev.Policy),
		RiskScore:  ev.RiskScore,
		Actor:      ev.Actor,
		Error:      ev.Error,
		OccurredAt: ev.OccurredAt,
	}
}
