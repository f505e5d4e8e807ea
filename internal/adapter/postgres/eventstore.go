package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/GroundControl/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the decision_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.Outcome) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO decision_events (decision_id, event_type, drone_id, actor, request_id, payload, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.DecisionID, string(ev.Type), ev.DroneID, ev.Actor, ev.RequestID, payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadByDecision returns all events for the given decision in insertion order.
func (s *EventStore) LoadByDecision(ctx context.Context, decisionID string) ([]event.Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM decision_events WHERE decision_id = $1 ORDER BY id ASC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("load events by decision %s: %w", decisionID, err)
	}
	defer rows.Close()

	var events []event.Outcome
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev event.Outcome
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
