package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/GroundControl/internal/domain/event"
)

// Event type constants for fleet messages. Decision events use their
// event.Type as the message type.
const (
	EventDroneTelemetry  = "drone.telemetry"
	EventDroneRegistered = "drone.registered"
	EventDroneRemoved    = "drone.removed"
	EventDroneUpdated    = "drone.updated"
	EventModuleUpdated   = "drone.module.updated"
)

// ModuleUpdatedEvent is broadcast when a drone switches mission module.
type ModuleUpdatedEvent struct {
	DroneID      string `json:"drone_id"`
	ActiveModule string `json:"active_module"`
}

// DroneRemovedEvent is broadcast when a drone leaves the registry.
type DroneRemovedEvent struct {
	DroneID string `json:"drone_id"`
}

// BroadcastEvent marshals a typed event and broadcasts it to every client.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// Publish forwards a decision outcome to clients watching the fleet or the decision's drone.
func (h *Hub) Publish(ctx context.Context, ev event.Outcome) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal decision event", "type", ev.Type, "error", err)
		return
	}
	h.broadcast(ctx, Message{Type: string(ev.Type), Payload: data}, ev.DroneID)
}
