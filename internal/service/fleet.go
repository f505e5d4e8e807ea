package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	gcotel "github.com/Strob0t/GroundControl/internal/adapter/otel"
	"github.com/Strob0t/GroundControl/internal/adapter/ws"
	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/command"
	"github.com/Strob0t/GroundControl/internal/domain/drone"
	"github.com/Strob0t/GroundControl/internal/domain/fleet"
	"github.com/Strob0t/GroundControl/internal/port/broadcast"
	"github.com/Strob0t/GroundControl/internal/port/database"
	"github.com/Strob0t/GroundControl/internal/port/messagequeue"
)

// ScopeFleet is the context scope covering the whole fleet without a focus drone.
const ScopeFleet = "fleet"

// ContextInvalidator drops a cached evaluation context.
type ContextInvalidator interface {
	Invalidate(ctx context.Context, scope string)
}

// FleetService is the fleet registry. It validates drones for the decision
// engine, builds context snapshots and applies relayed telemetry.
type FleetService struct {
	store    database.Store
	hub      broadcast.Broadcaster
	contexts ContextInvalidator
	queue    messagequeue.Queue
	metrics  *gcotel.Metrics
}

// NewFleetService creates a FleetService.
func NewFleetService(store database.Store, hub broadcast.Broadcaster) *FleetService {
	return &FleetService{store: store, hub: hub}
}

// SetContextInvalidator sets the cache that is invalidated on telemetry.
func (s *FleetService) SetContextInvalidator(c ContextInvalidator) {
	s.contexts = c
}

// SetQueue sets the message queue telemetry is received from.
func (s *FleetService) SetQueue(q messagequeue.Queue) {
	s.queue = q
}

// SetMetrics sets the optional metric instruments.
func (s *FleetService) SetMetrics(m *gcotel.Metrics) {
	s.metrics = m
}

// maxColorAttempts bounds the search for an unused console color.
const maxColorAttempts = 64

// ListFiltered returns the drones matching filter.
func (s *FleetService) ListFiltered(ctx context.Context, filter drone.ListFilter) ([]drone.Drone, error) {
	return s.store.ListDrones(ctx, filter)
}

// ListByModule returns the active drones flying the given mission module.
func (s *FleetService) ListByModule(ctx context.Context, module string) ([]drone.Drone, error) {
	if module == "" {
		return nil, fmt.Errorf("%w: module is required", domain.ErrValidation)
	}
	active := true
	return s.store.ListDrones(ctx, drone.ListFilter{Active: &active, Module: module})
}

// Get returns a drone by ID.
func (s *FleetService) Get(ctx context.Context, id string) (*drone.Drone, error) {
	return s.store.GetDrone(ctx, id)
}

// GetBySysID returns a drone by its MAVLink system ID.
func (s *FleetService) GetBySysID(ctx context.Context, sysID int) (*drone.Drone, error) {
	if sysID < 1 || sysID > 255 {
		return nil, fmt.Errorf("%w: sysid must be between 1 and 255", domain.ErrValidation)
	}
	return s.store.GetDroneBySysID(ctx, sysID)
}

// Register validates and stores a new drone. A drone registered without a
// color gets a random one no other drone uses.
func (s *FleetService) Register(ctx context.Context, req drone.RegisterRequest) (*drone.Drone, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Color == "" {
		color, err := s.freeColor(ctx)
		if err != nil {
			return nil, err
		}
		req.Color = color
	}
	d, err := s.store.CreateDrone(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("drone registered", "drone_id", d.ID, "sysid", d.SysID)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventDroneRegistered, d)
	}
	return d, nil
}

// Update applies a partial update. A sysid already owned by another drone
// fails with ErrConflict.
func (s *FleetService) Update(ctx context.Context, id string, req drone.UpdateRequest) (*drone.Drone, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.SysID != nil {
		other, err := s.store.GetDroneBySysID(ctx, *req.SysID)
		switch {
		case err == nil && other.ID != id:
			return nil, fmt.Errorf("%w: sysid %d already in use", domain.ErrConflict, *req.SysID)
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	d, err := s.store.UpdateDrone(ctx, id, req)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	slog.Info("drone updated", "drone_id", id)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventDroneUpdated, d)
	}
	return d, nil
}

// UpdateModule switches the mission module of a drone.
func (s *FleetService) UpdateModule(ctx context.Context, m drone.ModuleUpdate) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := s.store.SetDroneModule(ctx, m.DroneID, m.ActiveModule); err != nil {
		return err
	}
	s.invalidate(ctx, m.DroneID)
	slog.Info("drone module updated", "drone_id", m.DroneID, "active_module", m.ActiveModule)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventModuleUpdated, ws.ModuleUpdatedEvent(m))
	}
	return nil
}

// SetActive enables or disables a drone for commanding.
func (s *FleetService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.store.SetDroneActive(ctx, id, active); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	slog.Info("drone activation changed", "drone_id", id, "active", active)
	return nil
}

// Delete removes a drone from the registry.
func (s *FleetService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteDrone(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	slog.Info("drone removed", "drone_id", id)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventDroneRemoved, ws.DroneRemovedEvent{DroneID: id})
	}
	return nil
}

// ValidateDrone returns NotFound for unknown drones and Validation for inactive ones.
func (s *FleetService) ValidateDrone(ctx context.Context, droneID string) error {
	d, err := s.store.GetDrone(ctx, droneID)
	if err != nil {
		return err
	}
	if !d.Active {
		return fmt.Errorf("%w: drone %s is not active", domain.ErrValidation, droneID)
	}
	return nil
}

// FetchContext builds the snapshot for scope. "fleet" covers all active
// drones; "drone/{id}" additionally focuses on that drone.
func (s *FleetService) FetchContext(ctx context.Context, scope string) (fleet.Snapshot, error) {
	var focus string
	switch {
	case scope == ScopeFleet:
	case strings.HasPrefix(scope, command.ScopeForDrone("")):
		focus = strings.TrimPrefix(scope, command.ScopeForDrone(""))
		if focus == "" {
			return fleet.Snapshot{}, fmt.Errorf("%w: empty drone scope", domain.ErrValidation)
		}
	default:
		return fleet.Snapshot{}, fmt.Errorf("%w: unknown scope %q", domain.ErrValidation, scope)
	}

	drones, err := s.store.ListDrones(ctx, drone.ListFilter{})
	if err != nil {
		return fleet.Snapshot{}, fmt.Errorf("list drones: %w", err)
	}

	snap := fleet.Snapshot{Scope: scope}
	for i := range drones {
		d := &drones[i]
		if d.ID == focus {
			st := d.State()
			snap.Drone = &st
		}
		if !d.Active {
			continue
		}
		snap.FleetSize++
		if d.Connected {
			snap.ConnectedCount++
		}
	}
	if focus != "" && snap.Drone == nil {
		return fleet.Snapshot{}, fmt.Errorf("drone %s: %w", focus, domain.ErrNotFound)
	}
	return snap, nil
}

// HandleTelemetry applies a telemetry report and drops the drone's cached context.
func (s *FleetService) HandleTelemetry(ctx context.Context, t *drone.Telemetry) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.store.ApplyTelemetry(ctx, t); err != nil {
		return fmt.Errorf("apply telemetry %s: %w", t.DroneID, err)
	}
	s.invalidate(ctx, t.DroneID)

	if s.metrics != nil {
		s.metrics.TelemetryProcessed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("link_lost", t.LinkLost)))
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventDroneTelemetry, t)
	}
	if t.LinkLost {
		slog.Warn("vehicle link lost", "drone_id", t.DroneID)
	}
	return nil
}

// StartTelemetrySubscriber subscribes to relayed telemetry from the message queue.
func (s *FleetService) StartTelemetrySubscriber(ctx context.Context) (cancel func(), err error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectTelemetryAll, func(msgCtx context.Context, _ string, data []byte) error {
		var p messagequeue.TelemetryPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal telemetry: %w", err)
		}
		return s.HandleTelemetry(msgCtx, &drone.Telemetry{
			DroneID:    p.DroneID,
			Armed:      p.Armed,
			Mode:       p.Mode,
			BatteryPct: p.BatteryPct,
			AltitudeM:  p.AltitudeM,
			LinkLost:   p.LinkLost,
			ReportedAt: p.ReportedAt,
		})
	})
}

func (s *FleetService) freeColor(ctx context.Context) (string, error) {
	drones, err := s.store.ListDrones(ctx, drone.ListFilter{})
	if err != nil {
		return "", fmt.Errorf("list drones: %w", err)
	}
	used := make(map[string]bool, len(drones))
	for i := range drones {
		used[strings.ToUpper(drones[i].Color)] = true
	}
	for range maxColorAttempts {
		if c := drone.RandomColor(); !used[c] {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: no free console color, pass one explicitly", domain.ErrConflict)
}

// invalidate drops the drone's scope and the fleet scope, both of which
// depend on the drone's state.
func (s *FleetService) invalidate(ctx context.Context, droneID string) {
	if s.contexts == nil {
		return
	}
	s.contexts.Invalidate(ctx, command.ScopeForDrone(droneID))
	s.contexts.Invalidate(ctx, ScopeFleet)
}

