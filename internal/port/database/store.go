// Package database defines the fleet registry store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/GroundControl/internal/domain/drone"
)

// Store is the port interface for fleet registry persistence. Duplicate
// id, sysid, name or color values fail with domain.ErrConflict.
type Store interface {
	ListDrones(ctx context.Context, filter drone.ListFilter) ([]drone.Drone, error)
	GetDrone(ctx context.Context, id string) (*drone.Drone, error)
	GetDroneBySysID(ctx context.Context, sysID int) (*drone.Drone, error)
	CreateDrone(ctx context.Context, req drone.RegisterRequest) (*drone.Drone, error)
	UpdateDrone(ctx context.Context, id string, req drone.UpdateRequest) (*drone.Drone, error)
	SetDroneActive(ctx context.Context, id string, active bool) error
	SetDroneModule(ctx context.Context, id, module string) error
	DeleteDrone(ctx context.Context, id string) error
	ApplyTelemetry(ctx context.Context, t *drone.Telemetry) error
}
