// Package registry defines the fleet registry identity check used before a command is evaluated.
package registry

import "context"

// Registry validates that a drone may receive commands.
// Implementations return errors wrapping domain.ErrNotFound for unknown
// drones and domain.ErrValidation for drones that are not active.
type Registry interface {
	ValidateDrone(ctx context.Context, droneID string) error
}
