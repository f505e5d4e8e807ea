// Package fleet defines the fleet state snapshot the risk evaluator scores against.
package fleet

import "time"

// DroneState is the last relayed state of a single drone.
type DroneState struct {
	DroneID      string    `json:"drone_id"`
	Name         string    `json:"name"`
	SysID        int       `json:"sysid"`
	Active       bool      `json:"active"`
	Connected    bool      `json:"connected"`
	Armed        bool      `json:"armed"`
	Mode         string    `json:"mode,omitempty"`
	ActiveModule string    `json:"active_module,omitempty"`
	BatteryPct   *float64  `json:"battery_pct,omitempty"`
	AltitudeM    *float64  `json:"altitude_m,omitempty"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Snapshot is the fleet state for one scope. The decision engine treats it as opaque.
type Snapshot struct {
	Scope          string      `json:"scope"`
	Drone          *DroneState `json:"drone,omitempty"`
	FleetSize      int         `json:"fleet_size"`
	ConnectedCount int         `json:"connected_count"`
}

// EvaluationContext is a time-bounded snapshot owned by the context cache.
// It is never mutated after creation, only replaced.
type EvaluationContext struct {
	Scope      string    `json:"scope"`
	Snapshot   Snapshot  `json:"snapshot"`
	ComputedAt time.Time `json:"computed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NewEvaluationContext stamps a snapshot with its computation time and TTL.
func NewEvaluationContext(scope string, snap Snapshot, now time.Time, ttl time.Duration) EvaluationContext {
	return EvaluationContext{
		Scope:      scope,
		Snapshot:   snap,
		ComputedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Fresh reports whether the context may still be served at now.
func (c EvaluationContext) Fresh(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}
