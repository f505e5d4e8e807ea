// Package drone defines the fleet registry entity and relayed telemetry.
package drone

import (
	"fmt"
	"math/rand/v2"
	"net"
	"regexp"
	"time"

	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/fleet"
)

// DefaultActiveModule is the mission module assigned to newly registered drones.
const DefaultActiveModule = "fire-surveillance"

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// reservedIDs collide with static registry routes.
var reservedIDs = map[string]bool{"module": true, "sysid": true}

// RandomColor returns a random #RRGGBB console color.
func RandomColor() string {
	return fmt.Sprintf("#%06X", rand.IntN(1<<24)) //nolint:gosec // display color, not a secret
}

// Drone is a registered vehicle in the fleet registry.
type Drone struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SysID        int            `json:"sysid"`
	IP           string         `json:"ip"`
	Port         int            `json:"port"`
	Color        string         `json:"color"`
	ActiveModule string         `json:"active_module"`
	Active       bool           `json:"active"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Connected    bool           `json:"connected"`
	Armed        bool           `json:"armed"`
	Mode         string         `json:"mode,omitempty"`
	BatteryPct   *float64       `json:"battery_pct,omitempty"`
	AltitudeM    *float64       `json:"altitude_m,omitempty"`
	LastSeenAt   *time.Time     `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// State projects the drone onto the snapshot form the risk evaluator reads.
func (d *Drone) State() fleet.DroneState {
	st := fleet.DroneState{
		DroneID:      d.ID,
		Name:         d.Name,
		SysID:        d.SysID,
		Active:       d.Active,
		Connected:    d.Connected,
		Armed:        d.Armed,
		Mode:         d.Mode,
		ActiveModule: d.ActiveModule,
		BatteryPct:   d.BatteryPct,
		AltitudeM:    d.AltitudeM,
	}
	if d.LastSeenAt != nil {
		st.LastSeenAt = *d.LastSeenAt
	}
	return st
}

// RegisterRequest holds the fields required to register a drone.
type RegisterRequest struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SysID        int            `json:"sysid"`
	IP           string         `json:"ip"`
	Port         int            `json:"port"`
	Color        string         `json:"color,omitempty"`
	ActiveModule string         `json:"active_module,omitempty"`
	Active       *bool          `json:"active,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the registration fields and applies defaults.
func (r *RegisterRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if reservedIDs[r.ID] {
		return fmt.Errorf("%w: id %q is reserved", domain.ErrValidation, r.ID)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if err := validateAddress(r.SysID, r.IP, r.Port); err != nil {
		return err
	}
	if r.Color != "" && !colorPattern.MatchString(r.Color) {
		return fmt.Errorf("%w: color must be a #rrggbb hex value", domain.ErrValidation)
	}
	if r.ActiveModule == "" {
		r.ActiveModule = DefaultActiveModule
	}
	if r.Active == nil {
		active := true
		r.Active = &active
	}
	return nil
}

func validateAddress(sysID int, ip string, port int) error {
	if sysID < 1 || sysID > 255 {
		return fmt.Errorf("%w: sysid must be between 1 and 255", domain.ErrValidation)
	}
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: invalid ip %q", domain.ErrValidation, ip)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535", domain.ErrValidation)
	}
	return nil
}

// UpdateRequest is a partial update of a registered drone. Nil fields are left unchanged.
type UpdateRequest struct {
	Name         *string        `json:"name,omitempty"`
	SysID        *int           `json:"sysid,omitempty"`
	IP           *string        `json:"ip,omitempty"`
	Port         *int           `json:"port,omitempty"`
	Color        *string        `json:"color,omitempty"`
	ActiveModule *string        `json:"active_module,omitempty"`
	Active       *bool          `json:"active,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the fields that are set.
func (r *UpdateRequest) Validate() error {
	if r.Name == nil && r.SysID == nil && r.IP == nil && r.Port == nil && r.Color == nil &&
		r.ActiveModule == nil && r.Active == nil && r.Metadata == nil {
		return fmt.Errorf("%w: no fields to update", domain.ErrValidation)
	}
	if r.Name != nil && *r.Name == "" {
		return fmt.Errorf("%w: name must not be empty", domain.ErrValidation)
	}
	if r.SysID != nil && (*r.SysID < 1 || *r.SysID > 255) {
		return fmt.Errorf("%w: sysid must be between 1 and 255", domain.ErrValidation)
	}
	if r.IP != nil && net.ParseIP(*r.IP) == nil {
		return fmt.Errorf("%w: invalid ip %q", domain.ErrValidation, *r.IP)
	}
	if r.Port != nil && (*r.Port < 1 || *r.Port > 65535) {
		return fmt.Errorf("%w: port must be between 1 and 65535", domain.ErrValidation)
	}
	if r.Color != nil && !colorPattern.MatchString(*r.Color) {
		return fmt.Errorf("%w: color must be a #rrggbb hex value", domain.ErrValidation)
	}
	if r.ActiveModule != nil && *r.ActiveModule == "" {
		return fmt.Errorf("%w: active_module must not be empty", domain.ErrValidation)
	}
	return nil
}

// ModuleUpdate switches the mission module a drone is flying.
type ModuleUpdate struct {
	DroneID      string `json:"drone_id"`
	ActiveModule string `json:"active_module"`
}

// Validate checks that both fields are set.
func (m *ModuleUpdate) Validate() error {
	if m.DroneID == "" {
		return fmt.Errorf("%w: drone_id is required", domain.ErrValidation)
	}
	if m.ActiveModule == "" {
		return fmt.Errorf("%w: active_module is required", domain.ErrValidation)
	}
	return nil
}

// ListFilter narrows a registry listing. The zero value matches every drone.
type ListFilter struct {
	Active *bool
	Module string
}

// Match reports whether d passes the filter.
func (f ListFilter) Match(d *Drone) bool {
	if f.Active != nil && d.Active != *f.Active {
		return false
	}
	return f.Module == "" || d.ActiveModule == f.Module
}

// Telemetry is a state report relayed from the vehicle link.
type Telemetry struct {
	DroneID    string    `json:"drone_id"`
	Armed      bool      `json:"armed"`
	Mode       string    `json:"mode"`
	BatteryPct *float64  `json:"battery_pct,omitempty"`
	AltitudeM  *float64  `json:"altitude_m,omitempty"`
	LinkLost   bool      `json:"link_lost,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// Validate checks a telemetry report before it is applied.
func (t *Telemetry) Validate() error {
	if t.DroneID == "" {
		return fmt.Errorf("%w: drone_id is required", domain.ErrValidation)
	}
	if t.BatteryPct != nil && (*t.BatteryPct < 0 || *t.BatteryPct > 100) {
		return fmt.Errorf("%w: battery_pct out of range", domain.ErrValidation)
	}
	if t.ReportedAt.IsZero() {
		t.ReportedAt = time.Now().UTC()
	}
	return nil
}
