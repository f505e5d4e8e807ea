// Package command defines the command request submitted against a drone.
package command

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/GroundControl/internal/domain"
)

// toolNamePattern matches snake_case tool identifiers such as "return_to_launch".
var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// maxParameters caps the number of parameters on a single request.
const maxParameters = 32

// Request is a command requested by an agent or operator. It is immutable once created.
type Request struct {
	ID          string         `json:"id"`
	DroneID     string         `json:"drone_id"`
	ToolName    string         `json:"tool_name"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	RequestedBy string         `json:"requested_by"`
	RequestedAt time.Time      `json:"requested_at"`
}

// NewRequest builds a Request with a fresh ID and timestamp.
// Parameters are copied so later changes by the caller are not observed.
func NewRequest(droneID, toolName string, params map[string]any, requestedBy string) Request {
	return Request{
		ID:          uuid.New().String(),
		DroneID:     droneID,
		ToolName:    toolName,
		Parameters:  copyParams(params),
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	}
}

// Validate checks the request is well formed. Errors wrap domain.ErrValidation.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if r.DroneID == "" {
		return fmt.Errorf("%w: drone_id is required", domain.ErrValidation)
	}
	if r.ToolName == "" {
		return fmt.Errorf("%w: tool_name is required", domain.ErrValidation)
	}
	if !toolNamePattern.MatchString(r.ToolName) {
		return fmt.Errorf("%w: invalid tool_name %q", domain.ErrValidation, r.ToolName)
	}
	if r.RequestedBy == "" {
		return fmt.Errorf("%w: requested_by is required", domain.ErrValidation)
	}
	if len(r.Parameters) > maxParameters {
		return fmt.Errorf("%w: too many parameters (max %d)", domain.ErrValidation, maxParameters)
	}
	for k, v := range r.Parameters {
		if k == "" {
			return fmt.Errorf("%w: empty parameter name", domain.ErrValidation)
		}
		if err := validateValue(v); err != nil {
			return fmt.Errorf("%w: parameter %q: %v", domain.ErrValidation, k, err)
		}
	}
	return nil
}

// Scope returns the context-cache scope the request is evaluated in.
func (r *Request) Scope() string {
	return ScopeForDrone(r.DroneID)
}

// ScopeForDrone returns the context-cache scope for a single drone.
func ScopeForDrone(droneID string) string {
	return "drone/" + droneID
}

func validateValue(v any) error {
	switch x := v.(type) {
	case nil, string, bool, int, int32, int64:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("non-finite number")
		}
		return nil
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("non-finite number")
		}
		return nil
	case []any:
		for _, e := range x {
			if err := validateValue(e); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, e := range x {
			if err := validateValue(e); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
}

func copyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
