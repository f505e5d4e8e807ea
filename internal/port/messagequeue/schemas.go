package messagequeue

import "time"

// TelemetryPayload is the schema for vehicle.telemetry.{droneID} messages.
type TelemetryPayload struct {
	DroneID    string    `json:"drone_id"`
	Armed      bool      `json:"armed"`
	Mode       string    `json:"mode"`
	BatteryPct *float64  `json:"battery_pct,omitempty"`
	AltitudeM  *float64  `json:"altitude_m,omitempty"`
	LinkLost   bool      `json:"link_lost,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// CommandRequestPayload is the schema for vehicle.command.{droneID} requests.
type CommandRequestPayload struct {
	DecisionID string         `json:"decision_id"`
	DroneID    string         `json:"drone_id"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Attempt    int            `json:"attempt"`
}

// Command reply statuses.
const (
	ReplyAccepted = "accepted"
	ReplyRejected = "rejected"
)

// CommandReplyPayload is the schema for replies to vehicle.command.{droneID}.
type CommandReplyPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// DecisionEventPayload is the schema for decision.{eventType} messages.
type DecisionEventPayload struct {
	Type       string    `json:"type"`
	DecisionID string    `json:"decision_id"`
	DroneID    string    `json:"drone_id"`
	ToolName   string    `json:"tool_name"`
	Policy     string    `json:"policy"`
	RiskScore  float64   `json:"risk_score"`
	Actor      string    `json:"actor,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
