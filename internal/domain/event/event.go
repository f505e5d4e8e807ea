// Package event defines the typed outcome events published for each decision.
package event

import (
	"time"

	"github.com/Strob0t/GroundControl/internal/domain/decision"
)

// Type identifies the kind of outcome event.
type Type string

const (
	TypeDecisionCreated        Type = "decision.created"
	TypeDecisionAutoExecuted   Type = "decision.autoExecuted"
	TypeDecisionConfirmed      Type = "decision.confirmed"
	TypeDecisionRejected       Type = "decision.rejected"
	TypeDecisionTimedOut       Type = "decision.timedOut"
	TypeDecisionDispatchFailed Type = "decision.dispatchFailed"
)

// Types lists every outcome event type in lifecycle order.
var Types = []Type{
	TypeDecisionCreated,
	TypeDecisionAutoExecuted,
	TypeDecisionConfirmed,
	TypeDecisionRejected,
	TypeDecisionTimedOut,
	TypeDecisionDispatchFailed,
}

// Outcome is a single immutable event in a decision's lifecycle.
type Outcome struct {
	Type       Type            `json:"type"`
	DecisionID string          `json:"decision_id"`
	DroneID    string          `json:"drone_id"`
	ToolName   string          `json:"tool_name"`
	Policy     decision.Policy `json:"policy"`
	RiskScore  float64         `json:"risk_score"`
	Actor      string          `json:"actor,omitempty"`
	Error      string          `json:"error,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// New builds an Outcome for d.
func New(t Type, d *decision.Decision, actor string, at time.Time) Outcome {
	return Outcome{
		Type:       t,
		DecisionID: d.ID,
		DroneID:    d.Request.DroneID,
		ToolName:   d.Request.ToolName,
		Policy:     d.Policy,
		RiskScore:  d.RiskScore.Value,
		Actor:      actor,
		OccurredAt: at,
	}
}

// WithError returns a copy of o carrying err's message.
func (o Outcome) WithError(err error) Outcome {
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// Subject returns the message-queue subject the event is published on.
func (o Outcome) Subject() string {
	return string(o.Type)
}
