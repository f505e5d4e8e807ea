// Package decision defines the decision-and-dispatch domain model:
// risk scores, decisions, pending confirmations and ledger records.
package decision

import (
	"math"
	"time"

	"github.com/Strob0t/GroundControl/internal/domain/command"
)

// DefaultThreshold is the default auto-execute risk threshold.
const DefaultThreshold = 0.7

// RiskScore is a scalar in [0,1] with an optional explanation of contributing factors.
type RiskScore struct {
	Value   float64            `json:"value"`
	Factors map[string]float64 `json:"factors,omitempty"`
}

// Valid reports whether the score is a finite value within [0,1].
func (s RiskScore) Valid() bool {
	return !math.IsNaN(s.Value) && s.Value >= 0 && s.Value <= 1
}

// Clamp bounds v to [0,1]. NaN is mapped to 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Policy is the execution policy chosen for a decision.
type Policy string

const (
	PolicyAutoExecute         Policy = "auto_execute"
	PolicyRequireConfirmation Policy = "require_confirmation"
)

// PolicyFor applies the threshold rule: auto-execute iff score >= threshold.
func PolicyFor(score, threshold float64) Policy {
	if score >= threshold {
		return PolicyAutoExecute
	}
	return PolicyRequireConfirmation
}

// Decision is created once per request and never mutated.
// The outcome is recorded separately as a ledger Record.
type Decision struct {
	ID              string          `json:"id"`
	Request         command.Request `json:"request"`
	RiskScore       RiskScore       `json:"risk_score"`
	Threshold       float64         `json:"threshold"`
	Policy          Policy          `json:"policy"`
	EvaluationError string          `json:"evaluation_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ConfirmationState is a state of the confirmation state machine.
type ConfirmationState string

const (
	StatePending        ConfirmationState = "pending"
	StateConfirmed      ConfirmationState = "confirmed"
	StateRejected       ConfirmationState = "rejected"
	StateTimedOut       ConfirmationState = "timed_out"
	StateExecuted       ConfirmationState = "executed"
	StateDispatchFailed ConfirmationState = "dispatch_failed"
)

// Terminal reports whether no further transition can leave this state.
// Confirmed is transient: it always moves on to Executed or DispatchFailed.
func (s ConfirmationState) Terminal() bool {
	switch s {
	case StateRejected, StateTimedOut, StateExecuted, StateDispatchFailed:
		return true
	default:
		return false
	}
}

// PendingConfirmation tracks a decision awaiting human approval.
type PendingConfirmation struct {
	DecisionID string            `json:"decision_id"`
	State      ConfirmationState `json:"state"`
	OpenedAt   time.Time         `json:"opened_at"`
	Deadline   time.Time         `json:"deadline"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy string            `json:"resolved_by,omitempty"`
}

// DispatchResult describes a command delivered to the vehicle link.
type DispatchResult struct {
	DecisionID  string    `json:"decision_id"`
	DroneID     string    `json:"drone_id"`
	Attempts    int       `json:"attempts"`
	Ack         string    `json:"ack,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
