package decision

import "time"

// Outcome is the final outcome of a decision as recorded in the ledger.
type Outcome string

const (
	OutcomeAutoExecuted   Outcome = "auto_executed"
	OutcomeConfirmed      Outcome = "confirmed"
	OutcomeRejected       Outcome = "rejected"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// ValidOutcome reports whether s names a known outcome.
func ValidOutcome(s string) bool {
	switch Outcome(s) {
	case OutcomeAutoExecuted, OutcomeConfirmed, OutcomeRejected, OutcomeTimedOut, OutcomeDispatchFailed:
		return true
	}
	return false
}

// OutcomeForState maps a terminal confirmation state to its ledger outcome.
func OutcomeForState(s ConfirmationState) Outcome {
	switch s {
	case StateExecuted, StateConfirmed:
		return OutcomeConfirmed
	case StateRejected:
		return OutcomeRejected
	case StateTimedOut:
		return OutcomeTimedOut
	default:
		return OutcomeDispatchFailed
	}
}

// Record is an immutable ledger entry.
type Record struct {
	Decision   Decision        `json:"decision"`
	Outcome    Outcome         `json:"outcome"`
	ResolvedAt time.Time       `json:"resolved_at"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
	Error      string          `json:"error,omitempty"`
	Dispatch   *DispatchResult `json:"dispatch,omitempty"`
}

// Filter selects ledger records. Zero fields match everything.
type Filter struct {
	DroneID string
	Outcome Outcome
	Since   time.Time
	Until   time.Time
}

// Match reports whether r satisfies the filter. Since is inclusive, Until exclusive.
func (f Filter) Match(r *Record) bool {
	if f.DroneID != "" && r.Decision.Request.DroneID != f.DroneID {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && r.ResolvedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.ResolvedAt.Before(f.Until) {
		return false
	}
	return true
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page is offset pagination over the ledger.
type Page struct {
	Offset int
	Limit  int
}

// Normalize applies defaults and bounds to the page.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}
