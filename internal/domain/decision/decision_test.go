package decision

import (
	"math"
	"testing"
	"time"

	"github.com/Strob0t/GroundControl/internal/domain/command"
)

func TestPolicyForBoundary(t *testing.T) {
	tests := []struct {
		score, threshold float64
		want             Policy
	}{
		{0.7, 0.7, PolicyAutoExecute},
		{0.699999, 0.7, PolicyRequireConfirmation},
		{0.9, 0.7, PolicyAutoExecute},
		{0.3, 0.7, PolicyRequireConfirmation},
		{0, 0, PolicyAutoExecute},
		{1, 1, PolicyAutoExecute},
	}
	for _, tt := range tests {
		if got := PolicyFor(tt.score, tt.threshold); got != tt.want {
			t.Errorf("PolicyFor(%v, %v) = %s, want %s", tt.score, tt.threshold, got, tt.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(-0.5) != 0 || Clamp(1.5) != 1 || Clamp(0.4) != 0.4 || Clamp(math.NaN()) != 0 {
		t.Error("clamp out of expected bounds")
	}
	if (RiskScore{Value: math.NaN()}).Valid() {
		t.Error("NaN score must be invalid")
	}
}

func TestStateTerminal(t *testing.T) {
	if StatePending.Terminal() || StateConfirmed.Terminal() {
		t.Error("pending and confirmed are not terminal")
	}
	for _, s := range []ConfirmationState{StateRejected, StateTimedOut, StateExecuted, StateDispatchFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestOutcomeForState(t *testing.T) {
	if OutcomeForState(StateExecuted) != OutcomeConfirmed {
		t.Error("executed confirmation records as confirmed")
	}
	if OutcomeForState(StateDispatchFailed) != OutcomeDispatchFailed {
		t.Error("dispatch failure records as dispatch_failed")
	}
	if OutcomeForState(StateTimedOut) != OutcomeTimedOut {
		t.Error("timeout records as timed_out")
	}
}

func TestFilterMatch(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &Record{
		Decision:   Decision{Request: command.Request{DroneID: "d1"}},
		Outcome:    OutcomeRejected,
		ResolvedAt: base,
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"drone match", Filter{DroneID: "d1"}, true},
		{"drone mismatch", Filter{DroneID: "d2"}, false},
		{"outcome mismatch", Filter{Outcome: OutcomeTimedOut}, false},
		{"since inclusive", Filter{Since: base}, true},
		{"until exclusive", Filter{Until: base}, false},
		{"window", Filter{Since: base.Add(-time.Hour), Until: base.Add(time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(rec); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPageNormalize(t *testing.T) {
	p := Page{Offset: -3, Limit: 0}.Normalize()
	if p.Offset != 0 || p.Limit != DefaultPageLimit {
		t.Errorf("unexpected normalized page %+v", p)
	}
	if got := (Page{Limit: 10000}).Normalize().Limit; got != MaxPageLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxPageLimit, got)
	}
}
