package service

import (
	"fmt"
	"math"

	"github.com/Strob0t/GroundControl/internal/config"
	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/command"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/fleet"
)

// Evaluator scores a command request against an evaluation context.
// Implementations must be deterministic for identical inputs.
type Evaluator interface {
	Evaluate(req command.Request, ec fleet.EvaluationContext) (decision.RiskScore, error)
}

// Factor names recorded in RiskScore.Factors.
const (
	FactorBase           = "base"
	FactorDisconnected   = "disconnected"
	FactorDisarmed       = "disarmed"
	FactorGrounded       = "grounded"
	FactorLowBattery     = "low_battery"
	FactorStaleTelemetry = "stale_telemetry"
	FactorFleetDegraded  = "fleet_degraded"
)

var factorOrder = []string{
	FactorBase,
	FactorDisconnected,
	FactorDisarmed,
	FactorGrounded,
	FactorLowBattery,
	FactorStaleTelemetry,
	FactorFleetDegraded,
}

// RiskEvaluator is the weighted-factor evaluator driven by config.Risk.
// A tool's base score is reduced by penalties for the addressed drone's
// state; the result is clamped to [0,1]. Higher means safer to auto-execute.
type RiskEvaluator struct {
	cfg config.Risk
}

// NewRiskEvaluator creates an evaluator. A nil tool map falls back to the built-in profiles.
func NewRiskEvaluator(cfg config.Risk) *RiskEvaluator {
	if cfg.Tools == nil {
		cfg.Tools = config.DefaultToolProfiles()
	}
	return &RiskEvaluator{cfg: cfg}
}

// Evaluate computes the risk score. Errors wrap domain.ErrEvaluation and are
// returned instead of a default score.
func (e *RiskEvaluator) Evaluate(req command.Request, ec fleet.EvaluationContext) (decision.RiskScore, error) {
	profile, ok := e.cfg.Tools[req.ToolName]
	if !ok {
		return decision.RiskScore{}, fmt.Errorf("%w: no risk profile for tool %q", domain.ErrEvaluation, req.ToolName)
	}
	d := ec.Snapshot.Drone
	if d == nil || d.DroneID != req.DroneID {
		return decision.RiskScore{}, fmt.Errorf("%w: context %s has no state for drone %q", domain.ErrEvaluation, ec.Scope, req.DroneID)
	}

	factors := map[string]float64{FactorBase: profile.Base}
	penalize := func(name string, p float64) {
		if p != 0 {
			factors[name] = -p
		}
	}

	if !d.Connected {
		penalize(FactorDisconnected, e.cfg.DisconnectedPenalty)
	}
	if profile.RequiresArmed && !d.Armed {
		penalize(FactorDisarmed, e.cfg.DisarmedPenalty)
	}
	if profile.RequiresAirborne {
		alt, err := feature("altitude_m", d.AltitudeM)
		if err != nil {
			return decision.RiskScore{}, err
		}
		if alt <= 0 {
			penalize(FactorGrounded, e.cfg.GroundedPenalty)
		}
	}
	if profile.BatterySensitive {
		batt, err := feature("battery_pct", d.BatteryPct)
		if err != nil {
			return decision.RiskScore{}, err
		}
		if batt < e.cfg.LowBatteryPct {
			penalize(FactorLowBattery, e.cfg.LowBatteryPenalty)
		}
	}
	if d.LastSeenAt.IsZero() || ec.ComputedAt.Sub(d.LastSeenAt) > e.cfg.StaleTelemetryAfter {
		penalize(FactorStaleTelemetry, e.cfg.StaleTelemetryPenalty)
	}
	if n := ec.Snapshot.FleetSize; n > 0 && ec.Snapshot.ConnectedCount*2 < n {
		penalize(FactorFleetDegraded, e.cfg.FleetDegradedPenalty)
	}

	// Fixed summation order keeps the score bit-for-bit reproducible.
	var sum float64
	for _, name := range factorOrder {
		sum += factors[name]
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return decision.RiskScore{}, fmt.Errorf("%w: non-finite score for tool %q", domain.ErrEvaluation, req.ToolName)
	}
	return decision.RiskScore{Value: decision.Clamp(sum), Factors: factors}, nil
}

func feature(name string, v *float64) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s is missing", domain.ErrEvaluation, name)
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, fmt.Errorf("%w: %s is not a finite number", domain.ErrEvaluation, name)
	}
	return *v, nil
}
