package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "groundcontrol"

// Metrics holds all GroundControl metric instruments.
type Metrics struct {
	DecisionsCreated   metric.Int64Counter
	DecisionsResolved  metric.Int64Counter
	PendingDecisions   metric.Int64UpDownCounter
	RiskScore          metric.Float64Histogram
	DispatchAttempts   metric.Int64Counter
	DispatchDuration   metric.Float64Histogram
	ContextRefreshes   metric.Int64Counter
	LedgerEvictions    metric.Int64Counter
	TelemetryProcessed metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.DecisionsCreated, err = meter.Int64Counter("groundcontrol.decisions.created",
		metric.WithDescription("Decisions created, by policy"))
	if err != nil {
		return nil, err
	}

	m.DecisionsResolved, err = meter.Int64Counter("groundcontrol.decisions.resolved",
		metric.WithDescription("Decisions recorded in the ledger, by outcome"))
	if err != nil {
		return nil, err
	}

	m.PendingDecisions, err = meter.Int64UpDownCounter("groundcontrol.decisions.pending",
		metric.WithDescription("Decisions awaiting confirmation"))
	if err != nil {
		return nil, err
	}

	m.RiskScore, err = meter.Float64Histogram("groundcontrol.risk.score",
		metric.WithDescription("Computed risk scores"))
	if err != nil {
		return nil, err
	}

	m.DispatchAttempts, err = meter.Int64Counter("groundcontrol.dispatch.attempts",
		metric.WithDescription("Vehicle link send attempts"))
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("groundcontrol.dispatch.duration_seconds",
		metric.WithDescription("Dispatch duration including retries"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.ContextRefreshes, err = meter.Int64Counter("groundcontrol.context.refreshes",
		metric.WithDescription("Context cache refreshes against the provider"))
	if err != nil {
		return nil, err
	}

	m.LedgerEvictions, err = meter.Int64Counter("groundcontrol.ledger.evictions",
		metric.WithDescription("Records evicted from the bounded ledger"))
	if err != nil {
		return nil, err
	}

	m.TelemetryProcessed, err = meter.Int64Counter("groundcontrol.telemetry.processed",
		metric.WithDescription("Telemetry reports applied to the fleet registry"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
