package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	gcotel "github.com/Strob0t/GroundControl/internal/adapter/otel"
	"github.com/Strob0t/GroundControl/internal/config"
	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/command"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/event"
	"github.com/Strob0t/GroundControl/internal/domain/fleet"
	"github.com/Strob0t/GroundControl/internal/logger"
	"github.com/Strob0t/GroundControl/internal/port/eventbus"
	"github.com/Strob0t/GroundControl/internal/port/ledgerstore"
	"github.com/Strob0t/GroundControl/internal/port/registry"
)

// ErrEngineClosed is returned by Submit after Shutdown.
var ErrEngineClosed = errors.New("decision engine is shut down")

const archiveTimeout = 5 * time.Second

// ContextSource supplies evaluation contexts by scope.
type ContextSource interface {
	Get(ctx context.Context, scope string) (fleet.EvaluationContext, error)
}

// CommandDispatcher delivers an approved decision to the fleet.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, d *decision.Decision) (decision.DispatchResult, error)
}

// Submission is the immediate result of Submit. Record is set for
// auto-executed decisions; Pending is set when confirmation is required.
type Submission struct {
	Decision decision.Decision             `json:"decision"`
	Record   *decision.Record              `json:"record,omitempty"`
	Pending  *decision.PendingConfirmation `json:"pending,omitempty"`
}

// DecisionView is a decision with whichever lifecycle data currently exists for it.
type DecisionView struct {
	Decision decision.Decision             `json:"decision"`
	Pending  *decision.PendingConfirmation `json:"pending,omitempty"`
	Record   *decision.Record              `json:"record,omitempty"`
}

// EngineDeps are the collaborators of a DecisionEngine.
type EngineDeps struct {
	Contexts   ContextSource
	Evaluator  Evaluator
	Dispatcher CommandDispatcher
	Ledger     *Ledger
	Publisher  eventbus.Publisher  // optional
	Registry   registry.Registry   // optional
	Archive    ledgerstore.Archive // optional
}

// DecisionEngine turns command requests into decisions, auto-executes those
// at or above the threshold and holds the rest for confirmation.
type DecisionEngine struct {
	cfg        config.Decision
	contexts   ContextSource
	evaluator  Evaluator
	dispatcher CommandDispatcher
	ledger     *Ledger
	publisher  eventbus.Publisher
	registry   registry.Registry
	archive    ledgerstore.Archive
	pending    *confirmationSet

	now     func() time.Time
	metrics *gcotel.Metrics

	closed    atomic.Bool
	archiveWg sync.WaitGroup
}

// NewDecisionEngine creates a DecisionEngine.
func NewDecisionEngine(cfg config.Decision, deps EngineDeps) *DecisionEngine {
	e := &DecisionEngine{
		cfg:        cfg,
		contexts:   deps.Contexts,
		evaluator:  deps.Evaluator,
		dispatcher: deps.Dispatcher,
		ledger:     deps.Ledger,
		publisher:  deps.Publisher,
		registry:   deps.Registry,
		archive:    deps.Archive,
		pending:    newConfirmationSet(),
		now:        time.Now,
	}
	if e.publisher == nil {
		e.publisher = eventbus.Multi(nil)
	}
	if e.ledger == nil {
		e.ledger = NewLedger(cfg.HistoryLimit)
	}
	e.ledger.OnEvict(func(rec decision.Record) {
		slog.Debug("ledger evicted record", "decision_id", rec.Decision.ID, "outcome", rec.Outcome)
		if e.metrics != nil {
			e.metrics.LedgerEvictions.Add(context.Background(), 1)
		}
	})
	return e
}

// SetMetrics sets the optional metric instruments.
func (e *DecisionEngine) SetMetrics(m *gcotel.Metrics) {
	e.metrics = m
}

// SetClock overrides the time source used for timestamps and deadlines.
// Timers still run on wall-clock durations.
func (e *DecisionEngine) SetClock(now func() time.Time) {
	e.now = now
}

// Threshold returns the configured auto-execute threshold.
func (e *DecisionEngine) Threshold() float64 {
	return e.cfg.AutoExecuteRiskThreshold
}

// Submit evaluates req and either dispatches it at once or opens a
// confirmation. Validation, registry and context refresh failures are
// returned; evaluation failures are not, they force confirmation instead.
func (e *DecisionEngine) Submit(ctx context.Context, req command.Request) (*Submission, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := gcotel.StartSubmitSpan(ctx, req.ID, req.DroneID, req.ToolName)
	defer span.End()

	if e.registry != nil {
		if err := e.registry.ValidateDrone(ctx, req.DroneID); err != nil {
			return nil, fmt.Errorf("drone %s: %w", req.DroneID, err)
		}
	}

	ec, err := e.contexts.Get(ctx, req.Scope())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	dec := e.decide(ctx, req, ec)
	span.SetAttributes(
		attribute.String("decision.id", dec.ID),
		attribute.String("decision.policy", string(dec.Policy)),
		attribute.Float64("risk.score", dec.RiskScore.Value),
	)

	e.emit(ctx, event.New(event.TypeDecisionCreated, &dec, req.RequestedBy, dec.CreatedAt), dec.EvaluationError)

	if dec.Policy == decision.PolicyAutoExecute {
		rec := e.execute(ctx, &dec)
		return &Submission{Decision: dec, Record: &rec}, nil
	}

	c := e.open(dec)
	p := c.Snapshot()
	return &Submission{Decision: dec, Pending: &p}, nil
}

// decide scores the request and applies the threshold. Any evaluator failure
// yields a zero score and RequireConfirmation.
func (e *DecisionEngine) decide(ctx context.Context, req command.Request, ec fleet.EvaluationContext) decision.Decision {
	dec := decision.Decision{
		ID:        uuid.New().String(),
		Request:   req,
		Threshold: e.cfg.AutoExecuteRiskThreshold,
		CreatedAt: e.now(),
	}

	score, err := e.evaluator.Evaluate(req, ec)
	if err == nil && !score.Valid() {
		err = fmt.Errorf("%w: score %v outside [0,1]", domain.ErrEvaluation, score.Value)
	}
	if err != nil {
		slog.WarnContext(ctx, "risk evaluation failed, requiring confirmation",
			"decision_id", dec.ID,
			"drone_id", req.DroneID,
			"tool", req.ToolName,
			"error", err,
		)
		dec.RiskScore = decision.RiskScore{Value: 0}
		dec.Policy = decision.PolicyRequireConfirmation
		dec.EvaluationError = err.Error()
	} else {
		dec.RiskScore = score
		dec.Policy = decision.PolicyFor(score.Value, dec.Threshold)
	}

	if e.metrics != nil {
		e.metrics.DecisionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", string(dec.Policy))))
		e.metrics.RiskScore.Record(ctx, dec.RiskScore.Value, metric.WithAttributes(attribute.String("tool", req.ToolName)))
	}

	slog.InfoContext(ctx, "decision created",
		"decision_id", dec.ID,
		"drone_id", req.DroneID,
		"tool", req.ToolName,
		"risk_score", dec.RiskScore.Value,
		"threshold", dec.Threshold,
		"policy", dec.Policy,
	)
	return dec
}

// execute dispatches an auto-executed decision and records the outcome.
func (e *DecisionEngine) execute(ctx context.Context, dec *decision.Decision) decision.Record {
	res, err := e.dispatcher.Dispatch(ctx, dec)
	rec := decision.Record{
		Decision:   *dec,
		Outcome:    decision.OutcomeAutoExecuted,
		ResolvedAt: e.now(),
		ResolvedBy: dec.Request.RequestedBy,
	}
	evType := event.TypeDecisionAutoExecuted
	if err != nil {
		slog.ErrorContext(ctx, "auto-execute dispatch failed", "decision_id", dec.ID, "drone_id", dec.Request.DroneID, "error", err)
		rec.Outcome = decision.OutcomeDispatchFailed
		rec.Error = err.Error()
		evType = event.TypeDecisionDispatchFailed
	} else {
		rec.Dispatch = &res
	}

	e.record(ctx, rec)
	e.emit(ctx, event.New(evType, dec, rec.ResolvedBy, rec.ResolvedAt), rec.Error)
	return rec
}

// open registers a confirmation and arms its timeout.
func (e *DecisionEngine) open(dec decision.Decision) *Confirmation {
	timeout := e.cfg.ConfirmationTimeout
	c := newConfirmation(dec, e.now(), timeout)
	e.pending.add(c)
	c.arm(timeout, func() { e.expire(c) })

	if e.metrics != nil {
		e.metrics.PendingDecisions.Add(context.Background(), 1)
	}
	slog.Info("confirmation opened", "decision_id", dec.ID, "deadline", c.deadline)
	return c
}

// Confirm approves a pending decision and dispatches it synchronously.
// A confirm at or after the deadline resolves the decision as timed out.
func (e *DecisionEngine) Confirm(ctx context.Context, decisionID, actor string) (decision.Record, error) {
	ctx, span := gcotel.StartResolveSpan(ctx, decisionID, "confirm")
	defer span.End()

	c, err := e.lookupPending(decisionID)
	if err != nil {
		return decision.Record{}, err
	}

	if c.expired(e.now()) {
		if c.tryResolve() {
			c.disarm()
			e.timeOut(context.WithoutCancel(ctx), c, "")
		}
		return decision.Record{}, fmt.Errorf("%w: %s timed out", domain.ErrAlreadyResolved, decisionID)
	}
	if !c.tryResolve() {
		return decision.Record{}, fmt.Errorf("%w: %s", domain.ErrAlreadyResolved, decisionID)
	}
	c.disarm()

	dec := c.Decision()
	c.transition(decision.StateConfirmed, e.now(), actor)
	e.emit(ctx, event.New(event.TypeDecisionConfirmed, &dec, actor, e.now()), "")

	// The decision is committed from here on; the caller going away must not abort delivery.
	res, dispatchErr := e.dispatcher.Dispatch(context.WithoutCancel(ctx), &dec)
	now := e.now()
	rec := decision.Record{
		Decision:   dec,
		Outcome:    decision.OutcomeConfirmed,
		ResolvedAt: now,
		ResolvedBy: actor,
	}
	if dispatchErr != nil {
		slog.ErrorContext(ctx, "confirmed dispatch failed", "decision_id", decisionID, "error", dispatchErr)
		c.transition(decision.StateDispatchFailed, now, "")
		rec.Outcome = decision.OutcomeDispatchFailed
		rec.Error = dispatchErr.Error()
	} else {
		c.transition(decision.StateExecuted, now, "")
		rec.Dispatch = &res
	}

	e.finish(ctx, c, rec)
	if dispatchErr != nil {
		e.emit(ctx, event.New(event.TypeDecisionDispatchFailed, &dec, actor, now), rec.Error)
	}
	return rec, nil
}

// Reject refuses a pending decision. The dispatcher is never invoked.
func (e *DecisionEngine) Reject(ctx context.Context, decisionID, actor string) (decision.Record, error) {
	ctx, span := gcotel.StartResolveSpan(ctx, decisionID, "reject")
	defer span.End()

	c, err := e.lookupPending(decisionID)
	if err != nil {
		return decision.Record{}, err
	}
	if !c.tryResolve() {
		return decision.Record{}, fmt.Errorf("%w: %s", domain.ErrAlreadyResolved, decisionID)
	}
	c.disarm()

	now := e.now()
	c.transition(decision.StateRejected, now, actor)
	dec := c.Decision()
	rec := decision.Record{
		Decision:   dec,
		Outcome:    decision.OutcomeRejected,
		ResolvedAt: now,
		ResolvedBy: actor,
	}
	e.finish(ctx, c, rec)
	e.emit(ctx, event.New(event.TypeDecisionRejected, &dec, actor, now), "")
	return rec, nil
}

// expire runs on the confirmation's timer goroutine.
func (e *DecisionEngine) expire(c *Confirmation) {
	if !c.tryResolve() {
		return
	}
	e.timeOut(context.Background(), c, "")
}

// timeOut records a fail-closed timeout. The caller must hold the resolution.
// A non-empty reason is kept on the record and the event.
func (e *DecisionEngine) timeOut(ctx context.Context, c *Confirmation, reason string) {
	now := e.now()
	c.transition(decision.StateTimedOut, now, "")
	dec := c.Decision()
	rec := decision.Record{
		Decision:   dec,
		Outcome:    decision.OutcomeTimedOut,
		ResolvedAt: now,
		Error:      reason,
	}
	slog.Warn("confirmation timed out", "decision_id", dec.ID, "drone_id", dec.Request.DroneID, "reason", reason)
	e.finish(ctx, c, rec)
	e.emit(ctx, event.New(event.TypeDecisionTimedOut, &dec, "", now), reason)
}

// finish appends the record and only then drops the live confirmation, so a
// concurrent lookup always finds one or the other.
func (e *DecisionEngine) finish(ctx context.Context, c *Confirmation, rec decision.Record) {
	e.record(ctx, rec)
	e.pending.remove(c.decision.ID)
	if e.metrics != nil {
		e.metrics.PendingDecisions.Add(ctx, -1)
	}
}

func (e *DecisionEngine) record(ctx context.Context, rec decision.Record) {
	e.ledger.Append(rec)
	if e.metrics != nil {
		e.metrics.DecisionsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(rec.Outcome))))
	}
	slog.InfoContext(ctx, "decision recorded",
		"decision_id", rec.Decision.ID,
		"outcome", rec.Outcome,
		"resolved_by", rec.ResolvedBy,
	)

	if e.archive == nil {
		return
	}
	e.archiveWg.Add(1)
	go func() {
		defer e.archiveWg.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := e.archive.AppendRecord(actx, &rec); err != nil {
			slog.Error("archive decision record failed", "decision_id", rec.Decision.ID, "error", err)
		}
	}()
}

func (e *DecisionEngine) emit(ctx context.Context, ev event.Outcome, errMsg string) {
	ev.Error = errMsg
	ev.RequestID = logger.RequestID(ctx)
	e.publisher.Publish(ctx, ev)
}

// lookupPending returns the live confirmation, or AlreadyResolved when the
// decision is in the ledger, or NotFound.
func (e *DecisionEngine) lookupPending(decisionID string) (*Confirmation, error) {
	if c, ok := e.pending.get(decisionID); ok {
		return c, nil
	}
	if _, ok := e.ledger.Find(decisionID); ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyResolved, decisionID)
	}
	return nil, fmt.Errorf("decision %s: %w", decisionID, domain.ErrNotFound)
}

// Get returns a decision that is pending or still held by the ledger.
func (e *DecisionEngine) Get(decisionID string) (*DecisionView, error) {
	if c, ok := e.pending.get(decisionID); ok {
		p := c.Snapshot()
		return &DecisionView{Decision: c.Decision(), Pending: &p}, nil
	}
	if rec, ok := e.ledger.Find(decisionID); ok {
		return &DecisionView{Decision: rec.Decision, Record: &rec}, nil
	}
	return nil, fmt.Errorf("decision %s: %w", decisionID, domain.ErrNotFound)
}

// Pending lists decisions awaiting confirmation, oldest first.
func (e *DecisionEngine) Pending() []DecisionView {
	live := e.pending.list()
	out := make([]DecisionView, 0, len(live))
	for _, c := range live {
		p := c.Snapshot()
		out = append(out, DecisionView{Decision: c.Decision(), Pending: &p})
	}
	return out
}

// ListHistory lists ledger records in insertion order.
func (e *DecisionEngine) ListHistory(filter decision.Filter, page decision.Page) []decision.Record {
	return e.ledger.List(filter, page)
}

// ListArchived lists records from the durable archive, including those
// already evicted from the in-memory ledger.
func (e *DecisionEngine) ListArchived(ctx context.Context, filter decision.Filter, page decision.Page) ([]decision.Record, error) {
	if e.archive == nil {
		return nil, fmt.Errorf("decision archive: %w", domain.ErrNotFound)
	}
	return e.archive.ListRecords(ctx, filter, page.Normalize())
}

// shutdownReason marks confirmations closed by Shutdown.
const shutdownReason = "engine shut down"

// Shutdown stops accepting submissions and fails every pending confirmation
// closed as TimedOut, so each one reaches the ledger and the archive without
// dispatching. It then waits for in-flight archive writes.
func (e *DecisionEngine) Shutdown() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	ctx := context.Background()
	closed := 0
	for _, c := range e.pending.list() {
		c.disarm()
		if !c.tryResolve() {
			continue
		}
		e.timeOut(ctx, c, shutdownReason)
		closed++
	}
	e.archiveWg.Wait()
	slog.Info("decision engine stopped", "timed_out", closed, "ledger_size", e.ledger.Len())
}
