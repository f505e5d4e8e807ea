package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	gcotel "github.com/Strob0t/GroundControl/internal/adapter/otel"
	"github.com/Strob0t/GroundControl/internal/config"
	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/port/vehiclelink"
	"github.com/Strob0t/GroundControl/internal/resilience"
)

// Dispatcher delivers approved decisions to the vehicle link with bounded
// retries, a per-drone circuit breaker and a global in-flight limit.
type Dispatcher struct {
	link     vehiclelink.Transport
	cfg      config.Dispatch
	breakers *resilience.Set
	sem      *semaphore.Weighted
	now      func() time.Time
	metrics  *gcotel.Metrics
}

// NewDispatcher creates a Dispatcher. A nil breakers set disables circuit breaking.
func NewDispatcher(link vehiclelink.Transport, cfg config.Dispatch, breakers *resilience.Set) *Dispatcher {
	return &Dispatcher{
		link:     link,
		cfg:      cfg,
		breakers: breakers,
		sem:      semaphore.NewWeighted(int64(max(cfg.MaxInFlight, 1))),
		now:      time.Now,
	}
}

// NewLinkBreakers returns a per-drone breaker set that only counts transport
// failures; a vehicle that refused a command is still reachable.
func NewLinkBreakers(cfg config.Breaker) *resilience.Set {
	return resilience.NewSet(cfg.MaxFailures, cfg.Timeout,
		resilience.WithFailurePredicate(func(err error) bool {
			return !errors.Is(err, vehiclelink.ErrRejected)
		}),
	)
}

// SetMetrics sets the optional metric instruments.
func (d *Dispatcher) SetMetrics(m *gcotel.Metrics) {
	d.metrics = m
}

// Dispatch sends the decision's command. It returns an error wrapping
// domain.ErrDispatchRejected for definitive refusals (never retried) and
// domain.ErrDispatch once transient failures exhaust the retry budget.
func (d *Dispatcher) Dispatch(ctx context.Context, dec *decision.Decision) (decision.DispatchResult, error) {
	req := &dec.Request
	ctx, span := gcotel.StartDispatchSpan(ctx, dec.ID, req.DroneID)
	defer span.End()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return decision.DispatchResult{}, fmt.Errorf("%w: %s: %w", domain.ErrDispatch, dec.ID, err)
	}
	defer d.sem.Release(1)

	start := d.now()
	attempts := 0
	var ack vehiclelink.Ack

	backoff := retry.NewExponential(d.cfg.InitialBackoff)
	if d.cfg.MaxBackoff > 0 {
		backoff = retry.WithCappedDuration(d.cfg.MaxBackoff, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(max(d.cfg.MaxAttempts, 1)-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		send := func() error {
			actx := vehiclelink.WithDelivery(ctx, dec.ID, attempts)
			if d.cfg.AttemptTimeout > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(actx, d.cfg.AttemptTimeout)
				defer cancel()
			}
			var err error
			ack, err = d.link.SendCommand(actx, req.DroneID, req.ToolName, req.Parameters)
			return err
		}

		var err error
		if d.breakers != nil {
			err = d.breakers.Get(req.DroneID).Execute(send)
		} else {
			err = send()
		}
		if d.metrics != nil {
			d.metrics.DispatchAttempts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", req.ToolName),
				attribute.Bool("success", err == nil),
			))
		}

		switch {
		case err == nil:
			return nil
		case errors.Is(err, resilience.ErrCircuitOpen), vehiclelink.Definitive(err):
			return err
		default:
			slog.Warn("dispatch attempt failed",
				"decision_id", dec.ID,
				"drone_id", req.DroneID,
				"attempt", attempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
	})

	if d.metrics != nil {
		d.metrics.DispatchDuration.Record(ctx, d.now().Sub(start).Seconds(), metric.WithAttributes(
			attribute.String("tool", req.ToolName),
			attribute.Bool("success", err == nil),
		))
	}

	if err != nil {
		span.RecordError(err)
		if vehiclelink.Definitive(err) {
			return decision.DispatchResult{}, fmt.Errorf("%w: %s after %d attempt(s): %w", domain.ErrDispatchRejected, req.DroneID, attempts, err)
		}
		return decision.DispatchResult{}, fmt.Errorf("%w: %s after %d attempt(s): %w", domain.ErrDispatch, req.DroneID, attempts, err)
	}

	return decision.DispatchResult{
		DecisionID:  dec.ID,
		DroneID:     req.DroneID,
		Attempts:    attempts,
		Ack:         ack.Status,
		CompletedAt: d.now(),
	}, nil
}
