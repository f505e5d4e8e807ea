// Package vehiclelink defines the outbound port to the vehicle command link.
// The wire format behind it is owned by the adapter.
package vehiclelink

import (
	"context"
	"errors"
)

var (
	// ErrRejected means the vehicle answered and refused the command.
	ErrRejected = errors.New("vehicle rejected command")
	// ErrUnreachable means the vehicle is definitively not reachable (no responder).
	ErrUnreachable = errors.New("vehicle unreachable")
)

// Ack is the vehicle's acknowledgement of a delivered command.
type Ack struct {
	DroneID string `json:"drone_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Transport delivers a command to a drone. Errors wrapping ErrRejected or
// ErrUnreachable are definitive; every other error is treated as transient.
type Transport interface {
	SendCommand(ctx context.Context, droneID, toolName string, params map[string]any) (Ack, error)
}

// Definitive reports whether err must not be retried.
func Definitive(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrUnreachable)
}

type contextKey int

const (
	decisionIDKey contextKey = iota
	attemptKey
)

// WithDelivery tags ctx with the decision being delivered and the attempt
// number, so transports can make redelivery idempotent.
func WithDelivery(ctx context.Context, decisionID string, attempt int) context.Context {
	ctx = context.WithValue(ctx, decisionIDKey, decisionID)
	return context.WithValue(ctx, attemptKey, attempt)
}

// Delivery returns the values stored by WithDelivery.
func Delivery(ctx context.Context) (decisionID string, attempt int) {
	decisionID, _ = ctx.Value(decisionIDKey).(string)
	attempt, _ = ctx.Value(attemptKey).(int)
	return decisionID, attempt
}
