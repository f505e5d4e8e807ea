// Package notifier defines the port for alerting operators outside the console.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no destination.
var ErrNotConfigured = errors.New("notifier: not configured")

// Level values.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	Level      string `json:"level"`
	Source     string `json:"source"` // event type, e.g. "decision.timedOut"
	DecisionID string `json:"decision_id,omitempty"`
}

// Notifier sends alerts to one destination.
type Notifier interface {
	// Name returns the provider name, e.g. "slack".
	Name() string

	Send(ctx context.Context, n Notification) error
}
