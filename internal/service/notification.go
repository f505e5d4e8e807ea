package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/event"
	"github.com/Strob0t/GroundControl/internal/port/notifier"
)

const defaultSendTimeout = 5 * time.Second

// defaultAlertEvents are the event types that need an operator when no
// explicit list is configured.
var defaultAlertEvents = []event.Type{
	event.TypeDecisionCreated,
	event.TypeDecisionTimedOut,
	event.TypeDecisionDispatchFailed,
}

// NotificationService turns decision events into operator alerts and sends
// them to every configured notifier. It implements eventbus.Publisher so it
// can sit behind the async event bus.
type NotificationService struct {
	notifiers   []notifier.Notifier
	enabled     map[event.Type]bool
	sendTimeout time.Duration
}

// NewNotificationService creates a NotificationService. enabledEvents lists
// event types to alert on; empty selects the defaults.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string, sendTimeout time.Duration) *NotificationService {
	enabled := make(map[event.Type]bool)
	for _, e := range enabledEvents {
		enabled[event.Type(e)] = true
	}
	if len(enabled) == 0 {
		for _, t := range defaultAlertEvents {
			enabled[t] = true
		}
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &NotificationService{
		notifiers:   notifiers,
		enabled:     enabled,
		sendTimeout: sendTimeout,
	}
}

// Publish implements eventbus.Publisher.
func (s *NotificationService) Publish(ctx context.Context, ev event.Outcome) {
	if len(s.notifiers) == 0 || !s.enabled[ev.Type] {
		return
	}
	n, ok := alertFor(&ev)
	if !ok {
		return
	}
	s.Notify(ctx, n)
}

// Notify sends n to all notifiers. Errors are logged and do not stop
// delivery to the others.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	for _, provider := range s.notifiers {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTimeout)
		err := provider.Send(sendCtx, n)
		cancel()
		if err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"decision_id", n.DecisionID,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "decision_id", n.DecisionID)
	}
}

// NotifierCount returns the number of configured notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}

// alertFor maps an event to an alert. Auto-executed creations and
// confirmations need no operator and produce none.
func alertFor(ev *event.Outcome) (notifier.Notification, bool) {
	n := notifier.Notification{
		Source:     string(ev.Type),
		DecisionID: ev.DecisionID,
	}
	subject := fmt.Sprintf("%s on drone %s (risk score %.2f)", ev.ToolName, ev.DroneID, ev.RiskScore)

	switch ev.Type {
	case event.TypeDecisionCreated:
		if ev.Policy != decision.PolicyRequireConfirmation {
			return n, false
		}
		n.Title = "Confirmation required"
		n.Level = notifier.LevelWarning
		n.Message = subject + " is waiting for an operator."
		if ev.Error != "" {
			n.Message += " Risk evaluation failed: " + ev.Error
		}
	case event.TypeDecisionTimedOut:
		n.Title = "Confirmation timed out"
		n.Level = notifier.LevelWarning
		n.Message = subject + " was not confirmed in time and will not be sent."
	case event.TypeDecisionDispatchFailed:
		n.Title = "Dispatch failed"
		n.Level = notifier.LevelError
		n.Message = subject + " could not be delivered: " + ev.Error
	case event.TypeDecisionRejected:
		n.Title = "Command rejected"
		n.Level = notifier.LevelInfo
		n.Message = subject + " was rejected by " + ev.Actor + "."
	default:
		return n, false
	}
	return n, true
}
