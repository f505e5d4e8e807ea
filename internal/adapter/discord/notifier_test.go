package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/GroundControl/internal/port/notifier"
)

var _ notifier.Notifier = (*Notifier)(nil)

func TestSendNotConfigured(t *testing.T) {
	err := NewNotifier("").Send(context.Background(), notifier.Notification{Title: "x"})
	if !errors.Is(err, notifier.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendEmbed(t *testing.T) {
	var got discordWebhook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{
		Title:      "Dispatch failed",
		Message:    "land on d2 was not acknowledged",
		Level:      notifier.LevelError,
		Source:     "decision.dispatchFailed",
		DecisionID: "dec-9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Color != 0xE74C3C {
		t.Errorf("expected error color, got %#x", e.Color)
	}
	if len(e.Fields) != 1 || e.Fields[0].Value != "dec-9" {
		t.Errorf("decision field missing: %+v", e.Fields)
	}
	if e.Footer == nil || e.Footer.Text != "decision.dispatchFailed" {
		t.Errorf("footer = %+v", e.Footer)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{Title: "x"}); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestLevelColor(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{notifier.LevelError, 0xE74C3C},
		{notifier.LevelWarning, 0xF39C12},
		{notifier.LevelInfo, 0x3498DB},
		{"", 0x3498DB},
	}
	for _, tt := range tests {
		if got := levelColor(tt.level); got != tt.want {
			t.Errorf("levelColor(%q) = %#x, want %#x", tt.level, got, tt.want)
		}
	}
}
