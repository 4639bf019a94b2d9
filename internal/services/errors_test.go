package services_test

import (
	"errors"
	"strings"
	"testing"

	"reelflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "renderer", "submit", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"renderer", "submit", "request failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "store", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "store") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestDetailsClassification(t *testing.T) {
	cause := errors.New("connection reset")
	err := services.WithHint(
		services.Wrap(services.ErrTransient, "captioner", "poll", "status request failed", cause),
		"check captioner availability",
	)
	details := services.Details(err)
	if details.Kind != services.KindTransient {
		t.Fatalf("unexpected kind %q", details.Kind)
	}
	if details.Component != "captioner" || details.Operation != "poll" {
		t.Fatalf("unexpected details %+v", details)
	}
	if details.Hint != "check captioner availability" {
		t.Fatalf("unexpected hint %q", details.Hint)
	}
	if details.Cause != cause {
		t.Fatalf("expected root cause, got %v", details.Cause)
	}

	plain := errors.New("plain")
	if got := services.Details(plain); got.Kind != services.KindUnknown || got.Cause != plain {
		t.Fatalf("unexpected details for plain error %+v", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", services.Wrap(services.ErrTransient, "store", "write", "", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "renderer", "poll", "", nil), true},
		{"validation", services.Wrap(services.ErrValidation, "webhooks", "parse", "", nil), false},
		{"not found", services.Wrap(services.ErrNotFound, "store", "get", "", nil), false},
		{"unknown", errors.New("x"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}
