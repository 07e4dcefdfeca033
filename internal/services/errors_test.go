package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"faststart/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "optimize", "remux", "failed", base)
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
	for _, fragment := range []string{"optimize", "remux", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected generic detail, got %q", err.Error())
	}
}

func TestEventTypeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrProbe, "scan", "atoms", "", errors.New("eof")), "probe_failed"},
		{services.Wrap(services.ErrOptimize, "optimize", "ffmpeg", "", nil), "optimize_failed"},
		{fmt.Errorf("probe: %w", context.DeadlineExceeded), "timeout"},
		{services.Wrap(services.ErrConnectivity, "bridge", "connect", "", nil), "connectivity_timeout"},
		{services.Wrap(services.ErrDegraded, "ingest", "expand", "", nil), "ingestion_degraded"},
		{errors.New("plain"), "failure"},
	}
	for _, tc := range cases {
		if got := services.EventType(tc.err); got != tc.want {
			t.Fatalf("EventType(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestMessage(t *testing.T) {
	if got := services.Message(nil); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
	if got := services.Message(errors.New("  ")); got != "unknown error" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := services.Message(errors.New("disk full")); got != "disk full" {
		t.Fatalf("expected verbatim message, got %q", got)
	}
}
