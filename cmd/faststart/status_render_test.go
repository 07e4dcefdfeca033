package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"faststart/internal/ipc"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("faststart", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "faststart:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("faststart", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestEntryStatusKind(t *testing.T) {
	cases := map[string]statusKind{
		"optimized":   statusOK,
		"unoptimized": statusWarn,
		"error":       statusError,
		"scanning":    statusInfo,
	}
	for status, want := range cases {
		if got := entryStatusKind(status); got != want {
			t.Fatalf("entryStatusKind(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestRenderStatusBridgesAndCounts(t *testing.T) {
	status := &ipc.DaemonStatus{
		Running:       true,
		PID:           42,
		Version:       "dev",
		UptimeSeconds: 90,
		SocketPath:    "/run/faststart.sock",
		Total:         3,
		Counts:        map[string]int{"optimized": 2, "error": 1},
		Bridges: []ipc.BridgeStatus{
			{Name: "drop-folder", State: "connected", Connected: true, Attempts: 1},
			{Name: "host", State: "unavailable", Attempts: 50},
		},
		Dependencies: []ipc.DependencyStatus{{Name: "FFprobe", Optional: true, Detail: "binary not found"}},
	}
	var buf bytes.Buffer
	renderStatus(&buf, status, false)
	out := buf.String()
	for _, want := range []string{"Running (pid 42, version dev, up 1m30s)", "drop-folder", "[WARN] unavailable after 50 attempt(s)", "falling back to movie header metadata", "Optimized", "Total"} {
		requireContains(t, out, want)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatBytes(1536); got != "1.5 KiB" {
		t.Fatalf("formatBytes = %q", got)
	}
	if got := formatBytes(12); got != "12 B" {
		t.Fatalf("formatBytes = %q", got)
	}
	if got := formatRuntime(3725); got != "1:02:05" {
		t.Fatalf("formatRuntime = %q", got)
	}
	if got := formatRuntime(65); got != "1:05" {
		t.Fatalf("formatRuntime = %q", got)
	}
	if got := formatDuration(2*time.Hour + 5*time.Minute); got != "2h05m" {
		t.Fatalf("formatDuration = %q", got)
	}
	if got := formatResolution(0, 1080); got != "-" {
		t.Fatalf("formatResolution = %q", got)
	}
}

func TestExitCode(t *testing.T) {
	busy := fmt.Errorf("%w: 1 file(s) still optimizing", errDaemonBusy)
	if got := exitCode(busy); got != exitBusy {
		t.Fatalf("exitCode(busy) = %d, want %d", got, exitBusy)
	}
	if got := exitCode(errors.New("boom")); got != exitFailure {
		t.Fatalf("exitCode(other) = %d, want %d", got, exitFailure)
	}
}

func TestKeepTail(t *testing.T) {
	if got := keepTail("short.mp4", 20); got != "short.mp4" {
		t.Fatalf("unexpected %q", got)
	}
	if got := keepTail("/very/long/path/movie.mp4", 10); got != "…movie.mp4" {
		t.Fatalf("unexpected %q", got)
	}
}
