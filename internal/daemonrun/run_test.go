package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"faststart/internal/ipc"
	"faststart/internal/testsupport"
)

func TestRunServesIPCUntilStopped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, Options{DrainTimeout: 5 * time.Second}) }()

	var client *ipc.Client
	deadline := time.Now().Add(10 * time.Second)
	for {
		c, err := ipc.Dial(cfg.Paths.SocketPath)
		if err == nil {
			client = c
			break
		}
		select {
		case err := <-done:
			if err != nil && strings.Contains(err.Error(), "operation not permitted") {
				t.Skipf("skipping: %v", err)
			}
			t.Fatalf("Run exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon socket never appeared: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	defer client.Close()

	data, err := os.ReadFile(cfg.PIDPath())
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file contents %q", data)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "faststart.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}

	resp, err := client.Stop(false)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !resp.Stopped {
		t.Fatalf("expected stop, got %+v", resp)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after stop")
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, got %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}
