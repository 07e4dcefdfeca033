package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"faststart/internal/api"
	"faststart/internal/bridge"
	"faststart/internal/config"
	"faststart/internal/daemon"
	"faststart/internal/logging"
	"faststart/internal/pipeline"
	"faststart/internal/registry"
	"faststart/internal/testsupport"
)

type blockingOptimizer struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingOptimizer() *blockingOptimizer {
	return &blockingOptimizer{started: make(chan struct{})}
}

func (b *blockingOptimizer) Optimize(ctx context.Context, _ string, progress pipeline.ProgressFunc) error {
	progress(10, "working")
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return ctx.Err()
}

func newDaemon(t *testing.T, cfg *config.Config, opts daemon.Options) *daemon.Daemon {
	t.Helper()
	if opts.Channels == nil {
		opts.Channels = []bridge.Channel{}
	}
	opts.OpenFiles = func(context.Context) ([]string, error) { return nil, nil }
	d, err := daemon.New(cfg, logging.NewNop(), opts)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func waitIdle(t *testing.T, d *daemon.Daemon) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func mediaDir(t *testing.T) string {
	t.Helper()
	dir := testsupport.MediaDir(t)
	testsupport.WriteMP4(t, dir, "fast.mp4", testsupport.DefaultMP4(true))
	testsupport.WriteMP4(t, dir, "slow.mp4", testsupport.DefaultMP4(false))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestDaemonAddScanOptimize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, daemon.Options{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	dir := mediaDir(t)
	added := d.AddPaths(context.Background(), []string{dir})
	if len(added) != 2 {
		t.Fatalf("expected 2 admitted files, got %d", len(added))
	}
	if again := d.AddPaths(context.Background(), []string{filepath.Join(dir, "fast.mp4")}); len(again) != 0 {
		t.Fatalf("re-adding should admit nothing, got %d", len(again))
	}
	waitIdle(t, d)

	fast, _ := d.Get(filepath.Join(dir, "fast.mp4"))
	slow, _ := d.Get(filepath.Join(dir, "slow.mp4"))
	if fast.Status != registry.StatusOptimized || slow.Status != registry.StatusUnoptimized {
		t.Fatalf("unexpected statuses fast=%s slow=%s", fast.Status, slow.Status)
	}
	if slow.Metadata == nil || slow.Metadata.Width != 1920 {
		t.Fatalf("expected metadata for slow file, got %+v", slow.Metadata)
	}

	result, err := d.OptimizeAll(context.Background())
	if err != nil {
		t.Fatalf("optimize all: %v", err)
	}
	if result.Requested != 1 || result.Optimized != 1 || result.Failed != 0 {
		t.Fatalf("unexpected batch result %+v", result)
	}
	slow, _ = d.Get(slow.Key)
	if slow.Status != registry.StatusOptimized || slow.Progress != 100 {
		t.Fatalf("expected optimized at 100%%, got %s %.0f", slow.Status, slow.Progress)
	}

	rescanned, err := d.Scan(context.Background(), slow.Key)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rescanned.Status != registry.StatusOptimized {
		t.Fatalf("rescan should confirm the rewrite, got %s", rescanned.Status)
	}

	status := d.Status(context.Background())
	if !status.Running || status.Total != 2 || status.Counts[registry.StatusOptimized] != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Cache == nil {
		t.Fatal("expected probe cache stats")
	}
	if len(status.Dependencies) != 1 || status.Dependencies[0].Available {
		t.Fatalf("expected ffprobe reported unavailable, got %+v", status.Dependencies)
	}

	if removed := d.ClearAll(context.Background()); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if len(d.List()) != 0 {
		t.Fatal("registry should be empty after clear")
	}
}

func TestDaemonScanUnknownPath(t *testing.T) {
	d := newDaemon(t, testsupport.NewConfig(t), daemon.Options{})
	if _, err := d.Scan(context.Background(), "/nope.mp4"); err == nil {
		t.Fatal("expected error for untracked path")
	}
	if _, err := d.Optimize(context.Background(), "/nope.mp4"); err == nil {
		t.Fatal("expected error for untracked path")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg, daemon.Options{})
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first: %v", err)
	}
	second := newDaemon(t, cfg, daemon.Options{})
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("second instance should not acquire the lock")
	}
}

func TestDaemonStopRefusesWhileOptimizingUnlessForced(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	optimizer := newBlockingOptimizer()
	d := newDaemon(t, cfg, daemon.Options{Optimizer: optimizer})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	dir := mediaDir(t)
	d.AddPaths(context.Background(), []string{dir})
	waitIdle(t, d)
	slow := filepath.Join(dir, "slow.mp4")
	if !d.TriggerOptimize(slow) {
		t.Fatal("trigger optimize failed")
	}
	select {
	case <-optimizer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("optimizer never started")
	}
	if !d.IsOptimizing() {
		t.Fatal("expected optimization in flight")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Stop(ctx, false); !errors.Is(err, daemon.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if !d.Running() {
		t.Fatal("refused stop must leave the daemon running")
	}
	if err := d.Stop(ctx, true); err != nil {
		t.Fatalf("forced stop: %v", err)
	}
	if d.Running() || d.IsOptimizing() {
		t.Fatal("forced stop should cancel work and stop the daemon")
	}
	entry, _ := d.Get(slow)
	if entry.Status != registry.StatusError {
		t.Fatalf("cancelled optimization should settle as error, got %s", entry.Status)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("a stopped daemon should not restart")
	}
}

func TestDaemonStopRemovesTempFilesFromVisitedFolders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, daemon.Options{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dir := mediaDir(t)
	d.AddPaths(context.Background(), []string{dir})
	waitIdle(t, d)

	leftover := filepath.Join(dir, "slow_tmp_1234.mp4")
	if err := os.WriteFile(leftover, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(context.Background(), false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatalf("expected temp file removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "slow.mp4")); err != nil {
		t.Fatalf("original must stay: %v", err)
	}
}

func TestDaemonServesHTTPAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, daemon.Options{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.AddPaths(context.Background(), []string{mediaDir(t)})
	waitIdle(t, d)

	resp, err := http.Get("http://" + d.APIAddress() + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Running || status.Total != 2 || status.Counts["unoptimized"] != 1 {
		t.Fatalf("unexpected api status %+v", status)
	}
}

type fakeChannel struct{}

func (fakeChannel) Name() string { return "fake" }

func (fakeChannel) Connect(context.Context) (bridge.Subscription, error) {
	return nil, bridge.ErrUnavailable
}

func TestDaemonReportsUnavailableBridge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Bridge.MaxAttempts = 2
	cfg.Bridge.PollIntervalMs = 1
	cfg.Bridge.MaxPollIntervalMs = 2
	d := newDaemon(t, cfg, daemon.Options{Channels: []bridge.Channel{fakeChannel{}}})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		status := d.Status(context.Background())
		if len(status.Bridges) == 1 && status.Bridges[0].State == bridge.StateUnavailable {
			if status.Bridges[0].Connected || status.Bridges[0].Attempts != 2 {
				t.Fatalf("unexpected bridge status %+v", status.Bridges[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("bridge never gave up: %+v", status.Bridges)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
