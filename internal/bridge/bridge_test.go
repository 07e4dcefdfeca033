package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"faststart/internal/logging"
	"faststart/internal/registry"
	"faststart/internal/services"
)

type recordingAdmitter struct {
	mu      sync.Mutex
	batches [][]string
	got     chan struct{}
}

func newRecordingAdmitter() *recordingAdmitter {
	return &recordingAdmitter{got: make(chan struct{}, 16)}
}

func (a *recordingAdmitter) Admit(_ context.Context, raw []string) []registry.Entry {
	a.mu.Lock()
	a.batches = append(a.batches, append([]string(nil), raw...))
	a.mu.Unlock()
	a.got <- struct{}{}
	return nil
}

func (a *recordingAdmitter) Batches() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.batches...)
}

func (a *recordingAdmitter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-a.got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forwarded batch")
	}
}

// fakeChannel fails until readyAfter attempts, then hands out sub.
type fakeChannel struct {
	readyAfter int
	calls      atomic.Int64
	sub        *subscription
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Connect(context.Context) (Subscription, error) {
	n := f.calls.Add(1)
	if f.readyAfter < 0 || int(n) <= f.readyAfter {
		return nil, ErrUnavailable
	}
	return f.sub, nil
}

func fastOptions() Options {
	return Options{InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: 5}
}

func TestBridgeGivesUpAfterMaxAttempts(t *testing.T) {
	channel := &fakeChannel{readyAfter: -1}
	var reported atomic.Int64
	opts := fastOptions()
	opts.OnUnavailable = func(name string, attempts int) {
		if name != "fake" {
			t.Errorf("unexpected channel name %q", name)
		}
		reported.Store(int64(attempts))
	}
	b := New(channel, newRecordingAdmitter(), opts, logging.NewNop())

	err := b.Run(context.Background())
	if !errors.Is(err, ErrConnectivityTimeout) || !errors.Is(err, services.ErrConnectivity) {
		t.Fatalf("expected connectivity timeout, got %v", err)
	}
	if got := channel.calls.Load(); got != 5 {
		t.Fatalf("expected 5 attempts, got %d", got)
	}
	if reported.Load() != 5 {
		t.Fatalf("expected OnUnavailable with 5 attempts, got %d", reported.Load())
	}
	if b.Connected() {
		t.Fatal("bridge should never have connected")
	}
	if b.State() != StateUnavailable {
		t.Fatalf("expected unavailable state, got %s", b.State())
	}
}

func TestBridgeForwardsNonEmptyBatchesAndSurvivesSubscriptionEnd(t *testing.T) {
	sub := newSubscription(4, nil)
	channel := &fakeChannel{readyAfter: 2, sub: sub}
	admitter := newRecordingAdmitter()
	b := New(channel, admitter, fastOptions(), logging.NewNop())

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	sub.batches <- []string{}
	sub.batches <- []string{"/a.mp4", "/b.mp4"}
	admitter.wait(t)
	close(sub.batches)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after subscription ended")
	}

	if got := admitter.Batches(); len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("expected one forwarded batch of two, got %v", got)
	}
	if !b.Connected() {
		t.Fatal("connected should stay true after the subscription ends")
	}
	if b.Attempts() != 3 {
		t.Fatalf("expected 3 attempts, got %d", b.Attempts())
	}
}

func TestBridgeStopsOnContextCancel(t *testing.T) {
	var closed atomic.Bool
	sub := newSubscription(1, func() error { closed.Store(true); return nil })
	b := New(&fakeChannel{sub: sub}, newRecordingAdmitter(), fastOptions(), logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	for !b.Connected() {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
	if !closed.Load() {
		t.Fatal("subscription should be closed on cancel")
	}
}

func TestHostChannelForwardsDroppedFiles(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(HostFrame{Event: EventReady})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteJSON(HostFrame{Event: EventFilesDropped, Paths: []string{"/x/one.mp4"}})
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	channel := NewHostChannel(url, logging.NewNop())
	sub, err := channel.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sub.Close()

	select {
	case batch := <-sub.Batches():
		if len(batch) != 1 || batch[0] != "/x/one.mp4" {
			t.Fatalf("unexpected batch %v", batch)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no batch received")
	}
}

func hostServer(t *testing.T, handle func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHostChannelWaitsForReadyFrame(t *testing.T) {
	release := make(chan struct{})
	url := hostServer(t, func(conn *websocket.Conn) {
		time.Sleep(50 * time.Millisecond)
		_ = conn.WriteJSON(HostFrame{Event: EventReady})
		<-release
	})
	defer close(release)

	channel := NewHostChannel(url, logging.NewNop())
	channel.ReadyWait = 5 * time.Second
	start := time.Now()
	sub, err := channel.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sub.Close()
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > 4*time.Second {
		t.Fatalf("connect should return once ready arrives, took %v", elapsed)
	}
}

func TestHostChannelUnavailableWhenHostHangsUpBeforeReady(t *testing.T) {
	url := hostServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "starting"))
	})
	_, err := NewHostChannel(url, logging.NewNop()).Connect(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHostChannelAcceptsSilentHost(t *testing.T) {
	release := make(chan struct{})
	url := hostServer(t, func(conn *websocket.Conn) {
		<-release
	})
	defer close(release)

	channel := NewHostChannel(url, logging.NewNop())
	channel.ReadyWait = 30 * time.Millisecond
	sub, err := channel.Connect(context.Background())
	if err != nil {
		t.Fatalf("silent host should be accepted after the wait: %v", err)
	}
	_ = sub.Close()
}

func TestHostChannelUnavailableWhenNothingListens(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	_, err := NewHostChannel(url, logging.NewNop()).Connect(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDropFolderChannelBatchesCreatedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drop")
	channel := NewDropFolderChannel(dir, 50*time.Millisecond, logging.NewNop())
	if _, err := channel.Connect(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable before the directory exists, got %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	sub, err := channel.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sub.Close()

	for _, name := range []string{"a.mp4", "b.mp4"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[string]bool)
	deadline := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case batch := <-sub.Batches():
			for _, p := range batch {
				seen[filepath.Base(p)] = true
			}
		case <-deadline:
			t.Fatalf("timed out; saw %v", seen)
		}
	}
}

func TestFindMountPoint(t *testing.T) {
	mounts := filepath.Join(t.TempDir(), "mounts")
	content := "proc /proc proc rw 0 0\n" +
		"/dev/sdb1 /media/user/My\\040Disk vfat rw 0 0\n"
	if err := os.WriteFile(mounts, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindMountPoint(mounts, "/dev/sdb1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != "/media/user/My Disk" {
		t.Fatalf("unexpected mountpoint %q", got)
	}
	if got, _ := FindMountPoint(mounts, "/dev/sdc1"); got != "" {
		t.Fatalf("expected no mountpoint, got %q", got)
	}
}
