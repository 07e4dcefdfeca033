package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"faststart/internal/config"
	"faststart/internal/notifications"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		mu.Lock()
		captured = append(captured, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func newConfig(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.Batch = true
	cfg.Notifications.Errors = true
	cfg.Notifications.BatchMinItems = 2
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(newConfig(""))
	if err := svc.NotifyOptimizeFailed(context.Background(), "a.mp4", errors.New("boom")); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "batch completed",
			send: func(s notifications.Service) error {
				return s.NotifyBatchCompleted(context.Background(), 3, 0, 65*time.Second)
			},
			expectTitle:   "faststart - Batch Complete",
			expectMessage: "✅ Optimized 3 files in 1m5s",
			expectTags:    "faststart,batch,completed",
		},
		{
			name: "batch completed with errors",
			send: func(s notifications.Service) error {
				return s.NotifyBatchCompleted(context.Background(), 2, 1, 0)
			},
			expectTitle:   "faststart - Batch Complete (with errors)",
			expectMessage: "Optimize-all finished: 2 optimized, 1 failed in 0s",
			expectTags:    "faststart,batch,completed",
		},
		{
			name: "optimize failed",
			send: func(s notifications.Service) error {
				return s.NotifyOptimizeFailed(context.Background(), "clip.mp4", errors.New("disk full"))
			},
			expectTitle:    "faststart - Error",
			expectMessage:  "❌ Optimize failed for clip.mp4: disk full",
			expectTags:     "faststart,error,alert",
			expectPriority: "high",
		},
		{
			name: "connectivity lost",
			send: func(s notifications.Service) error {
				return s.NotifyConnectivityLost(context.Background(), "host", 50)
			},
			expectTitle:   "faststart - Host Unavailable",
			expectMessage: "host channel did not become ready after 50 attempts; drops from it are ignored",
			expectTags:    "faststart,bridge,unavailable",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, captured := newCaptureServer(t)
			svc := notifications.NewService(newConfig(server.URL))
			if err := tc.send(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			got := captured()
			if len(got) != 1 {
				t.Fatalf("expected one request, got %d", len(got))
			}
			if got[0].title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got[0].title)
			}
			if got[0].body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got[0].body)
			}
			if got[0].tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got[0].tags)
			}
			if got[0].priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got[0].priority)
			}
		})
	}
}

func TestNtfyServiceHonoursToggles(t *testing.T) {
	server, captured := newCaptureServer(t)
	cfg := newConfig(server.URL)
	cfg.Notifications.Errors = false
	svc := notifications.NewService(cfg)

	_ = svc.NotifyOptimizeFailed(context.Background(), "a.mp4", errors.New("boom"))
	_ = svc.NotifyConnectivityLost(context.Background(), "host", 1)
	_ = svc.NotifyBatchStarted(context.Background(), 1)
	_ = svc.NotifyBatchCompleted(context.Background(), 1, 0, time.Second)
	if n := len(captured()); n != 0 {
		t.Fatalf("expected suppressed notifications, got %d", n)
	}

	cfg.Notifications.Batch = false
	svc = notifications.NewService(cfg)
	_ = svc.NotifyBatchCompleted(context.Background(), 5, 0, time.Second)
	if n := len(captured()); n != 0 {
		t.Fatalf("batch notices disabled, got %d", n)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	svc := notifications.NewService(newConfig(server.URL))
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
