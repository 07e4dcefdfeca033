package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"faststart/internal/config"
)

const userAgent = "faststart/0.1.0"

// Service defines the notification surface exposed to the pipeline and daemon.
type Service interface {
	NotifyBatchStarted(ctx context.Context, count int) error
	NotifyBatchCompleted(ctx context.Context, optimized, failed int, duration time.Duration) error
	NotifyOptimizeFailed(ctx context.Context, name string, err error) error
	NotifyConnectivityLost(ctx context.Context, channel string, attempts int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		batch:    cfg.Notifications.Batch,
		errors:   cfg.Notifications.Errors,
		minItems: cfg.Notifications.BatchMinItems,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	batch    bool
	errors   bool
	minItems int
}

func (n *ntfyService) NotifyBatchStarted(ctx context.Context, count int) error {
	if !n.batch || count < n.minItems {
		return nil
	}
	data := payload{
		title:   "faststart - Optimizing",
		message: fmt.Sprintf("Optimizing %d files", count),
		tags:    []string{"faststart", "batch", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, optimized, failed int, duration time.Duration) error {
	if !n.batch || optimized+failed < n.minItems {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var message string
	var title string
	if failed == 0 {
		title = "faststart - Batch Complete"
		message = fmt.Sprintf("✅ Optimized %d files in %s", optimized, durationText)
	} else {
		title = "faststart - Batch Complete (with errors)"
		message = fmt.Sprintf("Optimize-all finished: %d optimized, %d failed in %s", optimized, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"faststart", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyOptimizeFailed(ctx context.Context, name string, err error) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Optimize failed")
	if name = strings.TrimSpace(name); name != "" {
		builder.WriteString(" for ")
		builder.WriteString(name)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "faststart - Error",
		message:  builder.String(),
		tags:     []string{"faststart", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyConnectivityLost(ctx context.Context, channel string, attempts int) error {
	if !n.errors {
		return nil
	}
	data := payload{
		title:   "faststart - Host Unavailable",
		message: fmt.Sprintf("%s channel did not become ready after %d attempts; drops from it are ignored", strings.TrimSpace(channel), attempts),
		tags:    []string{"faststart", "bridge", "unavailable"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "faststart - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"faststart", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBatchStarted(context.Context, int) error                       { return nil }
func (noopService) NotifyBatchCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyOptimizeFailed(context.Context, string, error) error           { return nil }
func (noopService) NotifyConnectivityLost(context.Context, string, int) error           { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
