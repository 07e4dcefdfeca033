package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"faststart/internal/logging"
)

// Host frame event names.
const (
	EventReady        = "ready"
	EventFilesDropped = "files-dropped"
)

// HostFrame is one JSON message from the host runtime.
type HostFrame struct {
	Event string   `json:"event"`
	Paths []string `json:"paths,omitempty"`
}

// defaultReadyWait bounds how long Connect waits for the host's first frame.
const defaultReadyWait = 2 * time.Second

// HostChannel subscribes to a host runtime's WebSocket endpoint.
type HostChannel struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
	// ReadyWait is how long Connect waits for a ready frame. A host that
	// stays silent that long is taken as ready; one that hangs up first is
	// unavailable.
	ReadyWait time.Duration
}

// NewHostChannel returns a channel for the WebSocket endpoint at url.
func NewHostChannel(url string, logger *slog.Logger) *HostChannel {
	return &HostChannel{
		url:       strings.TrimSpace(url),
		dialer:    websocket.DefaultDialer,
		logger:    logging.NewComponentLogger(logger, "host-channel"),
		ReadyWait: defaultReadyWait,
	}
}

// Name implements Channel.
func (h *HostChannel) Name() string { return "host" }

// Connect dials the endpoint and waits for the host's first frame. Refused
// connections, non-upgrade responses and hosts that close before sending
// anything are reported as ErrUnavailable so the bridge keeps retrying.
func (h *HostChannel) Connect(ctx context.Context) (Subscription, error) {
	conn, resp, err := h.dialer.DialContext(ctx, h.url, http.Header{"User-Agent": []string{"faststart"}})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, h.url, err)
	}

	done := make(chan struct{})
	sub := newSubscription(16, func() error {
		close(done)
		return conn.Close()
	})
	ready := make(chan struct{})
	ended := make(chan struct{})
	go func() {
		defer close(ended)
		h.read(conn, sub, done, ready)
	}()

	wait := h.ReadyWait
	if wait <= 0 {
		wait = defaultReadyWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
		h.logger.Debug("host sent no ready frame; assuming ready", logging.Duration("waited", wait))
	case <-ended:
		select {
		case <-ready:
			// Frames arrived before the host hung up; deliver them.
			return sub, nil
		default:
		}
		_ = sub.Close()
		return nil, fmt.Errorf("%w: %s closed before it was ready", ErrUnavailable, h.url)
	case <-ctx.Done():
		_ = sub.Close()
		return nil, ctx.Err()
	}
	return sub, nil
}

// read pumps frames into sub until the connection ends. ready is closed on
// the first well-formed frame, whatever its event.
func (h *HostChannel) read(conn *websocket.Conn, sub *subscription, done <-chan struct{}, ready chan<- struct{}) {
	defer close(sub.batches)
	defer conn.Close()
	var once sync.Once
	markReady := func() { once.Do(func() { close(ready) }) }
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("host connection closed", logging.Error(err))
			}
			return
		}
		var frame HostFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug("ignoring malformed host frame", logging.Error(err))
			continue
		}
		markReady()
		switch frame.Event {
		case EventReady:
			h.logger.Debug("host ready")
		case EventFilesDropped:
			select {
			case sub.batches <- frame.Paths:
			case <-done:
				return
			}
		default:
			h.logger.Debug("ignoring host event", logging.String("event", frame.Event))
		}
	}
}
