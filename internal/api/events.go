package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"faststart/internal/logging"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
	eventBuffer       = 256
)

// handleEvents upgrades to a WebSocket, sends the ordered registry snapshot
// and then one message per registry change. Clients that fall behind miss
// changes and should reconnect to re-sync.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	// Subscribe before the snapshot so nothing falls in between.
	changes, cancel := s.backend.Subscribe(eventBuffer)
	defer cancel()

	snapshot := Event{
		Type:       EventSnapshot,
		Generation: s.backend.Generation(),
		Items:      FromEntries(s.backend.List()),
	}
	if err := writeEvent(conn, snapshot); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ping.C:
			deadline := time.Now().Add(eventWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := writeEvent(conn, FromChange(change)); err != nil {
				s.logger.Debug("websocket write failed", logging.Error(err))
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	return conn.WriteJSON(event)
}
