package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"faststart/internal/logging"
	"faststart/internal/registry"
	"faststart/internal/services"
)

// Backend is the daemon surface the HTTP layer drives.
type Backend interface {
	AddPaths(ctx context.Context, paths []string) []registry.Entry
	List(statuses ...registry.Status) []registry.Entry
	Get(path string) (registry.Entry, bool)
	TriggerScan(path string) bool
	TriggerOptimize(path string) bool
	TriggerOptimizeAll() int
	ClearAll(ctx context.Context) int
	Generation() uint64
	Status(ctx context.Context) DaemonStatus
	Subscribe(buffer int) (<-chan registry.Change, func())
	// Acquire takes the playback hold on key. The returned context ends when
	// an optimization revokes the hold.
	Acquire(ctx context.Context, key string) (context.Context, func())
}

// Options configures the server.
type Options struct {
	Bind string
	// Token enables bearer authentication when non-empty.
	Token  string
	Logger *slog.Logger
}

// Server exposes a Backend over HTTP and WebSocket.
type Server struct {
	bind     string
	backend  Backend
	logger   *slog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(backend Backend, opts Options) *Server {
	s := &Server{
		bind:    strings.TrimSpace(opts.Bind),
		backend: backend,
		logger:  logging.NewComponentLogger(opts.Logger, "api-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestContext())

	api := engine.Group("/api", bearerAuth(opts.Token))
	{
		api.GET("/files", s.handleList)
		api.POST("/files", s.handleAdd)
		api.DELETE("/files", s.handleClear)
		api.POST("/files/scan", s.handleScan)
		api.POST("/files/optimize", s.handleOptimize)
		api.POST("/optimize-all", s.handleOptimizeAll)
		api.GET("/status", s.handleStatus)
		api.GET("/events", s.handleEvents)
	}
	engine.GET("/video/*path", bearerAuth(opts.Token), s.handleVideo)

	s.engine = engine
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until ctx ends or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down. Open WebSocket and video streams are closed.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requestContext stamps a request ID onto the request context and logs the
// request at debug level.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), requestID))

		start := time.Now()
		c.Next()
		s.logger.Debug("api request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("latency", time.Since(start)),
			logging.String(logging.FieldCorrelationID, requestID),
		)
	}
}

// bearerAuth validates "Authorization: Bearer <token>". Browsers cannot set
// headers on video elements, so a token query parameter is accepted too.
// An empty token disables the check.
func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		supplied := c.Query("token")
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			supplied = strings.TrimPrefix(auth, "Bearer ")
		}
		if supplied != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}
