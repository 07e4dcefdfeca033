package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"faststart/internal/api"
	"faststart/internal/daemon"
	"faststart/internal/logging"
	"faststart/internal/registry"
)

const serviceName = "Faststart"

const stopTimeout = 30 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.Event("ipc_accept_failed"),
					logging.Impact("IPC clients may fail to connect"),
					logging.Hint("check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connected clients are
// served until they hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.Event("ipc_socket_cleanup_failed"),
			logging.Impact("stale IPC socket may block future starts"),
			logging.Hint("remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) AddPaths(req AddPathsRequest, resp *AddPathsResponse) error {
	if len(req.Paths) == 0 {
		return errors.New("at least one path is required")
	}
	resp.Added = api.FromEntries(s.daemon.AddPaths(s.ctx, req.Paths))
	return nil
}

func (s *service) List(req ListRequest, resp *ListResponse) error {
	statuses := make([]registry.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		status, ok := registry.ParseStatus(value)
		if !ok {
			return fmt.Errorf("unknown status %q", strings.TrimSpace(value))
		}
		statuses = append(statuses, status)
	}
	resp.Items = api.FromEntries(s.daemon.List(statuses...))
	resp.Generation = s.daemon.Registry().Generation()
	return nil
}

func (s *service) Get(req PathRequest, resp *FileResponse) error {
	entry, ok := s.daemon.Get(req.Path)
	if !ok {
		return fmt.Errorf("%s is not tracked", req.Path)
	}
	resp.Item = api.FromEntry(entry)
	return nil
}

func (s *service) Scan(req PathRequest, resp *FileResponse) error {
	entry, err := s.daemon.Scan(s.ctx, req.Path)
	if err != nil {
		return err
	}
	resp.Item = api.FromEntry(entry)
	return nil
}

func (s *service) Optimize(req PathRequest, resp *OptimizeResponse) error {
	entry, err := s.daemon.Optimize(s.ctx, req.Path)
	if entry.Key == "" {
		return err
	}
	resp.Item = api.FromEntry(entry)
	if err != nil {
		resp.Error = entry.Message
	}
	return nil
}

func (s *service) OptimizeAll(req OptimizeAllRequest, resp *OptimizeAllResponse) error {
	if !req.Wait {
		resp.Queued = s.daemon.TriggerOptimizeAll()
		return nil
	}
	result, err := s.daemon.OptimizeAll(s.ctx)
	if err != nil {
		return err
	}
	resp.Queued = result.Requested
	resp.Optimized = result.Optimized
	resp.Failed = result.Failed
	resp.Skipped = result.Skipped
	resp.Elapsed = result.Elapsed
	return nil
}

func (s *service) Clear(req ClearRequest, resp *ClearResponse) error {
	resp.Removed = s.daemon.ClearAll(s.ctx)
	if req.Cache {
		removed, err := s.daemon.ClearCache(s.ctx)
		if err != nil {
			return fmt.Errorf("clear probe cache: %w", err)
		}
		resp.CacheRemoved = removed
	}
	s.logger.Info("registry cleared via IPC",
		logging.Event("registry_clear"),
		logging.Int("removed_count", resp.Removed))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *DaemonStatus) error {
	*resp = daemon.ToAPIStatus(s.daemon.Status(s.ctx))
	return nil
}

func (s *service) Stop(req StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested", logging.Bool("force", req.Force))
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), stopTimeout)
	defer cancel()
	if err := s.daemon.Stop(ctx, req.Force); err != nil {
		resp.Busy = errors.Is(err, daemon.ErrBusy)
		resp.Message = err.Error()
		return nil
	}
	resp.Stopped = true
	resp.Message = "daemon stopped"
	s.logger.Info("daemon stopped via IPC", logging.Event("daemon_stop"))
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		return err
	}
	resp.Sent = sent
	resp.Message = message
	return nil
}
