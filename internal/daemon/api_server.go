package daemon

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"faststart/internal/api"
	"faststart/internal/config"
	"faststart/internal/registry"
)

// apiServer is nil when no bind address is set.
type apiServer struct {
	server *api.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	return &apiServer{
		server: api.NewServer(apiBackend{d}, api.Options{
			Bind:   bind,
			Token:  cfg.Paths.APIToken,
			Logger: logger,
		}),
	}
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.server.Start(ctx)
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.server.Stop()
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	return s.server.Addr()
}

// apiBackend adapts the daemon to api.Backend.
type apiBackend struct {
	*Daemon
}

func (b apiBackend) Status(ctx context.Context) api.DaemonStatus {
	return ToAPIStatus(b.Daemon.Status(ctx))
}

func (b apiBackend) Generation() uint64 {
	return b.registry.Generation()
}

func (b apiBackend) Subscribe(buffer int) (<-chan registry.Change, func()) {
	return b.registry.Subscribe(buffer)
}

func (b apiBackend) Acquire(ctx context.Context, key string) (context.Context, func()) {
	return b.holds.Acquire(ctx, key)
}

// ToAPIStatus converts daemon status into its wire form.
func ToAPIStatus(status Status) api.DaemonStatus {
	out := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		Version:      status.Version,
		LockFilePath: status.LockFilePath,
		SocketPath:   status.SocketPath,
		APIAddress:   status.APIAddress,
		Generation:   status.Generation,
		Total:        status.Total,
		Counts:       make(map[string]int, len(status.Counts)),
		Optimizing:   status.Optimizing,
		PendingTasks: status.PendingTasks,
		Playing:      status.Playing,
		Folders:      status.Folders,
		Bridges:      make([]api.BridgeStatus, 0, len(status.Bridges)),
		Dependencies: make([]api.DependencyStatus, 0, len(status.Dependencies)),
		MemoryRSS:    status.MemoryRSS,
		Goroutines:   status.Goroutines,
	}
	if !status.StartedAt.IsZero() {
		out.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
		if status.Running {
			out.UptimeSeconds = int64(time.Since(status.StartedAt).Seconds())
		}
	}
	for _, s := range registry.AllStatuses() {
		out.Counts[string(s)] = status.Counts[s]
	}
	for _, b := range status.Bridges {
		out.Bridges = append(out.Bridges, api.BridgeStatus{
			Name:      b.Name,
			State:     string(b.State),
			Connected: b.Connected,
			Attempts:  b.Attempts,
		})
	}
	for _, dep := range status.Dependencies {
		out.Dependencies = append(out.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	if status.Cache != nil {
		out.Cache = &api.CacheStats{
			Path:    status.CachePath,
			Entries: status.Cache.Entries,
			Hits:    status.Cache.Hits,
			Misses:  status.Cache.Misses,
		}
	}
	return out
}
