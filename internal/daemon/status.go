package daemon

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"faststart/internal/bridge"
	"faststart/internal/deps"
	"faststart/internal/logging"
	"faststart/internal/probecache"
	"faststart/internal/registry"
)

// Version is stamped at build time.
var Version = "dev"

// BridgeStatus describes one event bridge.
type BridgeStatus struct {
	Name      string
	State     bridge.State
	Connected bool
	Attempts  int
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Version      string
	StartedAt    time.Time
	LockFilePath string
	SocketPath   string
	APIAddress   string
	CachePath    string

	Generation   uint64
	Total        int
	Counts       map[registry.Status]int
	Optimizing   int
	PendingTasks int
	Playing      []string
	Folders      int

	Bridges      []BridgeStatus
	Dependencies []deps.Status
	Cache        *probecache.Stats

	MemoryRSS  uint64
	Goroutines int
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Version:      Version,
		StartedAt:    d.startedAt,
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.Paths.SocketPath,
		APIAddress:   d.api.address(),
		Generation:   d.registry.Generation(),
		Total:        d.registry.Len(),
		Counts:       d.registry.Counts(),
		Optimizing:   d.optimizer.Active(),
		PendingTasks: d.tasks.Active(),
		Playing:      d.holds.Active(),
		Folders:      len(d.folders.Folders()),
		Dependencies: []deps.Status{deps.CheckFFprobe(ctx, d.cfg.Analyzer.FFprobeBinary)},
		Goroutines:   runtime.NumGoroutine(),
	}

	for _, b := range d.bridges {
		status.Bridges = append(status.Bridges, BridgeStatus{
			Name:      b.Name(),
			State:     b.State(),
			Connected: b.Connected(),
			Attempts:  b.Attempts(),
		})
	}

	if d.cache != nil {
		status.CachePath = d.cache.Path()
		if stats, err := d.cache.Stats(ctx); err == nil {
			status.Cache = &stats
		} else {
			d.logger.Debug("probe cache stats unavailable", logging.Error(err))
		}
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(status.PID)); err == nil {
		if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			status.MemoryRSS = mem.RSS
		}
	}
	return status
}
