// Package playback tracks which files are being streamed so the optimizer can
// take them back before rewriting.
package playback

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"faststart/internal/logging"
)

const openFilePollInterval = 25 * time.Millisecond

// OpenFilesFunc lists the files this process currently has open.
type OpenFilesFunc func(ctx context.Context) ([]string, error)

// Holds is a set of exclusive, revocable playback locks keyed by file.
type Holds struct {
	mu        sync.Mutex
	holds     map[string]*hold
	seq       uint64
	openFiles OpenFilesFunc
	logger    *slog.Logger
}

type hold struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHolds returns an empty hold set that inspects this process's open files
// through gopsutil.
func NewHolds(logger *slog.Logger) *Holds {
	return NewHoldsWithOpenFiles(ProcessOpenFiles, logger)
}

// NewHoldsWithOpenFiles is NewHolds with a custom open-file probe; a nil probe
// disables the open-file wait.
func NewHoldsWithOpenFiles(openFiles OpenFilesFunc, logger *slog.Logger) *Holds {
	return &Holds{
		holds:     make(map[string]*hold),
		openFiles: openFiles,
		logger:    logging.NewComponentLogger(logger, "playback"),
	}
}

// Acquire takes the playback hold for key. The returned context is cancelled
// when the hold is revoked, and release must be called once the stream stops.
// Acquiring a key that is already held revokes the previous holder.
func (h *Holds) Acquire(ctx context.Context, key string) (context.Context, func()) {
	holdCtx, cancel := context.WithCancel(ctx)
	current := &hold{cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	h.seq++
	current.id = h.seq
	if previous, ok := h.holds[key]; ok {
		previous.cancel()
	}
	h.holds[key] = current
	h.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			close(current.done)
			h.mu.Lock()
			if held, ok := h.holds[key]; ok && held.id == current.id {
				delete(h.holds, key)
			}
			h.mu.Unlock()
		})
	}
	return holdCtx, release
}

// Release revokes the hold on key and waits up to grace for the holder to
// release it and for the file to be closed. It returns early when ctx ends.
func (h *Holds) Release(ctx context.Context, key string, grace time.Duration) {
	deadline := time.Now().Add(grace)
	timer := time.NewTimer(grace)
	defer timer.Stop()

	h.mu.Lock()
	current := h.holds[key]
	h.mu.Unlock()

	if current != nil {
		current.cancel()
		select {
		case <-current.done:
		case <-timer.C:
			logging.WarnWithContext(h.logger, "playback did not release in time", "playback_release_timeout",
				logging.FileKey(key),
				logging.Duration("grace", grace),
				logging.Impact("optimization proceeds while the file may still be open"),
				logging.Hint("stop playback before optimizing"),
			)
			return
		case <-ctx.Done():
			return
		}
	}
	h.waitClosed(ctx, key, deadline)
}

// waitClosed polls this process's open files until key is gone or the
// deadline passes. Probe errors end the wait silently.
func (h *Holds) waitClosed(ctx context.Context, key string, deadline time.Time) {
	if h.openFiles == nil {
		return
	}
	target := filepath.Clean(filepath.FromSlash(key))
	for {
		open, err := h.openFiles(ctx)
		if err != nil {
			h.logger.Debug("open file probe unavailable", logging.Error(err))
			return
		}
		if !containsPath(open, target) {
			return
		}
		if time.Now().After(deadline) {
			h.logger.Debug("file still open after grace", logging.FileKey(key))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(openFilePollInterval):
		}
	}
}

// Held reports whether key currently has a playback hold.
func (h *Holds) Held(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.holds[key]
	return ok
}

// Active lists held keys, sorted.
func (h *Holds) Active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.holds))
	for key := range h.holds {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ProcessOpenFiles lists the regular files open in the current process.
func ProcessOpenFiles(ctx context.Context) ([]string, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	stats, err := proc.OpenFilesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(stats))
	for _, stat := range stats {
		paths = append(paths, stat.Path)
	}
	return paths, nil
}

func containsPath(paths []string, target string) bool {
	for _, p := range paths {
		if filepath.Clean(p) == target {
			return true
		}
	}
	return false
}
