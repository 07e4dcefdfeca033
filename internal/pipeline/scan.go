package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"faststart/internal/logging"
	"faststart/internal/registry"
	"faststart/internal/services"
)

// ScanCoordinator runs the two independent probes for a file and records
// their outcomes.
type ScanCoordinator struct {
	registry *registry.Registry
	analyzer Analyzer
	tasks    *TaskSet
	timeout  time.Duration
	logger   *slog.Logger
}

// NewScanCoordinator wires a scan coordinator. A zero timeout leaves probes
// bounded only by the task context.
func NewScanCoordinator(reg *registry.Registry, analyzer Analyzer, tasks *TaskSet, timeout time.Duration, logger *slog.Logger) *ScanCoordinator {
	return &ScanCoordinator{
		registry: reg,
		analyzer: analyzer,
		tasks:    tasks,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "scan"),
	}
}

// DispatchScan starts a background scan for a freshly admitted entry.
func (s *ScanCoordinator) DispatchScan(entry registry.Entry) {
	s.tasks.Go(entry.Key, func(ctx context.Context) {
		s.run(ctx, entry.Key, entry.Generation)
	})
}

// Trigger starts a background re-scan of key. It reports false when the key
// is not tracked.
func (s *ScanCoordinator) Trigger(key string) bool {
	entry, ok := s.registry.Get(key)
	if !ok {
		return false
	}
	s.DispatchScan(entry)
	return true
}

// Scan re-scans key and returns once both probes have settled.
func (s *ScanCoordinator) Scan(ctx context.Context, key string) error {
	entry, ok := s.registry.Get(key)
	if !ok {
		return services.Wrap(services.ErrNotFound, "scan", "lookup", key, nil)
	}
	s.run(ctx, entry.Key, entry.Generation)
	return nil
}

func (s *ScanCoordinator) run(ctx context.Context, key string, gen uint64) {
	ctx = services.WithStage(services.WithFileKey(ctx, key), "scan")
	logger := logging.WithContext(ctx, s.logger)

	_, ok := s.registry.Upsert(key, registry.Guard(gen, func(e registry.Entry) (registry.Entry, bool) {
		noteTransition(logger, e.Status, registry.StatusScanning)
		e.SetScanning()
		return e, true
	}))
	if !ok {
		logger.Debug("scan skipped; entry no longer tracked")
		return
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.checkOptimized(ctx, key, gen, logger)
	}()
	go func() {
		defer wg.Done()
		s.loadMetadata(ctx, key, gen, logger)
	}()
	wg.Wait()
}

func (s *ScanCoordinator) checkOptimized(ctx context.Context, key string, gen uint64, logger *slog.Logger) {
	var optimized bool
	err := safeCall(logger, "check optimized", func() error {
		var err error
		optimized, err = s.analyzer.CheckOptimized(ctx, key)
		return err
	})
	if err != nil {
		classified := fmt.Errorf("%w: %w", services.ErrProbe, err)
		logging.WarnWithContext(logger, "optimization check failed", services.EventType(classified),
			logging.Error(err),
			logging.Impact("file is shown in error state"),
			logging.Hint("confirm the file is a readable MP4 and re-scan"),
		)
		s.registry.Upsert(key, registry.Guard(gen, func(e registry.Entry) (registry.Entry, bool) {
			noteTransition(logger, e.Status, registry.StatusError)
			e.SetFailed(services.Message(err))
			return e, true
		}))
		return
	}

	target := registry.StatusUnoptimized
	if optimized {
		target = registry.StatusOptimized
	}
	s.registry.Upsert(key, registry.Guard(gen, func(e registry.Entry) (registry.Entry, bool) {
		noteTransition(logger, e.Status, target)
		e.SetScanResult(optimized)
		return e, true
	}))
	logger.Info("scan complete", logging.String("status", string(target)))
}

func (s *ScanCoordinator) loadMetadata(ctx context.Context, key string, gen uint64, logger *slog.Logger) {
	var meta registry.Metadata
	err := safeCall(logger, "metadata", func() error {
		var err error
		meta, err = s.analyzer.Metadata(ctx, key)
		return err
	})
	if err != nil {
		// Metadata is cosmetic; the status column already reports problems.
		logger.Warn("metadata probe failed",
			logging.Error(err),
			logging.Event("metadata_failed"),
			logging.Impact("size and duration are not shown"),
			logging.Hint("install ffprobe for richer metadata"),
		)
		return
	}
	s.registry.Upsert(key, registry.Guard(gen, func(e registry.Entry) (registry.Entry, bool) {
		e.SetMetadata(meta)
		return e, true
	}))
}
