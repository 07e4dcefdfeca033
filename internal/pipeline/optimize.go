package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"faststart/internal/logging"
	"faststart/internal/registry"
	"faststart/internal/services"
)

// OptimizeOptions tunes the optimization coordinator.
type OptimizeOptions struct {
	// MaxConcurrent caps optimize-all parallelism; zero means unlimited.
	MaxConcurrent int
	// ReleaseGrace bounds the wait for a playback holder to let go.
	ReleaseGrace time.Duration
	// Timeout bounds a single optimization; zero means no limit.
	Timeout time.Duration
}

// BatchResult summarizes an optimize-all run.
type BatchResult struct {
	Requested int           `json:"requested"`
	Optimized int           `json:"optimized"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed"`
}

// OptimizationCoordinator rewrites files and records the outcome.
type OptimizationCoordinator struct {
	registry  *registry.Registry
	optimizer Optimizer
	playback  PlaybackReleaser
	cache     Invalidator
	notifier  Notifier
	tasks     *TaskSet
	opts      OptimizeOptions
	sampler   *logging.ProgressSampler
	active    atomic.Int64
	logger    *slog.Logger

	// slots caps optimize-all parallelism across every batch; nil means
	// unlimited.
	slots *semaphore.Weighted

	mu sync.Mutex
	// queued holds keys owned by a pending or running batch so overlapping
	// optimize-all requests never schedule a file twice.
	queued map[string]struct{}
}

// errNotPending marks a batch member that stopped being unoptimized before
// its turn came.
var errNotPending = errors.New("entry no longer awaiting optimization")

// NewOptimizationCoordinator wires a coordinator. playback, cache, and
// notifier may be nil.
func NewOptimizationCoordinator(
	reg *registry.Registry,
	optimizer Optimizer,
	playback PlaybackReleaser,
	cache Invalidator,
	notifier Notifier,
	tasks *TaskSet,
	opts OptimizeOptions,
	logger *slog.Logger,
) *OptimizationCoordinator {
	var slots *semaphore.Weighted
	if opts.MaxConcurrent > 0 {
		slots = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return &OptimizationCoordinator{
		slots:     slots,
		queued:    make(map[string]struct{}),
		registry:  reg,
		optimizer: optimizer,
		playback:  playback,
		cache:     cache,
		notifier:  notifier,
		tasks:     tasks,
		opts:      opts,
		sampler:   logging.NewProgressSampler(25),
		logger:    logging.NewComponentLogger(logger, "optimize"),
	}
}

// Active returns the number of optimizations currently rewriting a file.
func (o *OptimizationCoordinator) Active() int {
	return int(o.active.Load())
}

// Trigger starts a background optimization of key. It reports false when the
// key is not tracked.
func (o *OptimizationCoordinator) Trigger(key string) bool {
	entry, ok := o.registry.Get(key)
	if !ok {
		return false
	}
	o.tasks.Go(entry.Key, func(ctx context.Context) {
		_ = o.run(ctx, entry.Key, entry.Generation, true)
	})
	return true
}

// Optimize optimizes key and returns once the outcome is recorded. The
// returned error mirrors the entry's error message.
func (o *OptimizationCoordinator) Optimize(ctx context.Context, key string) error {
	entry, ok := o.registry.Get(key)
	if !ok {
		return services.Wrap(services.ErrNotFound, "optimize", "lookup", key, nil)
	}
	return o.run(ctx, entry.Key, entry.Generation, true)
}

// TriggerAll starts a background optimize-all run and returns how many files
// were queued. Files already queued by an earlier run are not counted again.
func (o *OptimizationCoordinator) TriggerAll() int {
	targets := o.claim(o.registry.Filter(registry.StatusUnoptimized))
	if len(targets) == 0 {
		return 0
	}
	o.tasks.Go("optimize-all", func(ctx context.Context) {
		o.runBatch(ctx, targets)
	})
	return len(targets)
}

// OptimizeAll optimizes every entry currently unoptimized and waits for the
// batch to settle. One file failing never stops the others.
func (o *OptimizationCoordinator) OptimizeAll(ctx context.Context) BatchResult {
	return o.runBatch(ctx, o.claim(o.registry.Filter(registry.StatusUnoptimized)))
}

// claim marks the entries not yet owned by a batch and returns them.
func (o *OptimizationCoordinator) claim(entries []registry.Entry) []registry.Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	claimed := make([]registry.Entry, 0, len(entries))
	for _, entry := range entries {
		if _, busy := o.queued[entry.Key]; busy {
			continue
		}
		o.queued[entry.Key] = struct{}{}
		claimed = append(claimed, entry)
	}
	return claimed
}

func (o *OptimizationCoordinator) unclaim(entries ...registry.Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, entry := range entries {
		delete(o.queued, entry.Key)
	}
}

func (o *OptimizationCoordinator) runBatch(ctx context.Context, targets []registry.Entry) BatchResult {
	result := BatchResult{Requested: len(targets)}
	if len(targets) == 0 {
		return result
	}
	start := time.Now()
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("optimize-all started",
		logging.Int("files", len(targets)),
		logging.Int("max_concurrent", o.opts.MaxConcurrent),
	)
	o.notify(ctx, "batch started", func(ctx context.Context, n Notifier) error {
		return n.NotifyBatchStarted(ctx, len(targets))
	})

	var (
		wg        sync.WaitGroup
		optimized atomic.Int64
		failed    atomic.Int64
		vanished  atomic.Int64
	)
	for i, entry := range targets {
		if o.slots != nil {
			if err := o.slots.Acquire(ctx, 1); err != nil {
				result.Skipped = len(targets) - i
				o.unclaim(targets[i:]...)
				break
			}
		}
		wg.Add(1)
		go func(entry registry.Entry) {
			defer wg.Done()
			defer o.unclaim(entry)
			if o.slots != nil {
				defer o.slots.Release(1)
			}
			err := o.run(ctx, entry.Key, entry.Generation, false)
			switch {
			case errors.Is(err, services.ErrNotFound), errors.Is(err, errNotPending):
				vanished.Add(1)
			case err != nil:
				failed.Add(1)
			default:
				optimized.Add(1)
			}
		}(entry)
	}
	wg.Wait()

	result.Optimized = int(optimized.Load())
	result.Failed = int(failed.Load())
	result.Skipped += int(vanished.Load())
	result.Elapsed = time.Since(start)
	logger.Info("optimize-all finished",
		logging.Int("optimized", result.Optimized),
		logging.Int("failed", result.Failed),
		logging.Int("skipped", result.Skipped),
		logging.Duration("elapsed", result.Elapsed),
	)
	o.notify(ctx, "batch completed", func(ctx context.Context, n Notifier) error {
		return n.NotifyBatchCompleted(ctx, result.Optimized, result.Failed, result.Elapsed)
	})
	return result
}

// run optimizes one file. A single-file request (explicit) optimizes whatever
// the entry's status; a batch member only starts while still unoptimized, so a
// file optimized in the meantime is skipped rather than rewritten again.
func (o *OptimizationCoordinator) run(ctx context.Context, key string, gen uint64, explicit bool) error {
	ctx = services.WithStage(services.WithFileKey(ctx, key), "optimize")
	logger := logging.WithContext(ctx, o.logger)

	if !explicit {
		if current, ok := o.registry.Get(key); ok && current.Generation == gen && current.Status != registry.StatusUnoptimized {
			logger.Debug("optimize skipped", logging.String("status", string(current.Status)))
			return errNotPending
		}
	}

	if o.playback != nil {
		o.playback.Release(ctx, key, o.opts.ReleaseGrace)
	}

	declined := false
	entry, ok := o.registry.Upsert(key, registry.Guard(gen, func(e registry.Entry) (registry.Entry, bool) {
		if !explicit && e.Status != registry.StatusUnoptimized {
			declined = true
			return e, false
		}
		noteTransition(logger, e.Status, registry.StatusOptimizing)
		e.SetOptimizing()
		return e, true
	}))
	if declined {
		logger.Debug("optimize skipped", logging.String("status", string(entry.Status)))
		return errNotPending
	}
	if !ok {
		logger.Debug("optimize skipped; entry no longer tracked")
		return services.Wrap(services.ErrNotFound, "optimize", "lookup", key, nil)
	}

	o.active.Add(1)
	defer o.active.Add(-1)
	defer o.sampler.Forget(key)

	runCtx := ctx
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	logger.Info("optimize started")
	start := time.Now()
	progress := func(percent float64, message string) {
		o.registry.Upsert(key, registry.Guard(gen, func(e registry.Entry) (registry.Entry, bool) {
			if e.Status != registry.StatusOptimizing {
				return e, false
			}
			e.SetProgress(percent)
			return e, true
		}))
		if o.sampler.ShouldLog(key, percent) {
			logger.Info("optimize progress",
				logging.Float64("percent", percent),
				logging.String("message", message),
			)
		}
	}
	err := safeCall(logger, "optimize", func() error {
		return o.optimizer.Optimize(runCtx, key, progress)
	})
	if err != nil {
		classified := fmt.Errorf("%w: %w", services.ErrOptimize, err)
		logging.WarnWithContext(logger, "optimize failed", services.EventType(classified),
			logging.Error(err),
			logging.Duration("elapsed", time.Since(start)),
			logging.Impact("file left unchanged"),
			logging.Hint("check free space and that no other program has the file open"),
		)
		o.registry.Upsert(key, registry.Guard(gen, func(e registry.Entry) (registry.Entry, bool) {
			noteTransition(logger, e.Status, registry.StatusError)
			e.SetFailed(services.Message(err))
			return e, true
		}))
		if explicit {
			o.notify(ctx, "optimize failed", func(ctx context.Context, n Notifier) error {
				return n.NotifyOptimizeFailed(ctx, entry.DisplayName, err)
			})
		}
		return classified
	}

	if o.cache != nil {
		if err := o.cache.Invalidate(context.WithoutCancel(ctx), key); err != nil {
			logger.Debug("probe cache invalidation failed", logging.Error(err))
		}
	}
	o.registry.Upsert(key, registry.Guard(gen, func(e registry.Entry) (registry.Entry, bool) {
		noteTransition(logger, e.Status, registry.StatusOptimized)
		e.SetOptimized()
		return e, true
	}))
	logger.Info("optimize complete", logging.Duration("elapsed", time.Since(start)))
	return nil
}

// notify delivers a notification even when ctx is already cancelled, so a
// batch interrupted by shutdown still reports its summary.
func (o *OptimizationCoordinator) notify(ctx context.Context, what string, fn func(context.Context, Notifier) error) {
	if o.notifier == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx), o.notifier); err != nil {
		logging.WithContext(ctx, o.logger).Warn("notification failed",
			logging.String("notification", what),
			logging.Error(err),
			logging.Event("notification_failed"),
			logging.Impact("no push notification was delivered"),
			logging.Hint("check notifications.ntfy_topic"),
		)
	}
}
