package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"faststart/internal/bridge"
	"faststart/internal/config"
	"faststart/internal/fileutil"
	"faststart/internal/ingest"
	"faststart/internal/logging"
	"faststart/internal/notifications"
	"faststart/internal/pipeline"
	"faststart/internal/playback"
	"faststart/internal/probecache"
	"faststart/internal/registry"
	"faststart/internal/services"
	"faststart/internal/services/faststart"
)

// ErrBusy is returned by Stop when optimizations are running and the caller
// did not force the shutdown.
var ErrBusy = errors.New("optimization in progress")

// Options overrides collaborators, mostly for tests. Zero values select the
// local analysis service, the configured bridges, and ntfy.
type Options struct {
	Analyzer  pipeline.Analyzer
	Optimizer pipeline.Optimizer
	Notifier  notifications.Service
	// Channels replaces the bridges built from configuration when non-nil.
	Channels []bridge.Channel
	// OpenFiles replaces the process open-file lookup used by playback holds.
	OpenFiles playback.OpenFilesFunc
}

// Daemon coordinates the ingestion pipeline and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *registry.Registry
	tasks     *pipeline.TaskSet
	gateway   *ingest.Gateway
	scanner   *pipeline.ScanCoordinator
	optimizer *pipeline.OptimizationCoordinator
	cache     *probecache.Cache
	holds     *playback.Holds
	notifier  notifications.Service
	folders   *fileutil.FolderSet
	bridges   []*bridge.Bridge

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	stopped   bool
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	bridgeWG  sync.WaitGroup
	api       *apiServer
	startedAt time.Time
}

// New constructs a daemon with initialized dependencies. The probe cache is
// opened here when enabled; a cache that fails to open is logged and skipped.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		registry: registry.New(),
		tasks:    pipeline.NewTaskSet(context.Background()),
		folders:  fileutil.NewFolderSet(),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		done:     make(chan struct{}),
	}

	analyzer := opts.Analyzer
	optimizer := opts.Optimizer
	if analyzer == nil || optimizer == nil {
		local := faststart.NewFromConfig(cfg, logger)
		if analyzer == nil {
			analyzer = local
		}
		if optimizer == nil {
			optimizer = local
		}
	}

	var invalidator pipeline.Invalidator
	if cfg.Analyzer.CacheEnabled {
		cache, err := probecache.Open(cfg)
		if err != nil {
			logging.WarnWithContext(d.logger, "probe cache unavailable", "probe_cache_unavailable",
				logging.Error(err),
				logging.Impact("every scan probes the file again"),
				logging.Hint("check paths.cache_dir permissions or remove the cache database"),
			)
		} else {
			if cache.Rebuilt() {
				d.logger.Info("probe cache schema replaced",
					logging.Event("probe_cache_rebuilt"),
					logging.String("path", cache.Path()),
				)
			}
			d.cache = cache
			cached := probecache.NewAnalyzer(analyzer, cache, logger)
			analyzer = cached
			invalidator = cached
		}
	}

	d.notifier = opts.Notifier
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}

	if opts.OpenFiles != nil {
		d.holds = playback.NewHoldsWithOpenFiles(opts.OpenFiles, logger)
	} else {
		d.holds = playback.NewHolds(logger)
	}

	d.scanner = pipeline.NewScanCoordinator(d.registry, analyzer, d.tasks, cfg.ProbeTimeout(), logger)
	d.optimizer = pipeline.NewOptimizationCoordinator(
		d.registry, optimizer, d.holds, invalidator, d.notifier, d.tasks,
		pipeline.OptimizeOptions{
			MaxConcurrent: cfg.Optimize.MaxConcurrent,
			ReleaseGrace:  cfg.ReleaseGrace(),
			Timeout:       cfg.OptimizeTimeout(),
		},
		logger,
	)

	expander := ingest.NewFSExpander(ingest.ExpanderOptions{
		Extensions:  cfg.Ingest.Extensions,
		Exclude:     cfg.Ingest.Exclude,
		Folders:     d.folders,
		CleanupTemp: cfg.Ingest.CleanupTempFiles,
		Logger:      logger,
	})
	d.gateway = ingest.NewGateway(d.registry, expander, d.scanner, logger)

	channels := opts.Channels
	if channels == nil {
		channels = channelsFromConfig(cfg, logger)
	}
	for _, channel := range channels {
		d.bridges = append(d.bridges, bridge.New(channel, d.gateway, bridge.Options{
			InitialDelay:  cfg.PollInterval(),
			MaxDelay:      cfg.MaxPollInterval(),
			MaxAttempts:   cfg.Bridge.MaxAttempts,
			OnUnavailable: d.onBridgeUnavailable,
		}, logger))
	}

	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

func channelsFromConfig(cfg *config.Config, logger *slog.Logger) []bridge.Channel {
	var channels []bridge.Channel
	if url := strings.TrimSpace(cfg.Bridge.HostURL); url != "" {
		channels = append(channels, bridge.NewHostChannel(url, logger))
	}
	if dir := strings.TrimSpace(cfg.Bridge.DropDir); dir != "" {
		channels = append(channels, bridge.NewDropFolderChannel(dir, 0, logger))
	}
	if cfg.Bridge.RemovableMedia {
		channels = append(channels, bridge.NewMediaChannel(logger))
	}
	return channels
}

func (d *Daemon) onBridgeUnavailable(channel string, attempts int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.notifier.NotifyConnectivityLost(ctx, channel, attempts); err != nil {
		d.logger.Debug("connectivity notification failed", logging.Error(err))
	}
}

// Start acquires the daemon lock, starts the API server and connects bridges.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.stopped {
		return errors.New("daemon was stopped; create a new one")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another faststart daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx, d.cancel = nil, nil
		return err
	}

	for _, b := range d.bridges {
		d.bridgeWG.Add(1)
		go func(b *bridge.Bridge) {
			defer d.bridgeWG.Done()
			if err := b.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Debug("bridge stopped", logging.String(logging.FieldChannel, b.Name()), logging.Error(err))
			}
		}(b)
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("faststart daemon started",
		logging.Event("daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Int("bridges", len(d.bridges)),
	)
	return nil
}

// IsOptimizing reports whether any file is being rewritten right now.
func (d *Daemon) IsOptimizing() bool {
	return d.optimizer.Active() > 0
}

// Stop shuts the daemon down. While optimizations are running it refuses
// with ErrBusy unless force is set; a forced stop cancels them. In-flight
// work is drained (bounded by ctx) and leftover temp files are removed from
// every visited folder before the lock is released.
func (d *Daemon) Stop(ctx context.Context, force bool) error {
	if !d.running.Load() {
		return nil
	}
	if !force && d.IsOptimizing() {
		return fmt.Errorf("%w: %d file(s) still optimizing", ErrBusy, d.optimizer.Active())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return nil
	}

	if force {
		d.logger.Info("forced shutdown requested", logging.Int("optimizing", d.optimizer.Active()))
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	for _, b := range d.bridges {
		_ = b.Close()
	}
	d.bridgeWG.Wait()
	d.api.stop()

	d.tasks.Close()
	if err := d.tasks.Wait(ctx); err != nil {
		logging.WarnWithContext(d.logger, "shutdown did not drain in time", "shutdown_drain_timeout",
			logging.Error(err),
			logging.Int("pending", d.tasks.Active()),
			logging.Impact("temp files of unfinished optimizations may remain"),
			logging.Hint("they are removed the next time the folder is added"),
		)
	}
	d.cleanupVisitedFolders()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.Event("lock_release_failed"),
			logging.Impact("the next start may report another instance"),
			logging.Hint("remove the lock file manually"),
		)
	}
	d.ctx = nil
	d.stopped = true
	close(d.done)
	d.running.Store(false)
	d.logger.Info("faststart daemon stopped", logging.Event("daemon_stopped"))
	return nil
}

func (d *Daemon) cleanupVisitedFolders() {
	if !d.cfg.Ingest.CleanupTempFiles {
		return
	}
	removed := 0
	for _, dir := range d.folders.Folders() {
		n, err := fileutil.CleanupTempFiles(dir, d.cfg.Ingest.Extensions...)
		removed += n
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Debug("temp cleanup failed", logging.String("folder", dir), logging.Error(err))
		}
	}
	if removed > 0 {
		d.logger.Info("removed leftover temp files", logging.Int("files", removed))
	}
}

// Done is closed once Stop completes.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Close stops the daemon and releases the probe cache.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = d.Stop(ctx, true)
	d.tasks.Close()
	if d.cache != nil {
		return d.cache.Close()
	}
	return nil
}

// Wait blocks until no scan or optimization is in flight.
func (d *Daemon) Wait(ctx context.Context) error {
	return d.tasks.Wait(ctx)
}

// AddPaths admits files and folders and starts scanning the new entries.
func (d *Daemon) AddPaths(ctx context.Context, paths []string) []registry.Entry {
	ctx = withRequestID(ctx)
	added := d.gateway.Admit(ctx, paths)
	logging.WithContext(ctx, d.logger).Info("paths added",
		logging.Int("requested", len(paths)),
		logging.Int("admitted", len(added)),
	)
	return added
}

// List returns registry entries in insertion order, optionally filtered to
// the given statuses.
func (d *Daemon) List(statuses ...registry.Status) []registry.Entry {
	entries := d.registry.Snapshot()
	if len(statuses) == 0 {
		return entries
	}
	filtered := entries[:0]
	for _, entry := range entries {
		if slices.Contains(statuses, entry.Status) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// Get returns the entry for a raw or normalized path.
func (d *Daemon) Get(path string) (registry.Entry, bool) {
	return d.registry.Get(ingest.Normalize(path))
}

// Scan re-runs analysis for one entry and waits for it to settle.
func (d *Daemon) Scan(ctx context.Context, path string) (registry.Entry, error) {
	key := ingest.Normalize(path)
	err := d.track(ctx, key, func(taskCtx context.Context) error {
		return d.scanner.Scan(taskCtx, key)
	})
	if err != nil {
		return registry.Entry{}, err
	}
	return d.entryOrNotFound(key)
}

// Optimize rewrites one entry and waits for the result. A failed rewrite is
// reported both in the returned error and in the entry.
func (d *Daemon) Optimize(ctx context.Context, path string) (registry.Entry, error) {
	key := ingest.Normalize(path)
	runErr := d.track(ctx, key, func(taskCtx context.Context) error {
		return d.optimizer.Optimize(taskCtx, key)
	})
	if errors.Is(runErr, services.ErrNotFound) {
		return registry.Entry{}, runErr
	}
	entry, err := d.entryOrNotFound(key)
	if err != nil {
		return registry.Entry{}, err
	}
	return entry, runErr
}

// OptimizeAll rewrites every unoptimized entry and waits for the batch.
func (d *Daemon) OptimizeAll(ctx context.Context) (pipeline.BatchResult, error) {
	results := make(chan pipeline.BatchResult, 1)
	err := d.track(ctx, "optimize-all", func(taskCtx context.Context) error {
		results <- d.optimizer.OptimizeAll(taskCtx)
		return nil
	})
	if err != nil {
		return pipeline.BatchResult{}, err
	}
	return <-results, nil
}

// track runs fn as a daemon task so shutdown drains and cancels it, and
// waits for it unless ctx ends first. Work abandoned by the caller still
// settles in the background.
func (d *Daemon) track(ctx context.Context, key string, fn func(context.Context) error) error {
	ctx = withRequestID(ctx)
	requestID, _ := services.RequestIDFromContext(ctx)
	done := make(chan error, 1)
	d.tasks.Go(key, func(taskCtx context.Context) {
		done <- fn(services.WithRequestID(taskCtx, requestID))
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerOptimizeAll starts optimize-all in the background and returns how
// many files were queued.
func (d *Daemon) TriggerOptimizeAll() int {
	return d.optimizer.TriggerAll()
}

// TriggerScan starts a background rescan of one entry.
func (d *Daemon) TriggerScan(path string) bool {
	return d.scanner.Trigger(ingest.Normalize(path))
}

// TriggerOptimize starts a background optimization of one entry.
func (d *Daemon) TriggerOptimize(path string) bool {
	return d.optimizer.Trigger(ingest.Normalize(path))
}

// ClearAll empties the registry. Completions of work started before the
// clear are discarded.
func (d *Daemon) ClearAll(ctx context.Context) int {
	removed := d.registry.ClearAll()
	logging.WithContext(withRequestID(ctx), d.logger).Info("registry cleared",
		logging.Event("registry_cleared"),
		logging.Int("removed", removed),
	)
	return removed
}

// ClearCache drops every cached probe result.
func (d *Daemon) ClearCache(ctx context.Context) (int64, error) {
	if d.cache == nil {
		return 0, nil
	}
	return d.cache.Clear(ctx)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Registry exposes the underlying registry for subscribers.
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

// Holds exposes playback holds for streaming handlers.
func (d *Daemon) Holds() *playback.Holds {
	return d.holds
}

// Running reports whether Start succeeded and Stop has not run yet.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the bound API address once started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

func (d *Daemon) entryOrNotFound(key string) (registry.Entry, error) {
	entry, ok := d.registry.Get(key)
	if !ok {
		return registry.Entry{}, fmt.Errorf("%w: %s", services.ErrNotFound, key)
	}
	return entry, nil
}

func withRequestID(ctx context.Context) context.Context {
	if _, ok := services.RequestIDFromContext(ctx); ok {
		return ctx
	}
	return services.WithRequestID(ctx, uuid.NewString())
}
