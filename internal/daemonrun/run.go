package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"faststart/internal/config"
	"faststart/internal/daemon"
	"faststart/internal/deps"
	"faststart/internal/ipc"
	"faststart/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// DrainTimeout bounds how long shutdown waits for in-flight work.
	DrainTimeout time.Duration
}

const defaultDrainTimeout = 30 * time.Second

// Run starts the faststart daemon runtime loop. The first SIGINT/SIGTERM asks
// for a graceful stop, which is refused while files are being optimized; a
// second signal forces the shutdown.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	logDependencySnapshot(cmdCtx, logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(cfg, logger, daemon.Options{})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(cmdCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(cmdCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}

	force := false
	for {
		select {
		case <-d.Done():
			logger.Info("faststart daemon exiting")
			return nil
		case <-cmdCtx.Done():
			force = true
		case sig := <-signals:
			logger.Info("shutdown signal received", logging.String("signal", sig.String()), logging.Bool("force", force))
		}

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(cmdCtx), drain)
		err := d.Stop(stopCtx, force)
		cancel()
		switch {
		case err == nil:
			logger.Info("faststart daemon shutting down")
			return nil
		case errors.Is(err, daemon.ErrBusy):
			logging.WarnWithContext(logger, "shutdown deferred", "shutdown_deferred",
				logging.Error(err),
				logging.Impact("daemon keeps running until optimizations finish"),
				logging.Hint("send the signal again to cancel them and exit"),
			)
			force = true
			go retryWhenIdle(d, signals)
		default:
			return err
		}
	}
}

// retryWhenIdle re-sends a stop request once the last optimization settles so
// a deferred shutdown completes without a second signal.
func retryWhenIdle(d *daemon.Daemon, signals chan<- os.Signal) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.Done():
			return
		case <-ticker.C:
			if !d.IsOptimizing() {
				select {
				case signals <- syscall.SIGTERM:
				default:
				}
				return
			}
		}
	}
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogPath()},
		Development: opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	ffprobe := deps.CheckFFprobe(ctx, cfg.Analyzer.FFprobeBinary)
	logger.Info("dependency snapshot",
		logging.Event("dependency_snapshot"),
		logging.Bool("ffprobe_available", ffprobe.Available),
		logging.String("ffprobe_binary", ffprobe.Command),
		logging.String("ffprobe_version", ffprobe.Detail),
		logging.Bool("ntfy_configured", cfg.Notifications.NtfyTopic != ""),
		logging.Bool("probe_cache", cfg.Analyzer.CacheEnabled),
	)
}
