package pipeline

import (
	"context"
	"time"

	"faststart/internal/registry"
)

// Analyzer answers the two per-file questions asked during a scan.
type Analyzer interface {
	CheckOptimized(ctx context.Context, path string) (bool, error)
	Metadata(ctx context.Context, path string) (registry.Metadata, error)
}

// ProgressFunc receives optimize progress in percent with a short status line.
type ProgressFunc func(percent float64, message string)

// Optimizer rewrites a file in place so it starts playing before it is fully
// downloaded.
type Optimizer interface {
	Optimize(ctx context.Context, path string, progress ProgressFunc) error
}

// PlaybackReleaser revokes any playback hold on a file and waits up to grace
// for the holder to close it.
type PlaybackReleaser interface {
	Release(ctx context.Context, key string, grace time.Duration)
}

// Invalidator forgets cached analysis for a file whose bytes changed.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// Notifier receives batch summaries and per-file optimize failures.
type Notifier interface {
	NotifyBatchStarted(ctx context.Context, count int) error
	NotifyBatchCompleted(ctx context.Context, optimized, failed int, duration time.Duration) error
	NotifyOptimizeFailed(ctx context.Context, name string, err error) error
}
