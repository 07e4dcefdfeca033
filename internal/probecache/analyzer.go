package probecache

import (
	"context"
	"log/slog"
	"os"

	"faststart/internal/logging"
	"faststart/internal/pipeline"
	"faststart/internal/registry"
)

// Analyzer serves probes from the cache and falls through to next on a miss.
// Cache failures are logged and never fail a probe.
type Analyzer struct {
	next   pipeline.Analyzer
	cache  *Cache
	logger *slog.Logger
}

// NewAnalyzer decorates next with cache.
func NewAnalyzer(next pipeline.Analyzer, cache *Cache, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		next:   next,
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "probecache"),
	}
}

// CheckOptimized implements pipeline.Analyzer.
func (a *Analyzer) CheckOptimized(ctx context.Context, path string) (bool, error) {
	info, statErr := os.Stat(path)
	if statErr == nil {
		rec, ok, err := a.cache.Lookup(ctx, path, info.Size(), info.ModTime())
		if err != nil {
			a.logger.Debug("cache lookup failed", logging.String("path", path), logging.Error(err))
		} else if ok && rec.Optimized != nil {
			return *rec.Optimized, nil
		}
	}

	optimized, err := a.next.CheckOptimized(ctx, path)
	if err != nil || statErr != nil {
		return optimized, err
	}
	if err := a.cache.StoreCheck(ctx, path, info.Size(), info.ModTime(), optimized); err != nil {
		a.logger.Debug("cache store failed", logging.String("path", path), logging.Error(err))
	}
	return optimized, nil
}

// Metadata implements pipeline.Analyzer.
func (a *Analyzer) Metadata(ctx context.Context, path string) (registry.Metadata, error) {
	if info, err := os.Stat(path); err == nil {
		rec, ok, err := a.cache.Lookup(ctx, path, info.Size(), info.ModTime())
		if err != nil {
			a.logger.Debug("cache lookup failed", logging.String("path", path), logging.Error(err))
		} else if ok && rec.Metadata != nil {
			return *rec.Metadata, nil
		}
	}

	meta, err := a.next.Metadata(ctx, path)
	if err != nil {
		return meta, err
	}
	if err := a.cache.StoreMetadata(ctx, path, meta); err != nil {
		a.logger.Debug("cache store failed", logging.String("path", path), logging.Error(err))
	}
	return meta, nil
}

// Invalidate implements pipeline.Invalidator.
func (a *Analyzer) Invalidate(ctx context.Context, key string) error {
	return a.cache.Invalidate(ctx, key)
}
