package probecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"faststart/internal/config"
	"faststart/internal/registry"
)

// Cache stores probe results backed by SQLite.
type Cache struct {
	db     *sql.DB
	path   string
	hits   atomic.Int64
	// rebuilt is set when Open replaced an incompatible schema.
	rebuilt bool
	misses atomic.Int64
}

// Record is a cached probe result for one file version.
type Record struct {
	Key       string
	SizeBytes int64
	ModTime   time.Time
	// Optimized is nil when only metadata was cached.
	Optimized *bool
	// Metadata is nil when only the optimization check was cached.
	Metadata  *registry.Metadata
	UpdatedAt time.Time
}

// Stats summarizes cache usage since Open.
type Stats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (c *Cache) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = c.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the probe cache in the configured cache
// directory.
func Open(cfg *config.Config) (*Cache, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.CachePath())
}

// OpenPath opens the cache database at path.
func OpenPath(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	cache := &Cache{db: db, path: path}
	if err := cache.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Path returns the database file location.
func (c *Cache) Path() string {
	return c.path
}

// Lookup returns the record for key when it was stored for the same size and
// modification time.
func (c *Cache) Lookup(ctx context.Context, key string, size int64, modTime time.Time) (Record, bool, error) {
	ctx = ensureContext(ctx)
	var (
		rec         Record
		mtimeNs     int64
		optimized   sql.NullInt64
		hasMetadata int
		meta        registry.Metadata
		updatedAt   string
	)
	err := retryOnBusy(ctx, func() error {
		return c.db.QueryRowContext(ctx, `SELECT key, size_bytes, mtime_ns, optimized, has_metadata,
			duration_seconds, width, height, codec, updated_at
			FROM probes WHERE key = ?`, key).Scan(
			&rec.Key, &rec.SizeBytes, &mtimeNs, &optimized, &hasMetadata,
			&meta.DurationSeconds, &meta.Width, &meta.Height, &meta.Codec, &updatedAt,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup probe: %w", err)
	}
	if rec.SizeBytes != size || mtimeNs != modTime.UnixNano() {
		c.misses.Add(1)
		return Record{}, false, nil
	}

	rec.ModTime = time.Unix(0, mtimeNs).UTC()
	if optimized.Valid {
		value := optimized.Int64 != 0
		rec.Optimized = &value
	}
	if hasMetadata != 0 {
		meta.SizeBytes = rec.SizeBytes
		meta.ModifiedAt = rec.ModTime
		rec.Metadata = &meta
	}
	if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = parsed
	}
	c.hits.Add(1)
	return rec, true, nil
}

// StoreCheck records the optimization check for a file version. Metadata
// stored for a different version is discarded.
func (c *Cache) StoreCheck(ctx context.Context, key string, size int64, modTime time.Time, optimized bool) error {
	flag := 0
	if optimized {
		flag = 1
	}
	_, err := c.exec(ctx, `INSERT INTO probes (key, size_bytes, mtime_ns, optimized, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			optimized = excluded.optimized,
			has_metadata = CASE WHEN probes.size_bytes = excluded.size_bytes AND probes.mtime_ns = excluded.mtime_ns
				THEN probes.has_metadata ELSE 0 END,
			size_bytes = excluded.size_bytes,
			mtime_ns = excluded.mtime_ns,
			updated_at = excluded.updated_at`,
		key, size, modTime.UnixNano(), flag, nowText())
	if err != nil {
		return fmt.Errorf("store probe check: %w", err)
	}
	return nil
}

// StoreMetadata records metadata for a file version. A check stored for a
// different version is discarded.
func (c *Cache) StoreMetadata(ctx context.Context, key string, meta registry.Metadata) error {
	_, err := c.exec(ctx, `INSERT INTO probes (key, size_bytes, mtime_ns, has_metadata,
			duration_seconds, width, height, codec, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			optimized = CASE WHEN probes.size_bytes = excluded.size_bytes AND probes.mtime_ns = excluded.mtime_ns
				THEN probes.optimized ELSE NULL END,
			has_metadata = 1,
			duration_seconds = excluded.duration_seconds,
			width = excluded.width,
			height = excluded.height,
			codec = excluded.codec,
			size_bytes = excluded.size_bytes,
			mtime_ns = excluded.mtime_ns,
			updated_at = excluded.updated_at`,
		key, meta.SizeBytes, meta.ModifiedAt.UnixNano(),
		meta.DurationSeconds, meta.Width, meta.Height, meta.Codec, nowText())
	if err != nil {
		return fmt.Errorf("store probe metadata: %w", err)
	}
	return nil
}

// Invalidate forgets everything cached for key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if _, err := c.exec(ctx, "DELETE FROM probes WHERE key = ?", key); err != nil {
		return fmt.Errorf("invalidate probe: %w", err)
	}
	return nil
}

// Clear removes every cached record and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	res, err := c.exec(ctx, "DELETE FROM probes")
	if err != nil {
		return 0, fmt.Errorf("clear probes: %w", err)
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

// Stats reports the number of cached records and hit counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	var count int64
	if err := retryOnBusy(ctx, func() error {
		return c.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM probes").Scan(&count)
	}); err != nil {
		return Stats{}, fmt.Errorf("count probes: %w", err)
	}
	return Stats{Entries: count, Hits: c.hits.Load(), Misses: c.misses.Load()}, nil
}

func nowText() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
