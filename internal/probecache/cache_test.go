package probecache

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"faststart/internal/registry"
	"faststart/internal/testsupport"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cache, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestLookupRequiresMatchingVersion(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	mtime := time.Unix(1700000000, 123456789)

	if err := cache.StoreCheck(ctx, "/v/a.mp4", 100, mtime, true); err != nil {
		t.Fatalf("StoreCheck: %v", err)
	}
	rec, ok, err := cache.Lookup(ctx, "/v/a.mp4", 100, mtime)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if rec.Optimized == nil || !*rec.Optimized || rec.Metadata != nil {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, ok, _ := cache.Lookup(ctx, "/v/a.mp4", 101, mtime); ok {
		t.Fatal("size change must miss")
	}
	if _, ok, _ := cache.Lookup(ctx, "/v/a.mp4", 100, mtime.Add(time.Nanosecond)); ok {
		t.Fatal("mtime change must miss")
	}
	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestMetadataAndCheckMergeForSameVersion(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	mtime := time.Unix(1700000000, 0).UTC()
	meta := registry.Metadata{SizeBytes: 100, DurationSeconds: 9.5, Width: 640, Height: 480, Codec: "h264", ModifiedAt: mtime}

	if err := cache.StoreCheck(ctx, "/v/a.mp4", 100, mtime, false); err != nil {
		t.Fatal(err)
	}
	if err := cache.StoreMetadata(ctx, "/v/a.mp4", meta); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := cache.Lookup(ctx, "/v/a.mp4", 100, mtime)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if rec.Optimized == nil || *rec.Optimized {
		t.Fatalf("check result lost: %+v", rec)
	}
	if rec.Metadata == nil || *rec.Metadata != meta {
		t.Fatalf("metadata mismatch: %+v", rec.Metadata)
	}

	// A new version of the file drops the stale check.
	newer := meta
	newer.SizeBytes = 200
	if err := cache.StoreMetadata(ctx, "/v/a.mp4", newer); err != nil {
		t.Fatal(err)
	}
	rec, ok, _ = cache.Lookup(ctx, "/v/a.mp4", 200, mtime)
	if !ok || rec.Optimized != nil {
		t.Fatalf("stale check should be cleared: %+v", rec)
	}
}

func TestInvalidateAndClear(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	mtime := time.Now()
	for _, key := range []string{"/a", "/b", "/c"} {
		if err := cache.StoreCheck(ctx, key, 1, mtime, true); err != nil {
			t.Fatal(err)
		}
	}
	if err := cache.Invalidate(ctx, "/a"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := cache.Lookup(ctx, "/a", 1, mtime); ok {
		t.Fatal("invalidated key should miss")
	}
	removed, err := cache.Clear(ctx)
	if err != nil || removed != 2 {
		t.Fatalf("Clear: removed=%d err=%v", removed, err)
	}
}

func TestSchemaMismatchRebuildsCache(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "probes.db")
	cache, err := OpenPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cache.Rebuilt() {
		t.Fatal("fresh cache should not report a rebuild")
	}
	mtime := time.Unix(1700000000, 0)
	if err := cache.StoreCheck(ctx, "/a", 1, mtime, true); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = cache.Close()

	reopened, err := OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if !reopened.Rebuilt() {
		t.Fatal("expected rebuild after version change")
	}
	if _, ok, _ := reopened.Lookup(ctx, "/a", 1, mtime); ok {
		t.Fatal("rebuilt cache should be empty")
	}
}

type countingAnalyzer struct {
	checks atomic.Int32
	metas  atomic.Int32
}

func (c *countingAnalyzer) CheckOptimized(context.Context, string) (bool, error) {
	c.checks.Add(1)
	return true, nil
}

func (c *countingAnalyzer) Metadata(_ context.Context, path string) (registry.Metadata, error) {
	c.metas.Add(1)
	info, err := os.Stat(path)
	if err != nil {
		return registry.Metadata{}, err
	}
	return registry.Metadata{SizeBytes: info.Size(), ModifiedAt: info.ModTime().UTC(), Codec: "avc1"}, nil
}

func TestAnalyzerServesRepeatProbesFromCache(t *testing.T) {
	cache := openTestCache(t)
	inner := &countingAnalyzer{}
	analyzer := NewAnalyzer(inner, cache, nil)
	path := testsupport.WriteMP4(t, t.TempDir(), "a.mp4", testsupport.DefaultMP4(true))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, err := analyzer.CheckOptimized(ctx, path); err != nil || !ok {
			t.Fatalf("CheckOptimized: ok=%v err=%v", ok, err)
		}
		if meta, err := analyzer.Metadata(ctx, path); err != nil || meta.Codec != "avc1" {
			t.Fatalf("Metadata: %+v err=%v", meta, err)
		}
	}
	if inner.checks.Load() != 1 || inner.metas.Load() != 1 {
		t.Fatalf("expected one probe each, got checks=%d metas=%d", inner.checks.Load(), inner.metas.Load())
	}

	if err := analyzer.Invalidate(ctx, path); err != nil {
		t.Fatal(err)
	}
	if _, err := analyzer.CheckOptimized(ctx, path); err != nil {
		t.Fatal(err)
	}
	if inner.checks.Load() != 2 {
		t.Fatal("invalidation should force a fresh probe")
	}
}
