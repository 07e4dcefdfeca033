package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"faststart/internal/registry"
)

type fakeAnalyzer struct {
	mu         sync.Mutex
	optimized  map[string]bool
	checkErr   map[string]error
	meta       map[string]registry.Metadata
	metaErr    error
	checkGate  chan struct{}
	panicCheck bool
	checks     []string
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		optimized: make(map[string]bool),
		checkErr:  make(map[string]error),
		meta:      make(map[string]registry.Metadata),
	}
}

func (f *fakeAnalyzer) CheckOptimized(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	f.checks = append(f.checks, path)
	gate := f.checkGate
	shouldPanic := f.panicCheck
	err := f.checkErr[path]
	optimized := f.optimized[path]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if shouldPanic {
		panic("analyzer exploded")
	}
	return optimized, err
}

func (f *fakeAnalyzer) Metadata(_ context.Context, path string) (registry.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaErr != nil {
		return registry.Metadata{}, f.metaErr
	}
	meta, ok := f.meta[path]
	if !ok {
		return registry.Metadata{}, errors.New("no metadata")
	}
	return meta, nil
}

type fakeOptimizer struct {
	mu       sync.Mutex
	errs     map[string]error
	calls    []string
	inFlight int
	peak     int
	delay    time.Duration
	panics   bool
}

func newFakeOptimizer() *fakeOptimizer {
	return &fakeOptimizer{errs: make(map[string]error)}
}

func (f *fakeOptimizer) Optimize(ctx context.Context, path string, progress ProgressFunc) error {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	err := f.errs[path]
	delay := f.delay
	shouldPanic := f.panics
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if shouldPanic {
		panic("optimizer exploded")
	}
	progress(10, "reading")
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	progress(90, "writing")
	return err
}

func (f *fakeOptimizer) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePlayback struct {
	mu       sync.Mutex
	released []string
	grace    time.Duration
}

func (f *fakePlayback) Release(_ context.Context, key string, grace time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, key)
	f.grace = grace
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeCache) Invalidate(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, key)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	started   []int
	completed [][2]int
	failures  []string
}

func (f *fakeNotifier) NotifyBatchStarted(_ context.Context, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, count)
	return nil
}

func (f *fakeNotifier) NotifyBatchCompleted(_ context.Context, optimized, failed int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, [2]int{optimized, failed})
	return nil
}

func (f *fakeNotifier) NotifyOptimizeFailed(_ context.Context, name string, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, name)
	return nil
}
