package pipeline

import (
	"context"
	"sort"
	"sync"
)

// TaskSet tracks in-flight pipeline goroutines per key so callers can drain
// them. Tasks share a base context that Close cancels.
type TaskSet struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]int
	total   int
	idle    chan struct{}
}

// NewTaskSet returns an empty set whose tasks derive from parent.
func NewTaskSet(parent context.Context) *TaskSet {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	idle := make(chan struct{})
	close(idle)
	return &TaskSet{
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]int),
		idle:    idle,
	}
}

// Go runs fn in a new goroutine tracked under key.
func (t *TaskSet) Go(key string, fn func(ctx context.Context)) {
	t.mu.Lock()
	if t.total == 0 {
		t.idle = make(chan struct{})
	}
	t.total++
	t.running[key]++
	t.mu.Unlock()

	go func() {
		defer t.done(key)
		fn(t.ctx)
	}()
}

func (t *TaskSet) done(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total--
	if t.running[key]--; t.running[key] <= 0 {
		delete(t.running, key)
	}
	if t.total == 0 {
		close(t.idle)
	}
}

// Active returns the number of running tasks.
func (t *TaskSet) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Keys returns the keys with at least one running task, sorted.
func (t *TaskSet) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.running))
	for key := range t.running {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Wait blocks until no task is running or ctx is done.
func (t *TaskSet) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		// Tasks started while waiting may have re-armed the channel.
		if t.Active() > 0 {
			return t.Wait(ctx)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the context handed to running and future tasks.
func (t *TaskSet) Close() {
	t.cancel()
}
