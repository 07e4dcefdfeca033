package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskSetWaitDrains(t *testing.T) {
	tasks := NewTaskSet(context.Background())
	release := make(chan struct{})
	tasks.Go("a", func(context.Context) { <-release })
	tasks.Go("a", func(context.Context) { <-release })
	tasks.Go("b", func(context.Context) { <-release })

	if tasks.Active() != 3 {
		t.Fatalf("expected 3 active, got %d", tasks.Active())
	}
	if keys := tasks.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tasks.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while tasks block, got %v", err)
	}

	close(release)
	drain(t, tasks)
	if tasks.Active() != 0 || len(tasks.Keys()) != 0 {
		t.Fatal("tasks should be drained")
	}
}

func TestTaskSetWaitOnEmptyReturnsImmediately(t *testing.T) {
	if err := NewTaskSet(context.Background()).Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestTaskSetCloseCancelsTasks(t *testing.T) {
	tasks := NewTaskSet(context.Background())
	tasks.Go("a", func(ctx context.Context) { <-ctx.Done() })
	tasks.Close()
	drain(t, tasks)
}
