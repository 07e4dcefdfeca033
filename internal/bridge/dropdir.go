package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"faststart/internal/logging"
)

const defaultDebounce = 250 * time.Millisecond

// DropFolderChannel reports entries created in or moved into a directory.
// Events arriving close together are delivered as one batch.
type DropFolderChannel struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// NewDropFolderChannel watches dir. A zero debounce uses 250ms.
func NewDropFolderChannel(dir string, debounce time.Duration, logger *slog.Logger) *DropFolderChannel {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &DropFolderChannel{
		dir:      dir,
		debounce: debounce,
		logger:   logging.NewComponentLogger(logger, "drop-folder"),
	}
}

// Name implements Channel.
func (d *DropFolderChannel) Name() string { return "drop-folder" }

// Connect starts watching. The channel is unavailable until the directory
// exists.
func (d *DropFolderChannel) Connect(context.Context) (Subscription, error) {
	info, err := os.Stat(d.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnavailable, d.dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(d.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrUnavailable, d.dir, err)
	}

	done := make(chan struct{})
	sub := newSubscription(4, func() error {
		close(done)
		return watcher.Close()
	})
	go d.loop(watcher, sub, done)
	return sub, nil
}

func (d *DropFolderChannel) loop(watcher *fsnotify.Watcher, sub *subscription, done <-chan struct{}) {
	defer close(sub.batches)

	var (
		pending []string
		seen    = make(map[string]struct{})
		timer   *time.Timer
		fire    <-chan time.Time
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		seen = make(map[string]struct{})
		select {
		case sub.batches <- batch:
		case <-done:
		}
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				flush()
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if _, dup := seen[event.Name]; dup {
				continue
			}
			seen[event.Name] = struct{}{}
			pending = append(pending, event.Name)
			if timer == nil {
				timer = time.NewTimer(d.debounce)
			} else {
				timer.Reset(d.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			flush()
		case err, ok := <-watcher.Errors:
			if !ok {
				flush()
				return
			}
			d.logger.Warn("drop folder watch error",
				logging.Error(err),
				logging.Event("drop_folder_error"),
				logging.Impact("some drops may be missed"),
				logging.Hint("re-drop missing files"),
			)
		}
	}
}
