package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"faststart/internal/logging"
	"faststart/internal/registry"
	"faststart/internal/services"
)

// ErrUnavailable is returned by Channel.Connect while the host side is not
// ready yet. Any other error is treated the same way but logged.
var ErrUnavailable = errors.New("channel unavailable")

// ErrConnectivityTimeout is returned by Run once every attempt failed.
var ErrConnectivityTimeout = fmt.Errorf("%w: channel never became ready", services.ErrConnectivity)

// State describes a bridge's connection lifecycle.
type State string

const (
	StateConnecting  State = "connecting"
	StateConnected   State = "connected"
	StateUnavailable State = "unavailable"
)

// Subscription delivers batches of dropped paths. Batches is closed when the
// subscription ends.
type Subscription interface {
	Batches() <-chan []string
	Close() error
}

// Channel is a source of dropped paths.
type Channel interface {
	Name() string
	Connect(ctx context.Context) (Subscription, error)
}

// Admitter receives forwarded batches; ingest.Gateway implements it.
type Admitter interface {
	Admit(ctx context.Context, raw []string) []registry.Entry
}

// Options bounds the connection retry loop.
type Options struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	// OnUnavailable is called once when the bridge gives up.
	OnUnavailable func(channel string, attempts int)
}

// Bridge forwards one channel's drops to an admitter.
type Bridge struct {
	channel  Channel
	admitter Admitter
	opts     Options
	logger   *slog.Logger

	connected atomic.Bool
	attempts  atomic.Int64

	mu    sync.Mutex
	state State
	sub   Subscription
}

// New constructs a bridge. Zero options fall back to 100ms doubling up to
// one second across 50 attempts.
func New(channel Channel, admitter Admitter, opts Options, logger *slog.Logger) *Bridge {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = max(time.Second, opts.InitialDelay)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 50
	}
	return &Bridge{
		channel:  channel,
		admitter: admitter,
		opts:     opts,
		state:    StateConnecting,
		logger:   logging.NewComponentLogger(logger, "bridge").With(logging.String(logging.FieldChannel, channel.Name())),
	}
}

// Name returns the channel name.
func (b *Bridge) Name() string {
	return b.channel.Name()
}

// Connected reports whether a subscription was ever established. It never
// flips back to false.
func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Attempts returns how many connection attempts were made.
func (b *Bridge) Attempts() int {
	return int(b.attempts.Load())
}

// Run connects and forwards batches until ctx is cancelled or the
// subscription ends. It returns ErrConnectivityTimeout when the channel never
// became available.
func (b *Bridge) Run(ctx context.Context) error {
	delay := b.opts.InitialDelay
	for attempt := 1; ; attempt++ {
		b.attempts.Store(int64(attempt))
		sub, err := b.channel.Connect(ctx)
		if err == nil {
			b.attach(sub)
			return b.forward(ctx, sub)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrUnavailable) {
			b.logger.Debug("connect attempt failed", logging.Int("attempt", attempt), logging.Error(err))
		}
		if attempt >= b.opts.MaxAttempts {
			b.setState(StateUnavailable)
			logging.WarnWithContext(b.logger, "channel unavailable; giving up", "connectivity_timeout",
				logging.Int("attempts", attempt),
				logging.Error(err),
				logging.Impact("paths dropped through this channel are ignored"),
				logging.Hint("check the bridge settings and restart the daemon"),
			)
			if b.opts.OnUnavailable != nil {
				b.opts.OnUnavailable(b.channel.Name(), attempt)
			}
			return ErrConnectivityTimeout
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, b.opts.MaxDelay)
	}
}

func (b *Bridge) attach(sub Subscription) {
	b.mu.Lock()
	previous := b.sub
	b.sub = sub
	b.state = StateConnected
	b.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	b.connected.Store(true)
	b.logger.Info("channel connected", logging.Int("attempts", b.Attempts()))
}

func (b *Bridge) forward(ctx context.Context, sub Subscription) error {
	batches := sub.Batches()
	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return nil
		case batch, ok := <-batches:
			if !ok {
				// Reconnection is not attempted; the bridge stays connected
				// in the sense that it did connect once.
				b.logger.Warn("subscription ended",
					logging.Event("subscription_ended"),
					logging.Impact("new drops from this channel are not received"),
					logging.Hint("restart the daemon to reconnect"),
				)
				return nil
			}
			if len(batch) == 0 {
				continue
			}
			b.logger.Debug("paths dropped", logging.Int("paths", len(batch)))
			b.admitter.Admit(ctx, batch)
		}
	}
}

func (b *Bridge) setState(state State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}

// Close ends the current subscription, if any.
func (b *Bridge) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

// subscription is a Subscription backed by a batches channel and a close
// func shared by the channel implementations.
type subscription struct {
	batches chan []string
	once    sync.Once
	stop    func() error
	err     error
}

func newSubscription(buffer int, stop func() error) *subscription {
	return &subscription{batches: make(chan []string, buffer), stop: stop}
}

func (s *subscription) Batches() <-chan []string {
	return s.batches
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.err = s.stop()
		}
	})
	return s.err
}
