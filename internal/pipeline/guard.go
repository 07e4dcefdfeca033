package pipeline

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"faststart/internal/logging"
	"faststart/internal/registry"
)

// safeCall runs fn and converts a panic into an error so callers can always
// settle the entry they marked transient.
func safeCall(logger *slog.Logger, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("collaborator panicked",
				logging.String("operation", op),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%s panicked: %v", op, r)
		}
	}()
	return fn()
}

// noteTransition logs transitions outside the usual lifecycle. Re-triggers and
// last-completion-wins races make them legal, but they are worth seeing at
// debug level.
func noteTransition(logger *slog.Logger, from, to registry.Status) {
	if from == to || registry.CanTransition(from, to) {
		return
	}
	logger.Debug("out-of-order status transition",
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	)
}
