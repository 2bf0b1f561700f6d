package runctx

import (
	"context"

	"pbx-monitor/internal/logging"
)

// RecvOrDone waits for the next value on in. It reports false once ctx ends
// or in is closed; name only labels the debug line.
func RecvOrDone[T any](ctx context.Context, name string, logger *logging.Logger, in <-chan T) (T, bool) {
	if logger == nil {
		panic("runctx.RecvOrDone: logger must not be nil")
	}
	select {
	case <-ctx.Done():
		logger.Debug(name+" stopped", logging.Field("error", ctx.Err()))
		var zero T
		return zero, false
	case v, ok := <-in:
		if !ok {
			logger.Debug(name + " stopped: channel closed")
		}
		return v, ok
	}
}

// SendDropOldest never blocks: when out is full its oldest value is
// discarded to make room. It reports whether anything was dropped.
func SendDropOldest[T any](out chan T, value T) bool {
	select {
	case out <- value:
		return false
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- value:
	default:
	}
	return true
}
