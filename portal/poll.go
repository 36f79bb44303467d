package portal

import (
	"context"
	"time"
)

// pollUntil evaluates fn once per interval until it reports success, the
// timeout elapses, or the context is cancelled. A false result is the
// normal "not found" outcome, not an error.
func pollUntil[T any](ctx context.Context, clock Clock, interval, timeout time.Duration, fn func() (T, bool)) (T, bool) {
	var zero T
	deadline := clock.Now().Add(timeout)
	for {
		if v, ok := fn(); ok {
			return v, true
		}
		select {
		case <-ctx.Done():
			return zero, false
		default:
		}
		if clock.Now().Add(interval).After(deadline) {
			return zero, false
		}
		clock.Sleep(interval)
	}
}
