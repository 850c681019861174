// File: internal/probe/probe.go

// Package probe provides the single polling primitive every wait in this
// program is built on. The driven page never pushes events at us, so all
// state transitions are inferred by evaluating a predicate on a fixed
// cadence until it holds or the deadline passes.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimedOut is returned when the deadline elapses before the predicate
// yields a result. Callers match it with errors.Is.
var ErrTimedOut = errors.New("probe timed out")

// IsTimeout reports whether err is (or wraps) a poll deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut)
}

// Func is evaluated once per poll. Returning ok ends the wait with the
// value. Returning an error is treated as "no result yet" and retried,
// unless the error is wrapped with Fatal.
type Func[T any] func(ctx context.Context) (T, bool, error)

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks a predicate error as terminal, aborting the poll loop
// immediately instead of retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Until polls fn every interval until it yields a result, the timeout
// elapses, or ctx is cancelled. A timeout of 0 means unbounded.
func Until[T any](ctx context.Context, interval, timeout time.Duration, fn Func[T]) (T, error) {
	var zero T

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	start := time.Now()
	for {
		val, ok, err := fn(ctx)
		if err != nil {
			var fatal *fatalError
			if errors.As(err, &fatal) {
				return zero, fatal.err
			}
			// Transient failure; fall through to the next poll.
		} else if ok {
			return val, nil
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline:
			return zero, fmt.Errorf("%w after %s", ErrTimedOut, time.Since(start).Round(time.Millisecond))
		case <-time.After(interval):
		}
	}
}

// Stable polls fn every interval until it has yielded the same value on
// `needed` consecutive polls. A non-result or a differing value resets the
// agreement counter. This is the debounce used against render-in-progress
// observations.
func Stable[T comparable](ctx context.Context, interval, timeout time.Duration, needed int, fn Func[T]) (T, error) {
	if needed < 1 {
		needed = 1
	}

	var last T
	streak := 0

	return Until(ctx, interval, timeout, func(ctx context.Context) (T, bool, error) {
		val, ok, err := fn(ctx)
		if err != nil || !ok {
			streak = 0
			return val, false, err
		}
		if streak > 0 && val == last {
			streak++
		} else {
			streak = 1
		}
		last = val
		return val, streak >= needed, nil
	})
}
