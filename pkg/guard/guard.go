// Package guard bounds the wall-clock time of a unit of work. It is the
// single suspension point exposed to workers: connector calls, safety
// assessments, and step executions all run under a guard.
//
// The guard only gives up waiting. It does not abort the underlying
// operation, which may be an opaque external call; an operation that
// outlives its deadline is abandoned and its eventual result discarded.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is the sentinel for any guard deadline overrun. It maps to a
// gateway-timeout class response so callers can tell "no answer in time"
// from an explicit failure.
var ErrTimeout = errors.New("operation timed out")

// TimeoutError reports an operation that did not settle before its deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Guard races operations against a fixed deadline.
type Guard struct {
	timeout time.Duration
	newErr  func(time.Duration) error
}

// Option configures a Guard.
type Option func(*Guard)

// WithErrorFactory overrides the error produced on deadline overrun.
func WithErrorFactory(f func(time.Duration) error) Option {
	return func(g *Guard) {
		if f != nil {
			g.newErr = f
		}
	}
}

// New creates a Guard with the given timeout. Negative timeouts are clamped
// to zero; a zero timeout disables the guard entirely.
func New(timeout time.Duration, opts ...Option) *Guard {
	if timeout < 0 {
		timeout = 0
	}
	g := &Guard{
		timeout: timeout,
		newErr:  func(d time.Duration) error { return &TimeoutError{Timeout: d} },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout reports the configured deadline.
func (g *Guard) Timeout() time.Duration { return g.timeout }

// Run races op against the guard's deadline. With a zero timeout the
// operation runs unguarded on the calling goroutine. Otherwise op runs on
// its own goroutine and whichever settles first wins; on overrun the guard
// returns its timeout error and leaves op to finish on its own. The timer
// is always stopped on exit.
func (g *Guard) Run(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	return run(ctx, g.timeout, g.newErr, op)
}

// Do is the generic form of Guard.Run for callers that want a typed result
// without an assertion at the call site.
func Do[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout < 0 {
		timeout = 0
	}
	return run(ctx, timeout, func(d time.Duration) error { return &TimeoutError{Timeout: d} }, op)
}

type outcome[T any] struct {
	value T
	err   error
}

func run[T any](ctx context.Context, timeout time.Duration, newErr func(time.Duration) error, op func(context.Context) (T, error)) (T, error) {
	if timeout == 0 {
		return op(ctx)
	}

	// Buffered so the abandoned operation can still send and exit.
	done := make(chan outcome[T], 1)
	go func() {
		value, err := op(ctx)
		done <- outcome[T]{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		return zero, newErr(timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
