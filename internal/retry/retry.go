package retry

import (
	"context"
	"errors"
	"time"
)

// DefaultBackoff is the default set of delays between attempts.
var DefaultBackoff = []time.Duration{2 * time.Second, 10 * time.Second, 30 * time.Second}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error to signal that retrying cannot help (bad
// request, invariant violation, missing resource).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the permanent marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type options struct {
	backoff []time.Duration
}

// Option configures retry behavior.
type Option func(*options)

// WithBackoff sets the delays between attempts. The number of attempts is
// len(delays)+1.
func WithBackoff(delays ...time.Duration) Option {
	return func(o *options) { o.backoff = delays }
}

// Do executes fn, retrying after each delay in the backoff schedule until
// fn succeeds, returns a permanent error, or the context is cancelled.
// The schedule bounds the attempt count: len(backoff)+1 attempts total.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := options{backoff: DefaultBackoff}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 0; attempt <= len(o.backoff); attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var pe *permanentError
		if errors.As(lastErr, &pe) {
			return pe.err
		}

		if attempt < len(o.backoff) {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(o.backoff[attempt]):
			}
		}
	}
	return lastErr
}

// DoVal is like Do but for functions that return a value and an error.
func DoVal[T any](ctx context.Context, fn func() (T, error), opts ...Option) (T, error) {
	var val T
	err := Do(ctx, func() error {
		var fnErr error
		val, fnErr = fn()
		return fnErr
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return val, nil
}
