// Package retry wraps fallible, idempotent operations with bounded or
// unbounded retry under explicit stop conditions.
//
// A stopped retry is not a failed retry. Abandoning a wait because the
// principal left the guild or got verified through another path must not be
// logged or reported as an error, so Do distinguishes three exits: the
// operation's result, ErrExhausted wrapping the last failure, and ErrAborted
// when the stop predicate fired.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAborted reports that the stop predicate ended the retry loop. This is
	// a distinguished outcome, not a failure.
	ErrAborted = errors.New("retry: aborted by stop predicate")

	// ErrExhausted reports that every allowed attempt failed with a transient
	// error. It wraps the last attempt's error.
	ErrExhausted = errors.New("retry: attempts exhausted")
)

// Options tunes one call to Do.
type Options struct {
	// MaxAttempts bounds the number of attempts. Zero means unbounded.
	MaxAttempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// Classify reports whether an operation error is transient and worth
	// retrying. A nil Classify treats every error as permanent.
	Classify func(error) bool

	// Stop is consulted before every attempt and before every wait. When it
	// reports true, Do returns ErrAborted. A nil Stop never stops. An error
	// from Stop itself is treated as a stop signal: if the predicate cannot
	// be evaluated, continuing to hammer the upstream is the wrong default.
	Stop func(ctx context.Context) (bool, error)
}

func (o Options) stopped(ctx context.Context) (bool, error) {
	if o.Stop == nil {
		return false, nil
	}

	stop, err := o.Stop(ctx)
	if err != nil {
		return true, fmt.Errorf("%w: stop predicate failed: %w", ErrAborted, err)
	}
	if stop {
		return true, ErrAborted
	}

	return false, nil
}

// Do calls op until it succeeds, fails permanently, exhausts its attempts, or
// is stopped. The inter-attempt wait is the only cancellable point; context
// cancellation there aborts with the context's error.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), o Options) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		if stop, err := o.stopped(ctx); stop {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if o.Classify == nil || !o.Classify(err) {
			return zero, err
		}

		if o.MaxAttempts != 0 && attempt >= o.MaxAttempts {
			return zero, fmt.Errorf("%w after %d attempt(s): %w", ErrExhausted, attempt, err)
		}

		if stop, err := o.stopped(ctx); stop {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		case <-time.After(o.Delay):
		}
	}
}
