// Package retry provides exponential-backoff retry logic for transient
// faults (busy database handles, flaky generation endpoints).
//
// Usage:
//
//	err := retry.Do(ctx, retry.Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond}, func() error {
//	    return store.Append(msg)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	// Attempts is the total number of attempts, including the first.
	// Zero or negative means a single attempt (no retries).
	Attempts int
	// BaseDelay is the wait before the second attempt; each subsequent
	// wait doubles, capped at MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
	// Retryable classifies errors. When nil every non-nil error is retried.
	Retryable func(err error) bool
	// OnAttempt, when non-nil, is invoked after each failed attempt before
	// the backoff sleep. Used by callers that need to run a recovery step
	// (e.g. schema repair) between attempts.
	OnAttempt func(attempt int, err error)
}

// Default is a policy suitable for short-lived local I/O.
var Default = Policy{
	Attempts:  3,
	BaseDelay: 200 * time.Millisecond,
	MaxDelay:  5 * time.Second,
}

// Do runs fn up to p.Attempts times with exponential backoff. It returns nil
// as soon as fn succeeds, stops early when ctx is cancelled or the error is
// classified non-retryable, and otherwise returns the last attempt's error.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = Default.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = Default.MaxDelay
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, lastErr)
		}

		if attempt < p.Attempts {
			slog.Debug("retry: attempt failed",
				"attempt", attempt, "max", p.Attempts,
				"err", lastErr, "delay", delay)

			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(delay):
			}

			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}

	return lastErr
}
