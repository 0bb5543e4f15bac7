// Package retry wraps a small, bounded exponential-backoff policy around
// adapter operations that fail with a transient bundleerr.NetworkError,
// matching spec.md §7's "NetworkError is retried within the adapter with
// exponential backoff, a small bounded number of attempts, and jitter"
// propagation policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/modelops/bundle/bundleerr"
)

// Policy bounds a retry loop. The zero value is a usable default.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy makes up to 5 attempts with jittered exponential backoff
// starting at 200ms and capping at 5s per attempt.
var DefaultPolicy = Policy{
	MaxAttempts:     5,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// Do runs op, retrying while it returns a retryable *bundleerr.NetworkError.
// Any other error, or a non-retryable NetworkError, is returned immediately.
// ctx cancellation aborts the retry loop and surfaces bundleerr.CanceledError.
func Do(ctx context.Context, p Policy, op string, fn func() error) error {
	if p.MaxAttempts == 0 {
		p = DefaultPolicy
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	bounded := backoff.WithMaxRetries(b, p.MaxAttempts-1)
	ctxBackoff := backoff.WithContext(bounded, ctx)

	err := backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(&bundleerr.CanceledError{Op: op})
		}
		err := fn()
		if err == nil {
			return nil
		}
		var netErr *bundleerr.NetworkError
		if errors.As(err, &netErr) && netErr.Retryable {
			return err
		}
		return backoff.Permanent(err)
	}, ctxBackoff)

	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		return &bundleerr.CanceledError{Op: op}
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
