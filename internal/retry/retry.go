// Package retry runs idempotent remote calls under a bounded exponential
// backoff policy with a per-attempt timeout.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jmcleod/ironvpn/internal/errdefs"
)

// Policy bounds the retries of a single remote call.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialInterval is the wait before the second attempt.
	InitialInterval time.Duration
	// MaxInterval caps the wait between attempts.
	MaxInterval time.Duration
	// Timeout bounds each individual attempt. Zero means no per-attempt bound.
	Timeout time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
		Timeout:         30 * time.Second,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Permanent marks err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a permanent error, or the policy is
// exhausted. Errors classified permanent by errdefs are never retried. When
// the attempts run out the last error is returned wrapped with
// errdefs.ErrRemoteUnavailable so callers can tell a system problem from a
// request problem.
func Do(ctx context.Context, p Policy, what string, fn func(ctx context.Context) error) error {
	attempt := 0
	permanent := false
	op := func() error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			return err
		}
		if errdefs.IsPermanent(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("retry: attempt failed", "call", what, "attempt", attempt, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if permanent || ctx.Err() != nil {
		return err
	}
	if errors.Is(err, errdefs.ErrRemoteUnavailable) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s failed after %d attempt(s): %w: %w", what, attempt, errdefs.ErrRemoteUnavailable, err)
}
