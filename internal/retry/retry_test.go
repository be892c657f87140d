package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironvpn/internal/errdefs"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Timeout:         time.Second,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), "put", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustedWrapsRemoteUnavailable(t *testing.T) {
	calls := 0
	cause := errors.New("connection refused")
	err := Do(context.Background(), fastPolicy(3), "put", func(ctx context.Context) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errdefs.ErrRemoteUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempt(s)")
}

func TestDo_VerificationFailureKeepsKind(t *testing.T) {
	err := Do(context.Background(), fastPolicy(2), "verify", func(ctx context.Context) error {
		return fmt.Errorf("digest mismatch: %w", errdefs.ErrVerificationFailed)
	})
	assert.ErrorIs(t, err, errdefs.ErrVerificationFailed)
	assert.ErrorIs(t, err, errdefs.ErrRemoteUnavailable)
}

func TestDo_PermanentErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", fmt.Errorf("object: %w", errdefs.ErrNotFound)},
		{"conflict", errdefs.ErrConflict},
		{"explicit", Permanent(errors.New("bad request"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fastPolicy(5), "call", func(ctx context.Context) error {
				calls++
				return tt.err
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.NotErrorIs(t, err, errdefs.ErrRemoteUnavailable)
		})
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	p := fastPolicy(2)
	p.Timeout = 5 * time.Millisecond
	calls := 0
	err := Do(context.Background(), p, "slow", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, errdefs.ErrRemoteUnavailable)
}

func TestDo_CanceledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastPolicy(5), "call", func(ctx context.Context) error {
		return errors.New("unreachable")
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errdefs.ErrRemoteUnavailable)
}
