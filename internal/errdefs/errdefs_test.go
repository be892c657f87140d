package errdefs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", fmt.Errorf("user alice: %w", ErrNotFound), true},
		{"conflict", fmt.Errorf("%w: already revoked", ErrConflict), true},
		{"fatal", fmt.Errorf("ledger: %w", ErrFatal), true},
		{"rejected", ErrRejected, true},
		{"canceled", context.Canceled, true},
		{"remote", ErrRemoteUnavailable, false},
		{"verification", ErrVerificationFailed, false},
		{"plain", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestKind(t *testing.T) {
	both := fmt.Errorf("%w: %w", ErrRemoteUnavailable, ErrVerificationFailed)
	assert.Equal(t, "verification_failed", Kind(both))
	assert.Equal(t, "not_found", Kind(fmt.Errorf("x: %w", ErrNotFound)))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
}
