package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/storage"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"not found", fmt.Errorf("lookup: %w", ledger.ErrIdentityNotFound), 3},
		{"conflict", ledger.ErrAlreadyRevoked, 4},
		{"locked", storage.ErrLocked, 4},
		{"remote", fmt.Errorf("publish failed after 4 attempt(s): %w: %w", errdefs.ErrRemoteUnavailable, errors.New("timeout")), 5},
		{"verification", errdefs.ErrVerificationFailed, 6},
		{"fatal", ledger.ErrCorrupt, 7},
		{"fatal wins", errors.Join(ledger.ErrCorrupt, ledger.ErrIdentityNotFound), 7},
		{"rejected", fmt.Errorf("%w: access denied", errdefs.ErrRejected), 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
