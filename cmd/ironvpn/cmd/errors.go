package cmd

import (
	"errors"

	"github.com/jmcleod/ironvpn/internal/errdefs"
)

// Exit codes by error kind.
const (
	exitOK                 = 0
	exitError              = 1
	exitNotFound           = 3
	exitConflict           = 4
	exitRemoteUnavailable  = 5
	exitVerificationFailed = 6
	exitFatal              = 7
	exitRejected           = 8
)

// exitCode maps err onto the process exit code of its errdefs kind. Fatal
// wins over every other kind.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errdefs.ErrFatal):
		return exitFatal
	case errors.Is(err, errdefs.ErrVerificationFailed):
		return exitVerificationFailed
	case errors.Is(err, errdefs.ErrRemoteUnavailable):
		return exitRemoteUnavailable
	case errors.Is(err, errdefs.ErrNotFound):
		return exitNotFound
	case errors.Is(err, errdefs.ErrConflict):
		return exitConflict
	case errors.Is(err, errdefs.ErrRejected):
		return exitRejected
	}
	return exitError
}
