// Package errdefs defines the error kinds shared by every ironvpn component.
// Component errors wrap one of these sentinels so that callers classify a
// failure with errors.Is without knowing which component produced it.
package errdefs

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the identity or resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the request contradicts current state, for
	// example a duplicate active identity or an already revoked certificate.
	ErrConflict = errors.New("conflict")

	// ErrRemoteUnavailable indicates a remote service (certificate
	// authority, CRL store or gateway) could not be reached after retries.
	ErrRemoteUnavailable = errors.New("remote service unavailable")

	// ErrVerificationFailed indicates a write could not be confirmed by
	// reading it back.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrFatal indicates corrupted local state. Operations hitting it abort
	// without attempting partial success.
	ErrFatal = errors.New("fatal")

	// ErrRejected indicates a remote service refused the request itself.
	ErrRejected = errors.New("rejected by remote service")
)

// IsPermanent reports whether err describes a request problem or a corrupt
// local state rather than a transient system problem. Permanent errors are
// reported to the caller immediately and never retried.
func IsPermanent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrFatal),
		errors.Is(err, ErrRejected),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}

// Kind returns the name of the error kind err wraps, or "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrFatal):
		return "fatal"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrRemoteUnavailable):
		return "remote_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRejected):
		return "rejected"
	}
	return "internal"
}
