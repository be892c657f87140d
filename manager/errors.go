package manager

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/ledger"
)

var (
	// ErrEndpointRequired is returned when an operation needs a VPN
	// endpoint and none was given.
	ErrEndpointRequired = errors.New("VPN endpoint ID required")

	// ErrGatewayDisabled is returned when an operation needs the gateway and
	// the gateway integration is not configured.
	ErrGatewayDisabled = errors.New("gateway integration disabled")

	// ErrRemoteDisabled is returned when an operation needs the remote
	// certificate authority service and it is not configured.
	ErrRemoteDisabled = errors.New("remote certificate service disabled")

	// ErrCAProtected is returned when deleting the CA's remote certificate
	// without force.
	ErrCAProtected = fmt.Errorf("%w: remote certificate belongs to the CA", errdefs.ErrConflict)

	// ErrStaleFiles is returned when a client's certificate file does not
	// match the ledger record.
	ErrStaleFiles = fmt.Errorf("%w: certificate file does not match the ledger", errdefs.ErrVerificationFailed)
)

// StepError reports the step at which a revocation-affecting operation
// stopped. Steps before it are durable; resume the operation to continue.
type StepError struct {
	Operation string
	Step      ledger.Step
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("operation %s stopped at %s: %v", e.Operation, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// BundleError reports a bundle failure after a successful issuance. The
// certificate stays active.
type BundleError struct {
	Certificate *ledger.Certificate
	Err         error
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("certificate %s (serial %d) issued but bundle failed: %v", e.Certificate.Name, e.Certificate.Serial, e.Err)
}

func (e *BundleError) Unwrap() error { return e.Err }
