// Package remoteca is the boundary to the remote certificate authority
// service that terminates TLS for the VPN endpoint.
package remoteca

import (
	"context"
	"fmt"
	"time"

	"github.com/jmcleod/ironvpn/internal/errdefs"
)

// ErrCertificateNotFound is returned for an unknown certificate ID.
var ErrCertificateNotFound = fmt.Errorf("remote certificate %w", errdefs.ErrNotFound)

// Certificate statuses reported by the remote service.
const (
	StatusIssued            = "ISSUED"
	StatusPendingValidation = "PENDING_VALIDATION"
	StatusExpired           = "EXPIRED"
	StatusRevoked           = "REVOKED"
	StatusFailed            = "FAILED"
)

// Certificate types reported by the remote service.
const (
	TypeImported     = "IMPORTED"
	TypeAmazonIssued = "AMAZON_ISSUED"
)

// Certificate describes a certificate held by the remote service.
type Certificate struct {
	ID       string
	Domain   string
	Status   string
	Type     string
	Serial   string
	NotAfter time.Time
	InUse    bool
}

// Authority is the remote certificate authority service.
type Authority interface {
	// RequestCertificate requests a publicly trusted certificate for domain,
	// validated by DNS, and returns its ID.
	RequestCertificate(ctx context.Context, domain string) (string, error)
	// ImportCertificate imports a PEM certificate, key and chain. A non-empty
	// existingID re-imports over that certificate. It returns the ID.
	ImportCertificate(ctx context.Context, certPEM, keyPEM, chainPEM []byte, existingID string) (string, error)
	DescribeCertificate(ctx context.Context, id string) (*Certificate, error)
	ListCertificates(ctx context.Context) ([]Certificate, error)
	// DeleteCertificate returns ErrCertificateNotFound for an unknown ID.
	DeleteCertificate(ctx context.Context, id string) error
}
