// Package revocation owns the revocation set and renders it as a signed CRL.
package revocation

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/pki"
)

// DefaultWindow is the default interval between a CRL's thisUpdate and
// nextUpdate.
const DefaultWindow = 30 * 24 * time.Hour

// ErrInvalidCRL is returned when a CRL cannot be parsed or its signature
// does not verify against the CA.
var ErrInvalidCRL = fmt.Errorf("%w: invalid CRL", errdefs.ErrVerificationFailed)

const pemType = "X509 CRL"

// Document is a rendered or fetched CRL.
type Document struct {
	// Number is the CRL number, which is also the published version.
	Number     int64
	ThisUpdate time.Time
	NextUpdate time.Time
	// Serials are the revoked serials, oldest revocation first.
	Serials []int64
	PEM     []byte
}

// Digest returns the hex SHA-256 of the PEM encoding.
func (d *Document) Digest() string {
	return Digest(d.PEM)
}

// Stale reports whether d is past its nextUpdate at now.
func (d *Document) Stale(now time.Time) bool {
	return now.After(d.NextUpdate)
}

// Contains reports whether serial is revoked by d.
func (d *Document) Contains(serial int64) bool {
	return slices.Contains(d.Serials, serial)
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Registry records revocations in the ledger and renders CRLs signed by the
// CA.
type Registry struct {
	ledger    *ledger.Ledger
	authority *pki.Authority
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithWindow sets the CRL validity window. Default: DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(r *Registry) {
		r.window = d
	}
}

// WithClock sets the clock used for thisUpdate.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns a Registry over l, signing with a.
func NewRegistry(l *ledger.Ledger, a *pki.Authority, opts ...Option) *Registry {
	r := &Registry{
		ledger:    l,
		authority: a,
		window:    DefaultWindow,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Revoke revokes the active client certificate of name. It fails with
// ledger.ErrIdentityNotFound or ledger.ErrAlreadyRevoked and changes nothing
// in that case. A non-nil op records its revoke step atomically.
func (r *Registry) Revoke(name string, op *ledger.Operation) (*ledger.RevocationEntry, error) {
	_, entry, err := r.ledger.Revoke(name, op)
	if err != nil {
		return nil, err
	}
	r.logger.Info("revocation: certificate revoked", "name", name, "serial", entry.Serial, "seq", entry.Seq)
	return entry, nil
}

// Render signs a CRL of the current revocation set and writes it to
// crl.pem. The set is read from one consistent ledger view; an inconsistent
// ledger fails with ledger.ErrCorrupt and nothing is rendered.
func (r *Registry) Render() (*Document, error) {
	snap, err := r.ledger.Snapshot()
	if err != nil {
		return nil, err
	}
	caCert, signer, err := r.authority.SigningIdentity()
	if err != nil {
		return nil, err
	}

	entries := make([]x509.RevocationListEntry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   big.NewInt(e.Serial),
			RevocationTime: e.RevokedAt,
		})
	}

	thisUpdate := r.now().UTC().Truncate(time.Second)
	template := &x509.RevocationList{
		Number:                    big.NewInt(snap.Version()),
		ThisUpdate:                thisUpdate,
		NextUpdate:                thisUpdate.Add(r.window),
		RevokedCertificateEntries: entries,
	}
	der, err := x509.CreateRevocationList(rand.Reader, template, caCert, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: CRL: %v", pki.ErrSigning, err)
	}
	crlPEM := pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der})
	if err := r.authority.Files().WriteCRL(crlPEM); err != nil {
		return nil, fmt.Errorf("writing crl.pem: %w", err)
	}

	return &Document{
		Number:     snap.Version(),
		ThisUpdate: template.ThisUpdate,
		NextUpdate: template.NextUpdate,
		Serials:    snap.Serials(),
		PEM:        crlPEM,
	}, nil
}

// ParseDocument verifies pemData against issuer and recovers its number and
// serials. Documents past nextUpdate are returned as-is; use Stale.
func ParseDocument(pemData []byte, issuer *x509.Certificate) (*Document, error) {
	block, _ := pem.Decode(bytes.TrimSpace(pemData))
	if block == nil || block.Type != pemType {
		return nil, fmt.Errorf("%w: no %s PEM block", ErrInvalidCRL, pemType)
	}
	crl, err := x509.ParseRevocationList(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCRL, err)
	}
	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidCRL, err)
	}

	doc := &Document{
		ThisUpdate: crl.ThisUpdate,
		NextUpdate: crl.NextUpdate,
		PEM:        pemData,
	}
	if crl.Number != nil {
		doc.Number = crl.Number.Int64()
	}
	for _, e := range crl.RevokedCertificateEntries {
		doc.Serials = append(doc.Serials, e.SerialNumber.Int64())
	}
	return doc, nil
}
