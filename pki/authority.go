// Package pki is the private certificate authority: it generates the CA,
// signs client and server certificates and keeps their key material in a
// FileStore while the ledger records serials and state.
package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/ledger"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrKeyGeneration is returned when a private key cannot be generated.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrSigning is returned when a CSR or certificate cannot be signed.
	ErrSigning = errors.New("signing failed")

	// ErrCAMissing is returned when the ledger records a CA whose key
	// material is gone from disk.
	ErrCAMissing = fmt.Errorf("%w: CA key material missing", errdefs.ErrFatal)

	// ErrCAMismatch is returned when the on-disk CA certificate or key does
	// not match the CA recorded in the ledger.
	ErrCAMismatch = fmt.Errorf("%w: CA key material does not match the ledger", errdefs.ErrFatal)
)

// caSerial is the serial of the self-signed CA certificate.
const caSerial = 1

// Authority signs certificates with the CA key.
type Authority struct {
	files   *FileStore
	ledger  *ledger.Ledger
	ks      KeyStore
	alg     KeyAlgorithm
	subject pkix.Name
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an Authority.
type Option func(*Authority)

// WithKeyStore sets the key store used for key generation and signing.
// Default: a fresh SoftwareKeyStore.
func WithKeyStore(ks KeyStore) Option {
	return func(a *Authority) {
		a.ks = ks
	}
}

// WithKeyAlgorithm sets the algorithm of generated keys. Default: RSA2048.
func WithKeyAlgorithm(alg KeyAlgorithm) Option {
	return func(a *Authority) {
		a.alg = alg
	}
}

// WithSubjectTemplate sets the subject fields copied into every leaf
// certificate; the common name is replaced by the client name or domain.
func WithSubjectTemplate(subject pkix.Name) Option {
	return func(a *Authority) {
		a.subject = subject
	}
}

// WithClock sets the clock used for validity windows.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		a.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authority) {
		a.logger = logger
	}
}

// NewAuthority returns an Authority keeping key material in files and
// certificate state in l.
func NewAuthority(files *FileStore, l *ledger.Ledger, opts ...Option) *Authority {
	a := &Authority{
		files:  files,
		ledger: l,
		alg:    RSA2048,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.ks == nil {
		a.ks = NewSoftwareKeyStore()
	}
	return a
}

// Files returns the key material directory.
func (a *Authority) Files() *FileStore { return a.files }

// ---------------------------------------------------------------------------
// CA lifecycle
// ---------------------------------------------------------------------------

// Init generates the CA key, self-signs the CA certificate, writes ca.key
// then ca.crt and records the CA in the ledger. It fails with
// ledger.ErrAlreadyCA when a CA exists in the ledger or on disk.
func (a *Authority) Init(subject pkix.Name, validityDays int) (*ledger.CAState, error) {
	if validityDays <= 0 {
		return nil, fmt.Errorf("validity must be positive, got %d days", validityDays)
	}
	if _, err := a.ledger.CA(); err == nil {
		return nil, ledger.ErrAlreadyCA
	} else if !errors.Is(err, ledger.ErrNoCA) {
		return nil, err
	}
	if a.files.HasCA() {
		return nil, fmt.Errorf("%w: %s already holds CA key material", ledger.ErrAlreadyCA, a.files.Dir())
	}

	keyID, err := a.ks.GenerateKey(a.alg)
	if err != nil {
		return nil, fmt.Errorf("%w: CA key: %v", ErrKeyGeneration, err)
	}
	defer a.ks.Delete(keyID)
	signer, err := a.ks.Signer(keyID)
	if err != nil {
		return nil, fmt.Errorf("getting CA signer: %w", err)
	}

	now := a.now().UTC()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(caSerial),
		Subject:               subject,
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, validityDays),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("%w: CA certificate: %v", ErrSigning, err)
	}
	keyPEM, err := a.ks.ExportPEM(keyID)
	if err != nil {
		return nil, fmt.Errorf("exporting CA private key: %w", err)
	}
	if err := a.files.WriteCA(keyPEM, EncodeCertPEM(der)); err != nil {
		return nil, fmt.Errorf("storing CA: %w", err)
	}

	state := ledger.CAState{
		Subject:      SubjectString(subject),
		Serial:       caSerial,
		NotBefore:    template.NotBefore,
		NotAfter:     template.NotAfter,
		KeyAlgorithm: string(a.alg),
		Fingerprint:  Fingerprint(der),
		CreatedAt:    now,
	}
	if err := a.ledger.InitCA(state); err != nil {
		os.Remove(a.files.CACertPath())
		os.Remove(a.files.CAKeyPath())
		return nil, err
	}
	a.logger.Info("pki: certificate authority initialized", "subject", state.Subject, "fingerprint", state.Fingerprint)
	return a.ledger.CA()
}

// CACertificate returns the CA certificate after checking it against the
// ledger.
func (a *Authority) CACertificate() (*x509.Certificate, []byte, error) {
	state, err := a.ledger.CA()
	if err != nil {
		return nil, nil, err
	}
	certPEM, err := a.files.ReadCACert()
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return nil, nil, fmt.Errorf("%w: %v", ErrCAMissing, err)
		}
		return nil, nil, err
	}
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ca.crt: %v", ErrCAMismatch, err)
	}
	if fp := Fingerprint(cert.Raw); fp != state.Fingerprint {
		return nil, nil, fmt.Errorf("%w: ca.crt fingerprint %s, ledger %s", ErrCAMismatch, fp, state.Fingerprint)
	}
	return cert, certPEM, nil
}

// SigningIdentity returns the verified CA certificate and its signer.
func (a *Authority) SigningIdentity() (*x509.Certificate, crypto.Signer, error) {
	cert, _, err := a.CACertificate()
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := a.files.ReadCAKey()
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return nil, nil, fmt.Errorf("%w: %v", ErrCAMissing, err)
		}
		return nil, nil, err
	}
	keyID, err := a.ks.ImportPEM(keyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ca.key: %v", ErrCAMismatch, err)
	}
	defer a.ks.Delete(keyID)
	signer, err := a.ks.Signer(keyID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading CA signer: %w", err)
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cert.PublicKey) {
		return nil, nil, fmt.Errorf("%w: ca.key is not the key of ca.crt", ErrCAMismatch)
	}
	return cert, signer, nil
}

// ---------------------------------------------------------------------------
// Issuance
// ---------------------------------------------------------------------------

// Issue creates a client certificate for name: a fresh key, a CSR bound to
// name and a certificate signed by the CA with the next ledger serial. The
// key is written before the certificate and the ledger record is durable
// before Issue returns.
func (a *Authority) Issue(name string, validityDays int) (*ledger.Certificate, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return a.issue(ledger.KindClient, name, validityDays, x509.ExtKeyUsageClientAuth, nil,
		func(keyPEM, certPEM []byte) error { return a.files.WriteClient(name, keyPEM, certPEM) })
}

// IssueServer creates a server certificate for domain. Re-issuing a domain
// supersedes its previous certificate.
func (a *Authority) IssueServer(domain string, validityDays int) (*ledger.Certificate, error) {
	if err := ValidateName(domain); err != nil {
		return nil, err
	}
	return a.issue(ledger.KindServer, domain, validityDays, x509.ExtKeyUsageServerAuth, []string{domain},
		func(keyPEM, certPEM []byte) error { return a.files.WriteServer(domain, keyPEM, certPEM) })
}

func (a *Authority) issue(kind ledger.Kind, name string, validityDays int, usage x509.ExtKeyUsage, dnsNames []string, write func(keyPEM, certPEM []byte) error) (*ledger.Certificate, error) {
	if validityDays <= 0 {
		return nil, fmt.Errorf("validity must be positive, got %d days", validityDays)
	}
	caCert, caSigner, err := a.SigningIdentity()
	if err != nil {
		return nil, err
	}

	c, err := a.ledger.Issue(kind, name, func(serial int64) (*ledger.Certificate, error) {
		keyID, err := a.ks.GenerateKey(a.alg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
		}
		defer a.ks.Delete(keyID)
		leaf, err := a.ks.Signer(keyID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
		}

		csr, err := a.request(name, dnsNames, leaf)
		if err != nil {
			return nil, err
		}

		now := a.now().UTC()
		template := &x509.Certificate{
			SerialNumber:          big.NewInt(serial),
			Subject:               csr.Subject,
			NotBefore:             now,
			NotAfter:              now.AddDate(0, 0, validityDays),
			KeyUsage:              leafKeyUsage(csr.PublicKey),
			ExtKeyUsage:           []x509.ExtKeyUsage{usage},
			BasicConstraintsValid: true,
			DNSNames:              csr.DNSNames,
		}
		der, err := x509.CreateCertificate(rand.Reader, template, caCert, csr.PublicKey, caSigner)
		if err != nil {
			return nil, fmt.Errorf("%w: %s certificate for %s: %v", ErrSigning, kind, name, err)
		}
		keyPEM, err := a.ks.ExportPEM(keyID)
		if err != nil {
			return nil, fmt.Errorf("exporting private key: %w", err)
		}
		if err := write(keyPEM, EncodeCertPEM(der)); err != nil {
			return nil, err
		}
		return &ledger.Certificate{
			NotBefore:   template.NotBefore,
			NotAfter:    template.NotAfter,
			Fingerprint: Fingerprint(der),
			IssuedAt:    now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("pki: certificate issued", "kind", kind, "name", name, "serial", c.Serial)
	return c, nil
}

// request builds the CSR for name, signed by the new key, and checks its
// signature the way the CA would for an externally submitted request.
func (a *Authority) request(name string, dnsNames []string, key crypto.Signer) (*x509.CertificateRequest, error) {
	subject := a.subject
	subject.CommonName = name
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  subject,
		DNSNames: dnsNames,
	}, key)
	if err != nil {
		return nil, fmt.Errorf("%w: CSR for %s: %v", ErrSigning, name, err)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing CSR: %v", ErrSigning, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: CSR signature invalid: %v", ErrSigning, err)
	}
	return csr, nil
}

func leafKeyUsage(pub crypto.PublicKey) x509.KeyUsage {
	usage := x509.KeyUsageDigitalSignature
	if _, ok := pub.(*rsa.PublicKey); ok {
		usage |= x509.KeyUsageKeyEncipherment
	}
	return usage
}

// ---------------------------------------------------------------------------
// Encoding helpers
// ---------------------------------------------------------------------------

// EncodeCertPEM encodes DER certificate bytes as PEM.
func EncodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// ParseCertificatePEM decodes the first certificate in certPEM.
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrInvalidPEM
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

// Fingerprint returns the hex SHA-256 of DER bytes.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// SubjectString formats a pkix.Name as a readable DN string.
func SubjectString(name pkix.Name) string {
	var parts []string
	if name.CommonName != "" {
		parts = append(parts, "CN="+name.CommonName)
	}
	for _, ou := range name.OrganizationalUnit {
		parts = append(parts, "OU="+ou)
	}
	for _, o := range name.Organization {
		parts = append(parts, "O="+o)
	}
	for _, l := range name.Locality {
		parts = append(parts, "L="+l)
	}
	for _, p := range name.Province {
		parts = append(parts, "ST="+p)
	}
	for _, c := range name.Country {
		parts = append(parts, "C="+c)
	}
	return strings.Join(parts, ", ")
}
