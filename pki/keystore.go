package pki

import (
	"crypto"
	"fmt"
)

// KeyAlgorithm selects the key type generated for the CA and for leaves.
type KeyAlgorithm string

// Supported key algorithms.
const (
	// RSA2048 matches what AWS Client VPN accepts for mutual authentication.
	RSA2048   KeyAlgorithm = "rsa2048"
	ECDSAP256 KeyAlgorithm = "ecdsa-p256"
)

// KeyStore abstracts private-key operations so that the authority can work
// with in-memory software keys or an external key service without changing
// calling code.
//
// A KeyID uniquely identifies a key managed by the store; its format is
// implementation-defined.
type KeyStore interface {
	// GenerateKey creates a new signing key and returns an opaque identifier.
	GenerateKey(alg KeyAlgorithm) (keyID string, err error)

	// Signer returns a [crypto.Signer] for the key identified by keyID.
	// It is passed to x509.CreateCertificate, x509.CreateCertificateRequest
	// and x509.CreateRevocationList.
	Signer(keyID string) (crypto.Signer, error)

	// ExportPEM returns the private key as a PKCS#8 "PRIVATE KEY" PEM block.
	ExportPEM(keyID string) ([]byte, error)

	// ImportPEM loads a PEM-encoded private key into the store and returns
	// its key ID. It accepts PKCS#8, PKCS#1 and SEC1 encodings.
	ImportPEM(pemData []byte) (keyID string, err error)

	// Delete removes the key identified by keyID from the store.
	Delete(keyID string) error
}

// ErrKeyNotFound is returned when the referenced key ID does not exist.
var ErrKeyNotFound = fmt.Errorf("key not found")

// ErrUnsupportedAlgorithm is returned for an unknown KeyAlgorithm.
var ErrUnsupportedAlgorithm = fmt.Errorf("unsupported key algorithm")
