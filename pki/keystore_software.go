package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"
)

// ---------------------------------------------------------------------------
// SoftwareKeyStore: default implementation backed by memguard enclaves
// ---------------------------------------------------------------------------

// SoftwareKeyStore holds private keys in memory as PKCS#8 DER sealed in
// memguard enclaves. Keys are identified by an opaque string generated at
// creation time. This is the default KeyStore.
//
// Keys in this store are ephemeral; the authority persists them to the key
// material directory via ExportPEM/ImportPEM.
type SoftwareKeyStore struct {
	mu   sync.Mutex
	keys map[string]*memguard.Enclave
	rand io.Reader
	seq  int
}

var _ KeyStore = (*SoftwareKeyStore)(nil)

// NewSoftwareKeyStore returns a SoftwareKeyStore ready for use.
func NewSoftwareKeyStore() *SoftwareKeyStore {
	return &SoftwareKeyStore{
		keys: make(map[string]*memguard.Enclave),
		rand: rand.Reader,
	}
}

func (s *SoftwareKeyStore) put(key crypto.Signer) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("encoding private key: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("sw-%d", s.seq)
	// NewEnclave wipes der.
	s.keys[id] = memguard.NewEnclave(der)
	return id, nil
}

func (s *SoftwareKeyStore) open(keyID string) (*memguard.LockedBuffer, error) {
	s.mu.Lock()
	enclave, ok := s.keys[keyID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	return buf, nil
}

// GenerateKey creates a new key pair of the requested algorithm.
func (s *SoftwareKeyStore) GenerateKey(alg KeyAlgorithm) (string, error) {
	var (
		key crypto.Signer
		err error
	)
	switch alg {
	case RSA2048, "":
		key, err = rsa.GenerateKey(s.rand, 2048)
	case ECDSAP256:
		key, err = ecdsa.GenerateKey(elliptic.P256(), s.rand)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if err != nil {
		return "", fmt.Errorf("generating %s key: %w", alg, err)
	}
	return s.put(key)
}

// Signer decodes the key into a crypto.Signer.
func (s *SoftwareKeyStore) Signer(keyID string) (crypto.Signer, error) {
	buf, err := s.open(keyID)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	key, err := x509.ParsePKCS8PrivateKey(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, key)
	}
	return signer, nil
}

// ExportPEM encodes the private key as PKCS#8 "PRIVATE KEY" PEM.
func (s *SoftwareKeyStore) ExportPEM(keyID string) ([]byte, error) {
	buf, err := s.open(keyID)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: buf.Bytes()}), nil
}

// ImportPEM parses a private key PEM block and stores it.
func (s *SoftwareKeyStore) ImportPEM(pemData []byte) (string, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return "", fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return "", fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, key)
	}
	return s.put(signer)
}

// Delete removes the key from memory.
func (s *SoftwareKeyStore) Delete(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyID)
	return nil
}
