package pki

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/renameio/v2"

	"github.com/jmcleod/ironvpn/internal/errdefs"
)

// MaxNameLength is the longest client name or domain accepted. It is the
// X.509 upper bound for a common name.
const MaxNameLength = 64

// ErrInvalidName is returned for a client name or domain that cannot be used
// as a common name and file name.
var ErrInvalidName = errors.New("invalid name")

// ErrFileNotFound is returned when expected key material is missing.
var ErrFileNotFound = fmt.Errorf("key material %w", errdefs.ErrNotFound)

// reservedNames are base names of CA files in the key material directory.
// A client of that name would overwrite or delete the CA key pair.
var reservedNames = []string{"ca"}

// ValidateName checks that name is usable as a certificate common name and
// as a file name in the key material directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidName)
	}
	for _, r := range reservedNames {
		// Case-insensitive filesystems map CA.key onto ca.key.
		if strings.EqualFold(name, r) {
			return fmt.Errorf("%w: %q is reserved for the certificate authority", ErrInvalidName, name)
		}
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q exceeds maximum length of %d", ErrInvalidName, name, MaxNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: contains invalid UTF-8", ErrInvalidName)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q must not start with a dot", ErrInvalidName, name)
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == ':' {
			return fmt.Errorf("%w: %q contains forbidden character %q", ErrInvalidName, name, r)
		}
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q contains whitespace or control character", ErrInvalidName, name)
		}
	}
	return nil
}

// FileStore is the on-disk key material directory:
//
//	ca.key, ca.crt            certificate authority
//	<name>.key, <name>.crt    client certificates
//	server/<domain>.key|crt   server certificates
//	crl.pem                   current CRL rendering
//
// Private keys are written 0600, and always before their certificate.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the root directory.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) CAKeyPath() string  { return filepath.Join(f.dir, "ca.key") }
func (f *FileStore) CACertPath() string { return filepath.Join(f.dir, "ca.crt") }
func (f *FileStore) CRLPath() string    { return filepath.Join(f.dir, "crl.pem") }

func (f *FileStore) ClientKeyPath(name string) string  { return filepath.Join(f.dir, name+".key") }
func (f *FileStore) ClientCertPath(name string) string { return filepath.Join(f.dir, name+".crt") }

func (f *FileStore) ServerKeyPath(domain string) string {
	return filepath.Join(f.dir, "server", domain+".key")
}

func (f *FileStore) ServerCertPath(domain string) string {
	return filepath.Join(f.dir, "server", domain+".crt")
}

// Init creates the directory layout.
func (f *FileStore) Init() error {
	if err := os.MkdirAll(filepath.Join(f.dir, "server"), 0o700); err != nil {
		return fmt.Errorf("creating key material directory: %w", err)
	}
	return nil
}

// WriteCA writes the CA key and certificate.
func (f *FileStore) WriteCA(keyPEM, certPEM []byte) error {
	return f.writePair(f.CAKeyPath(), f.CACertPath(), keyPEM, certPEM)
}

// ReadCACert returns the CA certificate PEM.
func (f *FileStore) ReadCACert() ([]byte, error) { return readFile(f.CACertPath()) }

// ReadCAKey returns the CA private key PEM.
func (f *FileStore) ReadCAKey() ([]byte, error) { return readFile(f.CAKeyPath()) }

// HasCA reports whether either CA file exists.
func (f *FileStore) HasCA() bool {
	return exists(f.CAKeyPath()) || exists(f.CACertPath())
}

// WriteClient writes a client key and certificate.
func (f *FileStore) WriteClient(name string, keyPEM, certPEM []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return f.writePair(f.ClientKeyPath(name), f.ClientCertPath(name), keyPEM, certPEM)
}

// ReadClient returns a client's certificate and key PEM.
func (f *FileStore) ReadClient(name string) (certPEM, keyPEM []byte, err error) {
	return readPair(f.ClientCertPath(name), f.ClientKeyPath(name))
}

// ClientFiles reports which of a client's files exist.
func (f *FileStore) ClientFiles(name string) (hasKey, hasCert bool) {
	return exists(f.ClientKeyPath(name)), exists(f.ClientCertPath(name))
}

// RemoveClient deletes a client's key and certificate and returns the paths
// that were removed. Missing files are not an error.
func (f *FileStore) RemoveClient(name string) ([]string, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return removeAll(f.ClientKeyPath(name), f.ClientCertPath(name))
}

// ServerFiles reports which of a server's files exist.
func (f *FileStore) ServerFiles(domain string) (hasKey, hasCert bool) {
	return exists(f.ServerKeyPath(domain)), exists(f.ServerCertPath(domain))
}

// WriteServer writes a server key and certificate.
func (f *FileStore) WriteServer(domain string, keyPEM, certPEM []byte) error {
	return f.writePair(f.ServerKeyPath(domain), f.ServerCertPath(domain), keyPEM, certPEM)
}

// ReadServer returns a server's certificate and key PEM.
func (f *FileStore) ReadServer(domain string) (certPEM, keyPEM []byte, err error) {
	return readPair(f.ServerCertPath(domain), f.ServerKeyPath(domain))
}

// WriteCRL replaces crl.pem.
func (f *FileStore) WriteCRL(crlPEM []byte) error {
	if err := f.Init(); err != nil {
		return err
	}
	return renameio.WriteFile(f.CRLPath(), crlPEM, 0o644)
}

// ReadCRL returns crl.pem.
func (f *FileStore) ReadCRL() ([]byte, error) { return readFile(f.CRLPath()) }

func (f *FileStore) writePair(keyPath, certPath string, keyPEM, certPEM []byte) error {
	if err := f.Init(); err != nil {
		return err
	}
	if err := renameio.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := renameio.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("writing certificate: %w", err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrFileNotFound)
		}
		return nil, err
	}
	return data, nil
}

func readPair(certPath, keyPath string) ([]byte, []byte, error) {
	certPEM, err := readFile(certPath)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := readFile(keyPath)
	if err != nil {
		return nil, nil, err
	}
	return certPEM, keyPEM, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeAll(paths ...string) ([]string, error) {
	var removed []string
	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = append(removed, p)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return removed, err
		}
	}
	return removed, nil
}
