package pki_test

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/pki"
	"github.com/jmcleod/ironvpn/storage/memory"
)

var testSubject = pkix.Name{
	CommonName:   "VPN-CA",
	Country:      []string{"US"},
	Province:     []string{"VA"},
	Locality:     []string{"Arlington"},
	Organization: []string{"VPN"},
}

// newTestAuthority returns an initialized ECDSA authority in a temp dir.
func newTestAuthority(t *testing.T) (*pki.Authority, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(memory.NewRepository())
	files := pki.NewFileStore(t.TempDir())
	a := pki.NewAuthority(files, l,
		pki.WithKeyAlgorithm(pki.ECDSAP256),
		pki.WithSubjectTemplate(pkix.Name{Country: []string{"US"}, Organization: []string{"VPN"}}),
	)
	_, err := a.Init(testSubject, 3650)
	require.NoError(t, err)
	return a, l
}

func TestInit(t *testing.T) {
	a, l := newTestAuthority(t)

	state, err := l.CA()
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.NextSerial)
	assert.Contains(t, state.Subject, "CN=VPN-CA")
	assert.Contains(t, state.Subject, "L=Arlington")

	cert, certPEM, err := a.CACertificate()
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
	assert.Equal(t, int64(1), cert.SerialNumber.Int64())
	assert.Equal(t, "VPN-CA", cert.Subject.CommonName)
	assert.Equal(t, state.Fingerprint, pki.Fingerprint(cert.Raw))
	assert.NotEmpty(t, certPEM)

	info, err := os.Stat(a.Files().CAKeyPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInit_AlreadyInitialized(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, err := a.Init(testSubject, 3650)
	assert.ErrorIs(t, err, ledger.ErrAlreadyCA)
	assert.ErrorIs(t, err, errdefs.ErrConflict)
}

func TestInit_RefusesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ca.key"), []byte("old"), 0o600))

	a := pki.NewAuthority(pki.NewFileStore(dir), ledger.New(memory.NewRepository()))
	_, err := a.Init(testSubject, 3650)
	assert.ErrorIs(t, err, ledger.ErrAlreadyCA)
}

func TestIssue(t *testing.T) {
	a, l := newTestAuthority(t)

	c, err := a.Issue("alice", 365)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Serial)
	assert.Equal(t, ledger.KindClient, c.Kind)
	assert.Equal(t, ledger.StateActive, c.State)

	certPEM, keyPEM, err := a.Files().ReadClient("alice")
	require.NoError(t, err)
	assert.Contains(t, string(keyPEM), "PRIVATE KEY")

	cert, err := pki.ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	assert.Equal(t, "alice", cert.Subject.CommonName)
	assert.Equal(t, []string{"VPN"}, cert.Subject.Organization)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, cert.ExtKeyUsage)
	assert.Equal(t, int64(2), cert.SerialNumber.Int64())
	assert.Equal(t, c.Fingerprint, pki.Fingerprint(cert.Raw))

	caCert, _, err := a.CACertificate()
	require.NoError(t, err)
	require.NoError(t, cert.CheckSignatureFrom(caCert))

	got, err := l.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, c.Serial, got.Serial)
}

func TestIssue_DuplicateActiveIdentity(t *testing.T) {
	a, _ := newTestAuthority(t)

	first, err := a.Issue("alice", 365)
	require.NoError(t, err)
	certBefore, _, err := a.Files().ReadClient("alice")
	require.NoError(t, err)

	_, err = a.Issue("alice", 365)
	assert.ErrorIs(t, err, ledger.ErrDuplicateActiveIdentity)

	certAfter, _, err := a.Files().ReadClient("alice")
	require.NoError(t, err)
	assert.Equal(t, certBefore, certAfter, "existing key material must be untouched")

	next, err := a.Issue("bob", 365)
	require.NoError(t, err)
	assert.Equal(t, first.Serial+1, next.Serial)
}

func TestIssue_InvalidName(t *testing.T) {
	a, _ := newTestAuthority(t)

	for _, name := range []string{"", "../evil", "a/b", ".hidden", "with space"} {
		_, err := a.Issue(name, 365)
		assert.ErrorIs(t, err, pki.ErrInvalidName, "name %q", name)
	}
}

func TestIssue_ReservedName(t *testing.T) {
	a, l := newTestAuthority(t)
	keyBefore, err := a.Files().ReadCAKey()
	require.NoError(t, err)
	_, certBefore, err := a.CACertificate()
	require.NoError(t, err)

	for _, name := range []string{"ca", "CA", "Ca"} {
		_, err := a.Issue(name, 365)
		assert.ErrorIs(t, err, pki.ErrInvalidName, "name %q", name)
	}

	keyAfter, err := a.Files().ReadCAKey()
	require.NoError(t, err)
	_, certAfter, err := a.CACertificate()
	require.NoError(t, err)
	assert.Equal(t, keyBefore, keyAfter)
	assert.Equal(t, certBefore, certAfter)

	c, err := a.Issue("bob", 365)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Serial, "rejected names must not consume a serial")

	ca, err := l.CA()
	require.NoError(t, err)
	assert.Equal(t, int64(3), ca.NextSerial)
}

func TestIssueServer(t *testing.T) {
	a, l := newTestAuthority(t)

	first, err := a.IssueServer("vpn.example.com", 825)
	require.NoError(t, err)
	second, err := a.IssueServer("vpn.example.com", 825)
	require.NoError(t, err)
	assert.Greater(t, second.Serial, first.Serial)

	certPEM, _, err := a.Files().ReadServer("vpn.example.com")
	require.NoError(t, err)
	cert, err := pki.ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	assert.Equal(t, []string{"vpn.example.com"}, cert.DNSNames)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, cert.ExtKeyUsage)
	assert.Equal(t, second.Serial, cert.SerialNumber.Int64())

	old, err := l.Certificate(first.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, old.SupersededBy)
}

func TestSigningIdentity_Tampered(t *testing.T) {
	t.Run("replaced certificate", func(t *testing.T) {
		a, _ := newTestAuthority(t)
		other, _ := newTestAuthority(t)
		_, otherPEM, err := other.CACertificate()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(a.Files().CACertPath(), otherPEM, 0o644))

		_, err = a.Issue("alice", 365)
		assert.ErrorIs(t, err, pki.ErrCAMismatch)
		assert.ErrorIs(t, err, errdefs.ErrFatal)
	})

	t.Run("replaced key", func(t *testing.T) {
		a, _ := newTestAuthority(t)
		other, _ := newTestAuthority(t)
		otherKey, err := other.Files().ReadCAKey()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(a.Files().CAKeyPath(), otherKey, 0o600))

		_, _, err = a.SigningIdentity()
		assert.ErrorIs(t, err, pki.ErrCAMismatch)
	})

	t.Run("missing certificate", func(t *testing.T) {
		a, _ := newTestAuthority(t)
		require.NoError(t, os.Remove(a.Files().CACertPath()))

		_, err := a.Issue("alice", 365)
		assert.ErrorIs(t, err, pki.ErrCAMissing)
		assert.ErrorIs(t, err, errdefs.ErrFatal)
	})
}

func TestRSAKeys(t *testing.T) {
	l := ledger.New(memory.NewRepository())
	a := pki.NewAuthority(pki.NewFileStore(t.TempDir()), l)
	_, err := a.Init(testSubject, 30)
	require.NoError(t, err)

	_, err = a.Issue("alice", 30)
	require.NoError(t, err)

	certPEM, _, err := a.Files().ReadClient("alice")
	require.NoError(t, err)
	cert, err := pki.ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 2048, pub.N.BitLen())
	assert.NotZero(t, cert.KeyUsage&x509.KeyUsageKeyEncipherment)
}

func TestSoftwareKeyStore(t *testing.T) {
	ks := pki.NewSoftwareKeyStore()

	id, err := ks.GenerateKey(pki.ECDSAP256)
	require.NoError(t, err)
	signer, err := ks.Signer(id)
	require.NoError(t, err)
	_, ok := signer.(*ecdsa.PrivateKey)
	assert.True(t, ok)

	pemData, err := ks.ExportPEM(id)
	require.NoError(t, err)
	id2, err := ks.ImportPEM(pemData)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
	signer2, err := ks.Signer(id2)
	require.NoError(t, err)
	assert.True(t, signer2.(*ecdsa.PrivateKey).Equal(signer))

	require.NoError(t, ks.Delete(id))
	_, err = ks.Signer(id)
	assert.ErrorIs(t, err, pki.ErrKeyNotFound)

	_, err = ks.GenerateKey("dsa")
	assert.ErrorIs(t, err, pki.ErrUnsupportedAlgorithm)

	_, err = ks.ImportPEM([]byte("not pem"))
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)
}

func TestFileStore_RemoveClient(t *testing.T) {
	a, _ := newTestAuthority(t)
	_, err := a.Issue("alice", 365)
	require.NoError(t, err)

	removed, err := a.Files().RemoveClient("alice")
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	hasKey, hasCert := a.Files().ClientFiles("alice")
	assert.False(t, hasKey)
	assert.False(t, hasCert)

	removed, err = a.Files().RemoveClient("alice")
	require.NoError(t, err)
	assert.Empty(t, removed)

	_, _, err = a.Files().ReadClient("alice")
	assert.ErrorIs(t, err, pki.ErrFileNotFound)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestFileStore_ReservedName(t *testing.T) {
	a, _ := newTestAuthority(t)

	removed, err := a.Files().RemoveClient("ca")
	assert.ErrorIs(t, err, pki.ErrInvalidName)
	assert.Empty(t, removed)
	assert.True(t, a.Files().HasCA())

	err = a.Files().WriteClient("ca", []byte("key"), []byte("cert"))
	assert.ErrorIs(t, err, pki.ErrInvalidName)

	_, _, err = a.SigningIdentity()
	require.NoError(t, err)
}

func TestFileStore_WriteReplaces(t *testing.T) {
	a, _ := newTestAuthority(t)
	files := a.Files()

	require.NoError(t, files.WriteCRL([]byte("first")))
	require.NoError(t, files.WriteCRL([]byte("second")))
	data, err := files.ReadCRL()
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	_, err = a.Issue("alice", 365)
	require.NoError(t, err)
	keyInfo, err := os.Stat(files.ClientKeyPath("alice"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), keyInfo.Mode().Perm())

	entries, err := os.ReadDir(files.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"ca.key", "ca.crt", "crl.pem", "alice.key", "alice.crt", "server"}, names,
		"no temporary files are left behind")
}
