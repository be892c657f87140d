// Package manager orchestrates the certificate authority, the revocation
// registry, CRL distribution, the remote certificate service and the VPN
// gateway. Each client identity moves Unissued → Active → Revoked; a
// revoked identity is reinstated only by a fresh issuance with a new serial.
//
// No transaction spans the four systems. Revocation-affecting operations
// are persisted step logs that can be resumed after a partial failure.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/ironvpn/bundle"
	"github.com/jmcleod/ironvpn/distribution"
	"github.com/jmcleod/ironvpn/gateway"
	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/internal/retry"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/pki"
	"github.com/jmcleod/ironvpn/remoteca"
	"github.com/jmcleod/ironvpn/revocation"
)

// Manager is the certificate manager.
type Manager struct {
	ledger    *ledger.Ledger
	authority *pki.Authority
	registry  *revocation.Registry
	publisher *distribution.Publisher
	bundles   *bundle.Writer
	gateway   *gateway.Notifier
	remote    remoteca.Authority
	settings  Settings
	policy    retry.Policy
	now       func() time.Time
	logger    *slog.Logger

	// mu serializes render+publish so a publication always carries the
	// full snapshot at the time it was rendered.
	mu sync.Mutex
}

// New returns a Manager. The gateway and the remote certificate service
// are optional; see WithGateway and WithRemote.
func New(l *ledger.Ledger, a *pki.Authority, reg *revocation.Registry, pub *distribution.Publisher, bundles *bundle.Writer, opts ...Option) *Manager {
	m := &Manager{
		ledger:    l,
		authority: a,
		registry:  reg,
		publisher: pub,
		bundles:   bundles,
		settings:  DefaultSettings(),
		policy:    retry.DefaultPolicy(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ---------------------------------------------------------------------------
// Certificate authority
// ---------------------------------------------------------------------------

// InitCA creates the CA and, with the remote service configured, imports
// its certificate and records the remote ID. A failed import leaves the CA
// initialized; run ImportCA to retry it.
func (m *Manager) InitCA(ctx context.Context) (*ledger.CAState, error) {
	state, err := m.authority.Init(m.settings.CASubject, m.settings.CAValidityDays)
	if err != nil {
		return nil, err
	}
	if m.remote == nil {
		return state, nil
	}
	state, err = m.ImportCA(ctx)
	if err != nil {
		m.logger.Warn("manager: CA created locally but not imported", "error", err)
		return nil, fmt.Errorf("CA created locally; import it with 'ca import': %w", err)
	}
	return state, nil
}

// ImportCA imports the CA certificate into the remote service, over the
// previously imported certificate when there is one.
func (m *Manager) ImportCA(ctx context.Context) (*ledger.CAState, error) {
	if m.remote == nil {
		return nil, ErrRemoteDisabled
	}
	state, err := m.ledger.CA()
	if err != nil {
		return nil, err
	}
	_, certPEM, err := m.authority.CACertificate()
	if err != nil {
		return nil, err
	}
	keyPEM, err := m.authority.Files().ReadCAKey()
	if err != nil {
		return nil, err
	}
	arn, err := m.importRemote(ctx, "CA", certPEM, keyPEM, nil, state.RemoteID)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.SetCARemoteID(arn); err != nil {
		return nil, fmt.Errorf("recording CA remote ID %s: %w", arn, err)
	}
	m.logger.Info("manager: CA imported", "remote_id", arn)
	return m.ledger.CA()
}

// CA returns the CA state.
func (m *Manager) CA() (*ledger.CAState, error) {
	return m.ledger.CA()
}

// CACertificatePEM returns the verified CA certificate.
func (m *Manager) CACertificatePEM() ([]byte, error) {
	_, certPEM, err := m.authority.CACertificate()
	return certPEM, err
}

// ---------------------------------------------------------------------------
// Issuance
// ---------------------------------------------------------------------------

// CreateClient issues a client certificate for name. With client import
// enabled the certificate is also imported into the remote service; an
// import failure is logged and reported by List as missing-remote.
func (m *Manager) CreateClient(ctx context.Context, name string) (*ledger.Certificate, error) {
	c, err := m.authority.Issue(name, m.settings.ClientValidityDays)
	if err != nil {
		return nil, err
	}
	if m.remote == nil || !m.settings.ImportClients {
		return c, nil
	}
	if err := m.importClient(ctx, c); err != nil {
		m.logger.Warn("manager: client certificate not imported", "name", name, "serial", c.Serial, "error", err)
	}
	return c, nil
}

func (m *Manager) importClient(ctx context.Context, c *ledger.Certificate) error {
	certPEM, keyPEM, err := m.authority.Files().ReadClient(c.Name)
	if err != nil {
		return err
	}
	_, caPEM, err := m.authority.CACertificate()
	if err != nil {
		return err
	}
	arn, err := m.importRemote(ctx, c.Name, certPEM, keyPEM, caPEM, "")
	if err != nil {
		return err
	}
	if err := m.ledger.SetRemoteID(c.ID, arn); err != nil {
		return err
	}
	c.RemoteID = arn
	return nil
}

// CreateServer issues a server certificate for domain. With useRemote the
// certificate is requested from the remote service (DNS validated) and only
// its ID is recorded. Otherwise the private CA signs it and, with the
// remote service configured, it is imported with the CA as chain, over the
// previous certificate of the domain when there is one. A failed import
// returns the issued certificate together with the error.
func (m *Manager) CreateServer(ctx context.Context, domain string, useRemote bool) (*ledger.Certificate, error) {
	if useRemote {
		return m.requestServer(ctx, domain)
	}

	var previous *ledger.Certificate
	if prev, err := m.ledger.Server(domain); err == nil {
		previous = prev
	} else if !errors.Is(err, ledger.ErrIdentityNotFound) {
		return nil, err
	}

	c, err := m.authority.IssueServer(domain, m.settings.ServerValidityDays)
	if err != nil {
		return nil, err
	}
	if m.remote == nil {
		return c, nil
	}

	existing := ""
	if previous != nil && previous.Source == ledger.SourceLocal {
		existing = previous.RemoteID
	}
	certPEM, keyPEM, err := m.authority.Files().ReadServer(domain)
	if err != nil {
		return c, err
	}
	_, caPEM, err := m.authority.CACertificate()
	if err != nil {
		return c, err
	}
	arn, err := m.importRemote(ctx, domain, certPEM, keyPEM, caPEM, existing)
	if err != nil {
		return c, fmt.Errorf("server certificate issued (serial %d) but not imported: %w", c.Serial, err)
	}
	if existing != "" {
		if err := m.ledger.SetRemoteID(previous.ID, ""); err != nil {
			return c, err
		}
	}
	if err := m.ledger.SetRemoteID(c.ID, arn); err != nil {
		return c, err
	}
	c.RemoteID = arn
	m.logger.Info("manager: server certificate imported", "domain", domain, "serial", c.Serial, "remote_id", arn)
	return c, nil
}

func (m *Manager) requestServer(ctx context.Context, domain string) (*ledger.Certificate, error) {
	if m.remote == nil {
		return nil, ErrRemoteDisabled
	}
	if err := pki.ValidateName(domain); err != nil {
		return nil, err
	}
	var arn string
	err := retry.Do(ctx, m.policy, "requesting certificate for "+domain, func(ctx context.Context) error {
		var err error
		arn, err = m.remote.RequestCertificate(ctx, domain)
		return err
	})
	if err != nil {
		return nil, err
	}
	c, err := m.ledger.RecordRemote(ledger.Certificate{Name: domain, RemoteID: arn})
	if err != nil {
		return nil, fmt.Errorf("recording requested certificate %s: %w", arn, err)
	}
	m.logger.Info("manager: server certificate requested; complete DNS validation", "domain", domain, "remote_id", arn)
	return c, nil
}

func (m *Manager) importRemote(ctx context.Context, what string, certPEM, keyPEM, chainPEM []byte, existing string) (string, error) {
	var arn string
	err := retry.Do(ctx, m.policy, "importing certificate for "+what, func(ctx context.Context) error {
		var err error
		arn, err = m.remote.ImportCertificate(ctx, certPEM, keyPEM, chainPEM, existing)
		return err
	})
	return arn, err
}

// ---------------------------------------------------------------------------
// Remote deletion
// ---------------------------------------------------------------------------

// Delete removes a certificate from the remote service. A ledger record
// referencing it keeps its history and loses the reference. The CA's remote
// certificate is protected unless force is set.
func (m *Manager) Delete(ctx context.Context, remoteID string, force bool) error {
	if m.remote == nil {
		return ErrRemoteDisabled
	}
	ca, err := m.ledger.CA()
	if err != nil && !errors.Is(err, ledger.ErrNoCA) {
		return err
	}
	isCA := ca != nil && ca.RemoteID == remoteID
	if isCA && !force {
		return fmt.Errorf("%s: %w", remoteID, ErrCAProtected)
	}

	record, err := m.ledger.FindRemote(remoteID)
	if err != nil && !errors.Is(err, ledger.ErrCertificateNotFound) {
		return err
	}
	tracked := record != nil || isCA

	err = retry.Do(ctx, m.policy, "deleting certificate "+remoteID, func(ctx context.Context) error {
		return m.remote.DeleteCertificate(ctx, remoteID)
	})
	switch {
	case err == nil:
	case errors.Is(err, remoteca.ErrCertificateNotFound) && tracked:
		m.logger.Warn("manager: remote certificate already gone", "remote_id", remoteID)
	default:
		return err
	}

	if record != nil {
		if err := m.ledger.SetRemoteID(record.ID, ""); err != nil {
			return err
		}
	}
	if isCA {
		if err := m.ledger.SetCARemoteID(""); err != nil {
			return err
		}
	}
	m.logger.Info("manager: remote certificate deleted", "remote_id", remoteID, "tracked", tracked)
	return nil
}

// ---------------------------------------------------------------------------
// CRL
// ---------------------------------------------------------------------------

// PublishCRL renders the current revocation set and publishes it.
func (m *Manager) PublishCRL(ctx context.Context) (*ledger.PublishState, error) {
	_, ps, err := m.publish(ctx)
	return ps, err
}

func (m *Manager) publish(ctx context.Context) (*revocation.Document, *ledger.PublishState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishLocked(ctx)
}

func (m *Manager) publishLocked(ctx context.Context) (*revocation.Document, *ledger.PublishState, error) {
	doc, err := m.registry.Render()
	if err != nil {
		return nil, nil, err
	}
	ps, err := m.publisher.Publish(ctx, doc)
	if err != nil {
		return doc, nil, err
	}
	return doc, ps, nil
}

// LastPublished returns the last confirmed CRL publication.
func (m *Manager) LastPublished() (*ledger.PublishState, error) {
	return m.publisher.LastPublished()
}

// CurrentCRL returns the locally rendered CRL after verifying it against
// the CA.
func (m *Manager) CurrentCRL() (*revocation.Document, error) {
	data, err := m.authority.Files().ReadCRL()
	if err != nil {
		return nil, err
	}
	caCert, _, err := m.authority.CACertificate()
	if err != nil {
		return nil, err
	}
	return revocation.ParseDocument(data, caCert)
}

// History returns every client certificate issued to name, oldest first.
func (m *Manager) History(name string) ([]ledger.Certificate, error) {
	if err := pki.ValidateName(name); err != nil {
		return nil, err
	}
	certs, err := m.ledger.History(ledger.KindClient, name)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ledger.ErrIdentityNotFound)
	}
	return certs, nil
}

// Operations returns every recorded operation, oldest first.
func (m *Manager) Operations() ([]ledger.Operation, error) {
	return m.ledger.Operations()
}

func isNotFound(err error) bool {
	return errors.Is(err, errdefs.ErrNotFound)
}
