package manager

import (
	"context"
	"fmt"

	"github.com/jmcleod/ironvpn/bundle"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/pki"
)

// AddUser issues a client certificate for name and writes its bundle for
// endpointID. If issuance fails no bundle is written. If the bundle fails
// after issuance the certificate stays active and a *BundleError carrying
// it is returned.
func (m *Manager) AddUser(ctx context.Context, name, endpointID string) (*ledger.Certificate, string, error) {
	if endpointID == "" {
		return nil, "", ErrEndpointRequired
	}
	if m.gateway == nil {
		return nil, "", ErrGatewayDisabled
	}
	c, err := m.CreateClient(ctx, name)
	if err != nil {
		return nil, "", err
	}
	path, err := m.GenerateBundle(ctx, name, endpointID)
	if err != nil {
		m.logger.Warn("manager: identity issued without a bundle; regenerate it with generate-ovpn or revoke it explicitly",
			"name", name, "serial", c.Serial, "error", err)
		return c, "", &BundleError{Certificate: c, Err: err}
	}
	m.logger.Info("manager: user added", "name", name, "serial", c.Serial, "bundle", path)
	return c, path, nil
}

// GenerateBundle writes the .ovpn bundle of name's active certificate for
// endpointID and returns its path.
func (m *Manager) GenerateBundle(ctx context.Context, name, endpointID string) (string, error) {
	if endpointID == "" {
		return "", ErrEndpointRequired
	}
	if m.gateway == nil {
		return "", ErrGatewayDisabled
	}
	c, err := m.ledger.Lookup(name)
	if err != nil {
		return "", err
	}
	if !c.Active() {
		return "", fmt.Errorf("%s (serial %d): %w", name, c.Serial, ledger.ErrAlreadyRevoked)
	}

	certPEM, keyPEM, err := m.authority.Files().ReadClient(name)
	if err != nil {
		return "", err
	}
	cert, err := pki.ParseCertificatePEM(certPEM)
	if err != nil {
		return "", fmt.Errorf("%s.crt: %w", name, err)
	}
	if fp := pki.Fingerprint(cert.Raw); fp != c.Fingerprint {
		return "", fmt.Errorf("%s.crt is not serial %d: %w", name, c.Serial, ErrStaleFiles)
	}
	_, caPEM, err := m.authority.CACertificate()
	if err != nil {
		return "", err
	}

	base, err := m.gateway.ClientConfiguration(ctx, endpointID)
	if err != nil {
		return "", err
	}
	opts := bundle.Options{
		Name:        name,
		Base:        base,
		CACert:      caPEM,
		Cert:        certPEM,
		Key:         keyPEM,
		SplitTunnel: m.settings.SplitTunnel,
	}
	if m.settings.SplitTunnel && m.settings.VPCCIDR != nil {
		opts.VPCCIDR = m.settings.VPCCIDR()
	}
	data, err := bundle.Build(opts)
	if err != nil {
		return "", err
	}
	path, err := m.bundles.Write(name, data)
	if err != nil {
		return "", err
	}
	m.logger.Info("manager: bundle written", "name", name, "path", path)
	return path, nil
}

// RemoveUserLocalFiles deletes name's key, certificate and bundle and
// returns the removed paths. The ledger is untouched, so the certificate
// still authenticates until it is revoked.
func (m *Manager) RemoveUserLocalFiles(name string) ([]string, error) {
	if err := pki.ValidateName(name); err != nil {
		return nil, err
	}
	removed, err := m.authority.Files().RemoveClient(name)
	if err != nil {
		return removed, fmt.Errorf("removing key material: %w", err)
	}
	ok, err := m.bundles.Remove(name)
	if err != nil {
		return removed, err
	}
	if ok {
		removed = append(removed, m.bundles.Path(name))
	}
	m.logger.Warn("manager: local files removed; VPN access is unaffected, use revoke-user or ban-user to block it",
		"name", name, "removed", len(removed))
	return removed, nil
}
