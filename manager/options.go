package manager

import (
	"crypto/x509/pkix"
	"log/slog"
	"time"

	"github.com/jmcleod/ironvpn/gateway"
	"github.com/jmcleod/ironvpn/internal/retry"
	"github.com/jmcleod/ironvpn/remoteca"
)

// Settings are the issuance and bundle parameters.
type Settings struct {
	CASubject          pkix.Name
	CAValidityDays     int
	ClientValidityDays int
	ServerValidityDays int
	// ImportClients imports client certificates into the remote service.
	ImportClients bool
	SplitTunnel   bool
	// VPCCIDR returns the VPC range routed through the tunnel.
	VPCCIDR func() string
}

// DefaultSettings returns the settings of the original deployment.
func DefaultSettings() Settings {
	return Settings{
		CASubject: pkix.Name{
			CommonName:   "VPN-CA",
			Country:      []string{"US"},
			Province:     []string{"VA"},
			Locality:     []string{"Arlington"},
			Organization: []string{"VPN"},
		},
		CAValidityDays:     3650,
		ClientValidityDays: 3650,
		ServerValidityDays: 3650,
		SplitTunnel:        true,
		VPCCIDR:            func() string { return "10.0.0.0/16" },
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithSettings sets the issuance and bundle parameters.
func WithSettings(s Settings) Option {
	return func(m *Manager) {
		m.settings = s
	}
}

// WithGateway enables the gateway integration.
func WithGateway(n *gateway.Notifier) Option {
	return func(m *Manager) {
		m.gateway = n
	}
}

// WithRemote enables the remote certificate authority service.
func WithRemote(r remoteca.Authority) Option {
	return func(m *Manager) {
		m.remote = r
	}
}

// WithRetryPolicy sets the retry policy for remote certificate service calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}
