// Package gateway is the boundary to the VPN gateway's control plane: it
// imports revocation lists into the endpoint and terminates live sessions.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/internal/retry"
)

var (
	// ErrEndpointNotFound is returned for an unknown endpoint ID.
	ErrEndpointNotFound = fmt.Errorf("endpoint %w", errdefs.ErrNotFound)

	// ErrConnectionNotFound is returned when terminating a connection the
	// gateway no longer knows.
	ErrConnectionNotFound = fmt.Errorf("connection %w", errdefs.ErrNotFound)

	// ErrNoRevocationList is returned when the endpoint has no imported CRL.
	ErrNoRevocationList = fmt.Errorf("revocation list %w", errdefs.ErrNotFound)
)

// Connection statuses reported by the gateway.
const (
	StatusActive            = "active"
	StatusFailedToTerminate = "failed-to-terminate"
	StatusTerminating       = "terminating"
	StatusTerminated        = "terminated"
)

// Connection is a client session on an endpoint.
type Connection struct {
	ID            string
	EndpointID    string
	CommonName    string
	Username      string
	Status        string
	EstablishedAt string
}

// Live reports whether c still carries traffic.
func (c Connection) Live() bool {
	return c.Status == StatusActive || c.Status == StatusFailedToTerminate
}

// Enforcer is the gateway control plane.
type Enforcer interface {
	ImportRevocationList(ctx context.Context, endpointID string, crlPEM []byte) error
	// ExportRevocationList returns ErrNoRevocationList when none is imported.
	ExportRevocationList(ctx context.Context, endpointID string) ([]byte, error)
	DescribeConnections(ctx context.Context, endpointID string) ([]Connection, error)
	// TerminateConnection returns ErrConnectionNotFound for an unknown connection.
	TerminateConnection(ctx context.Context, endpointID, connectionID string) error
	ExportClientConfiguration(ctx context.Context, endpointID string) (string, error)
}

// Notifier runs Enforcer calls under a retry policy with per-call timeouts.
type Notifier struct {
	enforcer Enforcer
	policy   retry.Policy
	logger   *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(n *Notifier) {
		n.policy = p
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier returns a Notifier over e.
func NewNotifier(e Enforcer, opts ...Option) *Notifier {
	n := &Notifier{enforcer: e, policy: retry.DefaultPolicy(), logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Import loads crlPEM into the endpoint. Importing is idempotent.
func (n *Notifier) Import(ctx context.Context, endpointID string, crlPEM []byte) error {
	err := retry.Do(ctx, n.policy, "importing CRL into "+endpointID, func(ctx context.Context) error {
		return n.enforcer.ImportRevocationList(ctx, endpointID, crlPEM)
	})
	if err != nil {
		return err
	}
	n.logger.Info("gateway: CRL imported", "endpoint", endpointID)
	return nil
}

// Export returns the CRL currently imported into the endpoint.
func (n *Notifier) Export(ctx context.Context, endpointID string) ([]byte, error) {
	var crl []byte
	err := retry.Do(ctx, n.policy, "exporting CRL from "+endpointID, func(ctx context.Context) error {
		var err error
		crl, err = n.enforcer.ExportRevocationList(ctx, endpointID)
		return err
	})
	return crl, err
}

// ClientConfiguration returns the endpoint's base client configuration.
func (n *Notifier) ClientConfiguration(ctx context.Context, endpointID string) (string, error) {
	var cfg string
	err := retry.Do(ctx, n.policy, "exporting client configuration from "+endpointID, func(ctx context.Context) error {
		var err error
		cfg, err = n.enforcer.ExportClientConfiguration(ctx, endpointID)
		return err
	})
	return cfg, err
}

// TerminateSessions terminates every live connection whose certificate
// common name is name and returns how many were terminated. A connection
// that disappears before it is terminated counts as terminated.
func (n *Notifier) TerminateSessions(ctx context.Context, endpointID, name string) (int, error) {
	var conns []Connection
	err := retry.Do(ctx, n.policy, "describing connections on "+endpointID, func(ctx context.Context) error {
		var err error
		conns, err = n.enforcer.DescribeConnections(ctx, endpointID)
		return err
	})
	if err != nil {
		return 0, err
	}

	terminated := 0
	for _, c := range conns {
		if c.CommonName != name || !c.Live() {
			continue
		}
		err := retry.Do(ctx, n.policy, "terminating connection "+c.ID, func(ctx context.Context) error {
			return n.enforcer.TerminateConnection(ctx, endpointID, c.ID)
		})
		if err != nil && !errors.Is(err, ErrConnectionNotFound) {
			return terminated, err
		}
		terminated++
		n.logger.Info("gateway: session terminated", "endpoint", endpointID, "name", name, "connection", c.ID)
	}
	return terminated, nil
}
