package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironvpn/gateway"
	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/internal/retry"
)

type fakeEnforcer struct {
	mu          sync.Mutex
	crl         []byte
	conns       []gateway.Connection
	importFails int
	terminated  []string
	vanished    map[string]bool
}

func (f *fakeEnforcer) ImportRevocationList(_ context.Context, _ string, crl []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.importFails > 0 {
		f.importFails--
		return errors.New("throttled")
	}
	f.crl = crl
	return nil
}

func (f *fakeEnforcer) ExportRevocationList(_ context.Context, endpointID string) ([]byte, error) {
	if f.crl == nil {
		return nil, gateway.ErrNoRevocationList
	}
	return f.crl, nil
}

func (f *fakeEnforcer) DescribeConnections(context.Context, string) ([]gateway.Connection, error) {
	return f.conns, nil
}

func (f *fakeEnforcer) TerminateConnection(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vanished[id] {
		return gateway.ErrConnectionNotFound
	}
	f.terminated = append(f.terminated, id)
	return nil
}

func (f *fakeEnforcer) ExportClientConfiguration(context.Context, string) (string, error) {
	return "client\nremote cvpn.example.com 443\n", nil
}

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func TestImport_Retries(t *testing.T) {
	f := &fakeEnforcer{importFails: 2}
	n := gateway.NewNotifier(f, gateway.WithRetryPolicy(fastPolicy))

	require.NoError(t, n.Import(context.Background(), "cvpn-1", []byte("crl")))
	got, err := n.Export(context.Background(), "cvpn-1")
	require.NoError(t, err)
	assert.Equal(t, "crl", string(got))
}

func TestImport_Exhausted(t *testing.T) {
	f := &fakeEnforcer{importFails: 5}
	n := gateway.NewNotifier(f, gateway.WithRetryPolicy(fastPolicy))

	err := n.Import(context.Background(), "cvpn-1", []byte("crl"))
	assert.ErrorIs(t, err, errdefs.ErrRemoteUnavailable)
}

func TestExport_NoList(t *testing.T) {
	n := gateway.NewNotifier(&fakeEnforcer{}, gateway.WithRetryPolicy(fastPolicy))
	_, err := n.Export(context.Background(), "cvpn-1")
	assert.ErrorIs(t, err, gateway.ErrNoRevocationList)
}

func TestTerminateSessions(t *testing.T) {
	f := &fakeEnforcer{
		conns: []gateway.Connection{
			{ID: "cvpn-connection-1", CommonName: "alice", Status: gateway.StatusActive},
			{ID: "cvpn-connection-2", CommonName: "bob", Status: gateway.StatusActive},
			{ID: "cvpn-connection-3", CommonName: "alice", Status: gateway.StatusTerminated},
			{ID: "cvpn-connection-4", CommonName: "alice", Status: gateway.StatusFailedToTerminate},
			{ID: "cvpn-connection-5", CommonName: "alice", Status: gateway.StatusActive},
		},
		vanished: map[string]bool{"cvpn-connection-5": true},
	}
	n := gateway.NewNotifier(f, gateway.WithRetryPolicy(fastPolicy))

	count, err := n.TerminateSessions(context.Background(), "cvpn-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "a vanished connection counts as terminated")
	assert.Equal(t, []string{"cvpn-connection-1", "cvpn-connection-4"}, f.terminated)

	count, err = n.TerminateSessions(context.Background(), "cvpn-1", "carol")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestClientConfiguration(t *testing.T) {
	n := gateway.NewNotifier(&fakeEnforcer{})
	cfg, err := n.ClientConfiguration(context.Background(), "cvpn-1")
	require.NoError(t, err)
	assert.Contains(t, cfg, "remote cvpn.example.com")
}
