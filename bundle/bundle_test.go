package bundle_test

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironvpn/bundle"
)

const base = "client\ndev tun\nproto udp\nremote cvpn-endpoint-0123.prod.clientvpn.us-east-2.amazonaws.com 443\n"

func TestBuild_SplitTunnel(t *testing.T) {
	out, err := bundle.Build(bundle.Options{
		Name:        "alice",
		Base:        base,
		CACert:      []byte("CA PEM\n"),
		Cert:        []byte("CERT PEM\n"),
		Key:         []byte("KEY PEM"),
		SplitTunnel: true,
		VPCCIDR:     "10.1.0.0/16",
	})
	require.NoError(t, err)
	text := string(out)

	assert.True(t, strings.HasPrefix(text, base))
	assert.Contains(t, text, "route-nopull\n")
	assert.Contains(t, text, "route 10.1.0.0 255.255.0.0\n")
	assert.Contains(t, text, "dhcp-option DNS 10.1.0.2\n")
	assert.Contains(t, text, "<ca>\nCA PEM\n</ca>\n")
	assert.Contains(t, text, "# Client certificate for alice\n")
	assert.Contains(t, text, "<cert>\nCERT PEM\n</cert>\n")
	assert.Contains(t, text, "<key>\nKEY PEM\n</key>\n")
	assert.Less(t, strings.Index(text, "route-nopull"), strings.Index(text, "<cert>"))
}

func TestBuild_BaseWithCA(t *testing.T) {
	out, err := bundle.Build(bundle.Options{
		Name:   "bob",
		Base:   base + "<ca>\nENDPOINT CA\n</ca>\n",
		CACert: []byte("CA PEM\n"),
		Cert:   []byte("CERT\n"),
		Key:    []byte("KEY\n"),
	})
	require.NoError(t, err)
	text := string(out)
	assert.Equal(t, 1, strings.Count(text, "<ca>"))
	assert.NotContains(t, text, "CA PEM")
	assert.NotContains(t, text, "route-nopull")
}

func TestBuild_InvalidCIDR(t *testing.T) {
	for _, cidr := range []string{"", "10.0.0.0", "fd00::/64", "10.0.0.0/31", "10.0.0.7/32"} {
		_, err := bundle.Build(bundle.Options{Name: "x", SplitTunnel: true, VPCCIDR: cidr})
		assert.ErrorIs(t, err, bundle.ErrInvalidCIDR, cidr)
	}
}

func TestBuild_SmallestNetwork(t *testing.T) {
	out, err := bundle.Build(bundle.Options{Name: "x", SplitTunnel: true, VPCCIDR: "10.0.0.4/30"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "route 10.0.0.4 255.255.255.252\n")
	assert.Contains(t, string(out), "dhcp-option DNS 10.0.0.6\n")
}

func TestResolver(t *testing.T) {
	assert.Equal(t, "172.31.0.2", bundle.Resolver(netip.MustParsePrefix("172.31.5.9/16")).String())
}

func TestWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vpn_user_config")
	w := bundle.NewWriter(dir)

	path, err := w.Write("alice", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alice-vpn.ovpn"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	removed, err := w.Remove("alice")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = w.Remove("alice")
	require.NoError(t, err)
	assert.False(t, removed)
}
