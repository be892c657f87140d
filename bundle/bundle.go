// Package bundle renders OpenVPN client configuration files with the client
// certificate and key embedded.
package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// ErrInvalidCIDR is returned for a VPC range that is not an IPv4 prefix or
// is too narrow to hold the VPC resolver.
var ErrInvalidCIDR = errors.New("invalid VPC CIDR")

const maxPrefixBits = 30

// Options describes a client bundle.
type Options struct {
	// Name is the client identity, used in a comment and the file name.
	Name string
	// Base is the endpoint's exported client configuration.
	Base string
	// CACert is embedded when Base carries no <ca> block.
	CACert []byte
	Cert   []byte
	Key    []byte
	// SplitTunnel routes only VPCCIDR through the tunnel and uses the VPC
	// resolver for DNS.
	SplitTunnel bool
	VPCCIDR     string
}

// Build returns the .ovpn text for o.
func Build(o Options) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(strings.TrimRight(o.Base, "\n"))
	b.WriteString("\n")

	if o.SplitTunnel {
		prefix, err := netip.ParsePrefix(o.VPCCIDR)
		if err != nil || !prefix.Addr().Is4() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCIDR, o.VPCCIDR)
		}
		// The resolver at base+2 must lie inside the network.
		if prefix.Bits() > maxPrefixBits {
			return nil, fmt.Errorf("%w: %q is narrower than /%d", ErrInvalidCIDR, o.VPCCIDR, maxPrefixBits)
		}
		prefix = prefix.Masked()
		mask := net.CIDRMask(prefix.Bits(), 32)
		b.WriteString("\n# Split tunneling - only VPC traffic through VPN\n")
		b.WriteString("route-nopull\n")
		fmt.Fprintf(&b, "route %s %s\n", prefix.Addr(), net.IP(mask))
		fmt.Fprintf(&b, "\ndhcp-option DNS %s\n", Resolver(prefix))
	}

	if !strings.Contains(o.Base, "<ca>") && len(o.CACert) > 0 {
		writeBlock(&b, "ca", o.CACert)
	}
	fmt.Fprintf(&b, "\n# Client certificate for %s\n", o.Name)
	writeBlock(&b, "cert", o.Cert)
	writeBlock(&b, "key", o.Key)
	return b.Bytes(), nil
}

// Resolver returns the VPC DNS resolver address, the network base plus two.
func Resolver(prefix netip.Prefix) netip.Addr {
	return prefix.Masked().Addr().Next().Next()
}

func writeBlock(b *bytes.Buffer, tag string, body []byte) {
	fmt.Fprintf(b, "<%s>\n", tag)
	b.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		b.WriteByte('\n')
	}
	fmt.Fprintf(b, "</%s>\n", tag)
}

// Writer writes bundles into a directory.
type Writer struct {
	dir string
}

// NewWriter returns a Writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Path returns the bundle path for name.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.dir, name+"-vpn.ovpn")
}

// Write stores data as the bundle for name with mode 0600 and returns its path.
func (w *Writer) Write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(w.dir, 0700); err != nil {
		return "", fmt.Errorf("creating bundle directory: %w", err)
	}
	path := w.Path(name)
	if err := renameio.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("writing bundle: %w", err)
	}
	return path, nil
}

// Remove deletes the bundle for name. It reports whether a file was removed.
func (w *Writer) Remove(name string) (bool, error) {
	err := os.Remove(w.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("removing bundle: %w", err)
	}
	return true, nil
}
