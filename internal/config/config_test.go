package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "us-east-2", cfg.Region)
	assert.Equal(t, "vpn-cert-revocation-list", cfg.CRL.Bucket)
	assert.Equal(t, "vpn-crl.pem", cfg.CRL.Object)
	assert.Equal(t, 30*24*time.Hour, cfg.CRL.ValidityWindow)
	assert.Equal(t, filepath.Join("certs", "ledger.db"), cfg.LedgerFile())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeFile(t, "ironvpn.yaml", `
region: eu-west-1
data_dir: /var/lib/ironvpn
crl:
  store: file
  validity_window: 168h
retry:
  max_attempts: 2
logging:
  format: json
`)
	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "/var/lib/ironvpn", cfg.DataDir)
	assert.Equal(t, StoreFile, cfg.CRL.Store)
	assert.Equal(t, 7*24*time.Hour, cfg.CRL.ValidityWindow)
	assert.Equal(t, "vpn-cert-revocation-list", cfg.CRL.Bucket)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Remote.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := Load(missing, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(missing, false)
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad store", "crl:\n  store: ftp\n"},
		{"bad key", "ca:\n  key_algorithm: dsa\n"},
		{"bad cidr", "bundle:\n  vpc_cidr: not-a-cidr\n"},
		{"zero attempts", "retry:\n  max_attempts: 0\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"not yaml", "region: [unterminated\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", tt.yaml), false)
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("IRONVPN_REGION", "ap-south-1")
	t.Setenv("IRONVPN_CRL_BUCKET", "my-crls")
	t.Setenv("IRONVPN_VPN_ENDPOINT", "cvpn-endpoint-0123")

	cfg, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", cfg.Region)
	assert.Equal(t, "my-crls", cfg.CRL.Bucket)
	assert.Equal(t, "cvpn-endpoint-0123", cfg.EndpointID(""))
	assert.Equal(t, "cvpn-explicit", cfg.EndpointID("cvpn-explicit"))
}

func TestSubject(t *testing.T) {
	name := Default().Subject("john.doe")
	assert.Equal(t, "john.doe", name.CommonName)
	assert.Equal(t, []string{"US"}, name.Country)
	assert.Equal(t, []string{"VA"}, name.Province)
	assert.Equal(t, []string{"Arlington"}, name.Locality)
	assert.Equal(t, []string{"VPN"}, name.Organization)
}

func TestDeploymentInfoResolution(t *testing.T) {
	cfg := Default()
	cfg.DeploymentInfo = filepath.Join(t.TempDir(), "missing.json")
	assert.Equal(t, DefaultVPCCIDR, cfg.VPCCIDR())

	cfg.Bundle.VPCCIDR = "172.16.0.0/16"
	assert.Equal(t, "172.16.0.0/16", cfg.VPCCIDR())

	cfg.DeploymentInfo = writeFile(t, "vpn_deployment_info.json",
		`{"vpc_cidr": "10.20.0.0/16", "vpn_endpoint_id": "cvpn-endpoint-abc"}`)
	assert.Equal(t, "10.20.0.0/16", cfg.VPCCIDR())
	assert.Equal(t, "cvpn-endpoint-abc", cfg.EndpointID(""))
}
