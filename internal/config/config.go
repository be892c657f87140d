// Package config holds the ironvpn configuration: file locations, CA subject
// template, CRL distribution settings, AWS integration switches, retry and
// timeout policy, and logging.
package config

import (
	"crypto/x509/pkix"
	"fmt"
	"net/netip"
	"path/filepath"
	"time"

	"github.com/jmcleod/ironvpn/internal/retry"
)

// Config holds all configuration for ironvpn.
type Config struct {
	Region         string         `yaml:"region"`
	DataDir        string         `yaml:"data_dir"`
	LedgerPath     string         `yaml:"ledger_path"`
	BundleDir      string         `yaml:"bundle_dir"`
	DeploymentInfo string         `yaml:"deployment_info"`
	CA             CAConfig       `yaml:"ca"`
	Client         ClientConfig   `yaml:"client"`
	Server         ServerConfig   `yaml:"server"`
	CRL            CRLConfig      `yaml:"crl"`
	Remote         RemoteConfig   `yaml:"remote"`
	Gateway        GatewayConfig  `yaml:"gateway"`
	Bundle         BundleConfig   `yaml:"bundle"`
	Retry          RetryConfig    `yaml:"retry"`
	Timeouts       TimeoutsConfig `yaml:"timeouts"`
	Logging        LoggingConfig  `yaml:"logging"`
}

// CAConfig is the subject template shared by the CA and every leaf it signs.
type CAConfig struct {
	CommonName   string `yaml:"common_name"`
	Country      string `yaml:"country"`
	Province     string `yaml:"province"`
	Locality     string `yaml:"locality"`
	Organization string `yaml:"organization"`
	ValidityDays int    `yaml:"validity_days"`
	KeyAlgorithm string `yaml:"key_algorithm"`
}

// ClientConfig controls client certificate issuance.
type ClientConfig struct {
	ValidityDays int  `yaml:"validity_days"`
	ImportToACM  bool `yaml:"import_to_acm"`
}

// ServerConfig controls server certificate issuance.
type ServerConfig struct {
	ValidityDays int `yaml:"validity_days"`
}

// CRLConfig controls CRL rendering and distribution.
type CRLConfig struct {
	ValidityWindow time.Duration `yaml:"validity_window"`
	Store          string        `yaml:"store"`
	Bucket         string        `yaml:"bucket"`
	Object         string        `yaml:"object"`
	FileStoreDir   string        `yaml:"file_store_dir"`
	CreateBucket   bool          `yaml:"create_bucket"`
}

// RemoteConfig switches the ACM integration.
type RemoteConfig struct {
	Enabled bool `yaml:"enabled"`
}

// GatewayConfig switches the Client VPN integration.
type GatewayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	EndpointID string `yaml:"endpoint_id"`
}

// BundleConfig controls .ovpn rendering.
type BundleConfig struct {
	SplitTunnel bool   `yaml:"split_tunnel"`
	VPCCIDR     string `yaml:"vpc_cidr"`
}

// RetryConfig bounds retries of idempotent remote calls.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// TimeoutsConfig bounds blocking operations.
type TimeoutsConfig struct {
	Call time.Duration `yaml:"call"`
	Lock time.Duration `yaml:"lock"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Store backends for the CRL distribution store.
const (
	StoreS3   = "s3"
	StoreFile = "file"
)

// Key algorithms accepted for CA and leaf keys.
const (
	KeyRSA2048   = "rsa2048"
	KeyECDSAP256 = "ecdsa-p256"
)

// Default returns the configuration used when no file is present. The
// values follow the original deployment scripts.
func Default() *Config {
	return &Config{
		Region:         "us-east-2",
		DataDir:        "certs",
		BundleDir:      "vpn_user_config",
		DeploymentInfo: "vpn_deployment_info.json",
		CA: CAConfig{
			CommonName:   "VPN-CA",
			Country:      "US",
			Province:     "VA",
			Locality:     "Arlington",
			Organization: "VPN",
			ValidityDays: 3650,
			KeyAlgorithm: KeyRSA2048,
		},
		Client: ClientConfig{ValidityDays: 3650},
		Server: ServerConfig{ValidityDays: 3650},
		CRL: CRLConfig{
			ValidityWindow: 30 * 24 * time.Hour,
			Store:          StoreS3,
			Bucket:         "vpn-cert-revocation-list",
			Object:         "vpn-crl.pem",
			FileStoreDir:   "crl-store",
			CreateBucket:   true,
		},
		Remote:  RemoteConfig{Enabled: true},
		Gateway: GatewayConfig{Enabled: true},
		Bundle:  BundleConfig{SplitTunnel: true},
		Retry: RetryConfig{
			MaxAttempts:     4,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     8 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Call: 30 * time.Second,
			Lock: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.BundleDir == "" {
		return fmt.Errorf("bundle_dir is required")
	}

	if c.CA.CommonName == "" {
		return fmt.Errorf("ca.common_name is required")
	}
	if c.CA.ValidityDays <= 0 {
		return fmt.Errorf("ca.validity_days must be positive")
	}
	if c.CA.KeyAlgorithm != KeyRSA2048 && c.CA.KeyAlgorithm != KeyECDSAP256 {
		return fmt.Errorf("ca.key_algorithm must be '%s' or '%s'", KeyRSA2048, KeyECDSAP256)
	}
	if c.Client.ValidityDays <= 0 {
		return fmt.Errorf("client.validity_days must be positive")
	}
	if c.Server.ValidityDays <= 0 {
		return fmt.Errorf("server.validity_days must be positive")
	}

	if c.CRL.ValidityWindow <= 0 {
		return fmt.Errorf("crl.validity_window must be positive")
	}
	if c.CRL.Store != StoreS3 && c.CRL.Store != StoreFile {
		return fmt.Errorf("crl.store must be '%s' or '%s'", StoreS3, StoreFile)
	}
	if c.CRL.Bucket == "" || c.CRL.Object == "" {
		return fmt.Errorf("crl.bucket and crl.object are required")
	}
	if c.CRL.Store == StoreFile && c.CRL.FileStoreDir == "" {
		return fmt.Errorf("crl.file_store_dir is required for the file store")
	}
	if c.CRL.Store == StoreS3 && c.Region == "" {
		return fmt.Errorf("region is required for the s3 store")
	}

	if c.Bundle.VPCCIDR != "" {
		if _, err := netip.ParsePrefix(c.Bundle.VPCCIDR); err != nil {
			return fmt.Errorf("bundle.vpc_cidr is invalid: %w", err)
		}
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry intervals must be positive and max_interval >= initial_interval")
	}
	if c.Timeouts.Call <= 0 || c.Timeouts.Lock <= 0 {
		return fmt.Errorf("timeouts.call and timeouts.lock must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	return nil
}

// LedgerFile returns the ledger database path, defaulting to ledger.db
// inside the data directory.
func (c *Config) LedgerFile() string {
	if c.LedgerPath != "" {
		return c.LedgerPath
	}
	return filepath.Join(c.DataDir, "ledger.db")
}

// Subject returns the distinguished name template with the given common name.
func (c *Config) Subject(commonName string) pkix.Name {
	name := pkix.Name{CommonName: commonName}
	if c.CA.Country != "" {
		name.Country = []string{c.CA.Country}
	}
	if c.CA.Province != "" {
		name.Province = []string{c.CA.Province}
	}
	if c.CA.Locality != "" {
		name.Locality = []string{c.CA.Locality}
	}
	if c.CA.Organization != "" {
		name.Organization = []string{c.CA.Organization}
	}
	return name
}

// RetryPolicy returns the retry policy for remote calls.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
		Timeout:         c.Timeouts.Call,
	}
}
