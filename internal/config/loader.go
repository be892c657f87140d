package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file on top of Default. A missing
// file is not an error when optional is true; the defaults are used.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment
// variable overrides.
func LoadWithEnv(path string, optional bool) (*Config, error) {
	cfg, err := Load(path, optional)
	if err != nil {
		return nil, err
	}

	if region := os.Getenv("IRONVPN_REGION"); region != "" {
		cfg.Region = region
	}
	if dataDir := os.Getenv("IRONVPN_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if ledger := os.Getenv("IRONVPN_LEDGER_PATH"); ledger != "" {
		cfg.LedgerPath = ledger
	}
	if bucket := os.Getenv("IRONVPN_CRL_BUCKET"); bucket != "" {
		cfg.CRL.Bucket = bucket
	}
	if store := os.Getenv("IRONVPN_CRL_STORE"); store != "" {
		cfg.CRL.Store = store
	}
	if endpoint := os.Getenv("IRONVPN_VPN_ENDPOINT"); endpoint != "" {
		cfg.Gateway.EndpointID = endpoint
	}
	if level := os.Getenv("IRONVPN_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	// Validate again after env overrides
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}
	return cfg, nil
}
