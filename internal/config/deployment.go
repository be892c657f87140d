package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultVPCCIDR is used for split tunnelling when neither the deployment
// info file nor the configuration names the VPC range.
const DefaultVPCCIDR = "10.0.0.0/16"

// DeploymentInfo is the record written by the endpoint provisioning step.
type DeploymentInfo struct {
	VPCID                  string `json:"vpc_id"`
	SubnetID               string `json:"subnet_id"`
	VPCCIDR                string `json:"vpc_cidr"`
	VPNEndpointID          string `json:"vpn_endpoint_id"`
	ServerCertificateARN   string `json:"server_certificate_arn"`
	ClientCACertificateARN string `json:"client_ca_certificate_arn"`
	Region                 string `json:"region"`
	AuthType               string `json:"auth_type"`
}

// LoadDeploymentInfo reads the deployment info file at path.
func LoadDeploymentInfo(path string) (*DeploymentInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deployment info: %w", err)
	}
	var info DeploymentInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding deployment info: %w", err)
	}
	return &info, nil
}

// VPCCIDR resolves the VPC range used in client bundles: the deployment
// info file first, then the configuration, then DefaultVPCCIDR.
func (c *Config) VPCCIDR() string {
	if info, err := LoadDeploymentInfo(c.DeploymentInfo); err == nil && info.VPCCIDR != "" {
		return info.VPCCIDR
	}
	if c.Bundle.VPCCIDR != "" {
		return c.Bundle.VPCCIDR
	}
	return DefaultVPCCIDR
}

// EndpointID resolves the Client VPN endpoint: an explicit value first, then
// the configuration, then the deployment info file.
func (c *Config) EndpointID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if c.Gateway.EndpointID != "" {
		return c.Gateway.EndpointID
	}
	if info, err := LoadDeploymentInfo(c.DeploymentInfo); err == nil {
		return info.VPNEndpointID
	}
	return ""
}
