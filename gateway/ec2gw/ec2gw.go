// Package ec2gw implements gateway.Enforcer on AWS Client VPN.
package ec2gw

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/jmcleod/ironvpn/gateway"
	"github.com/jmcleod/ironvpn/internal/awsutil"
	"github.com/jmcleod/ironvpn/internal/errdefs"
)

// API is the subset of the EC2 client the enforcer uses.
type API interface {
	ImportClientVpnClientCertificateRevocationList(ctx context.Context, in *ec2.ImportClientVpnClientCertificateRevocationListInput, optFns ...func(*ec2.Options)) (*ec2.ImportClientVpnClientCertificateRevocationListOutput, error)
	ExportClientVpnClientCertificateRevocationList(ctx context.Context, in *ec2.ExportClientVpnClientCertificateRevocationListInput, optFns ...func(*ec2.Options)) (*ec2.ExportClientVpnClientCertificateRevocationListOutput, error)
	DescribeClientVpnConnections(ctx context.Context, in *ec2.DescribeClientVpnConnectionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeClientVpnConnectionsOutput, error)
	TerminateClientVpnConnections(ctx context.Context, in *ec2.TerminateClientVpnConnectionsInput, optFns ...func(*ec2.Options)) (*ec2.TerminateClientVpnConnectionsOutput, error)
	ExportClientVpnClientConfiguration(ctx context.Context, in *ec2.ExportClientVpnClientConfigurationInput, optFns ...func(*ec2.Options)) (*ec2.ExportClientVpnClientConfigurationOutput, error)
}

const codeEndpointNotFound = "InvalidClientVpnEndpointId.NotFound"

var connectionNotFoundCodes = []string{
	"InvalidClientVpnConnection.IdNotFound",
	"InvalidClientVpnConnectionId.NotFound",
}

// Enforcer implements gateway.Enforcer.
type Enforcer struct {
	client API
}

var _ gateway.Enforcer = (*Enforcer)(nil)

// New returns an Enforcer using client.
func New(client API) *Enforcer {
	return &Enforcer{client: client}
}

// NewFromConfig returns an Enforcer with an EC2 client built from cfg.
func NewFromConfig(cfg aws.Config) *Enforcer {
	return New(ec2.NewFromConfig(cfg))
}

func classify(endpointID string, err error) error {
	err = awsutil.Classify(err, codeEndpointNotFound)
	if errors.Is(err, errdefs.ErrNotFound) {
		return fmt.Errorf("%s: %w: %v", endpointID, gateway.ErrEndpointNotFound, err)
	}
	return err
}

func (e *Enforcer) ImportRevocationList(ctx context.Context, endpointID string, crlPEM []byte) error {
	_, err := e.client.ImportClientVpnClientCertificateRevocationList(ctx, &ec2.ImportClientVpnClientCertificateRevocationListInput{
		ClientVpnEndpointId:       aws.String(endpointID),
		CertificateRevocationList: aws.String(string(crlPEM)),
	})
	if err != nil {
		return fmt.Errorf("import CRL: %w", classify(endpointID, err))
	}
	return nil
}

func (e *Enforcer) ExportRevocationList(ctx context.Context, endpointID string) ([]byte, error) {
	out, err := e.client.ExportClientVpnClientCertificateRevocationList(ctx, &ec2.ExportClientVpnClientCertificateRevocationListInput{
		ClientVpnEndpointId: aws.String(endpointID),
	})
	if err != nil {
		return nil, fmt.Errorf("export CRL: %w", classify(endpointID, err))
	}
	crl := aws.ToString(out.CertificateRevocationList)
	if crl == "" {
		return nil, fmt.Errorf("%s: %w", endpointID, gateway.ErrNoRevocationList)
	}
	return []byte(crl), nil
}

func (e *Enforcer) DescribeConnections(ctx context.Context, endpointID string) ([]gateway.Connection, error) {
	var conns []gateway.Connection
	p := ec2.NewDescribeClientVpnConnectionsPaginator(e.client, &ec2.DescribeClientVpnConnectionsInput{
		ClientVpnEndpointId: aws.String(endpointID),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe connections: %w", classify(endpointID, err))
		}
		for _, c := range page.Connections {
			conn := gateway.Connection{
				ID:            aws.ToString(c.ConnectionId),
				EndpointID:    aws.ToString(c.ClientVpnEndpointId),
				CommonName:    aws.ToString(c.CommonName),
				Username:      aws.ToString(c.Username),
				EstablishedAt: aws.ToString(c.ConnectionEstablishedTime),
			}
			if c.Status != nil {
				conn.Status = string(c.Status.Code)
			}
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

func (e *Enforcer) TerminateConnection(ctx context.Context, endpointID, connectionID string) error {
	_, err := e.client.TerminateClientVpnConnections(ctx, &ec2.TerminateClientVpnConnectionsInput{
		ClientVpnEndpointId: aws.String(endpointID),
		ConnectionId:        aws.String(connectionID),
	})
	if err != nil {
		if slices.Contains(connectionNotFoundCodes, awsutil.Code(err)) {
			return fmt.Errorf("%s: %w", connectionID, gateway.ErrConnectionNotFound)
		}
		return fmt.Errorf("terminate connection: %w", classify(endpointID, err))
	}
	return nil
}

func (e *Enforcer) ExportClientConfiguration(ctx context.Context, endpointID string) (string, error) {
	out, err := e.client.ExportClientVpnClientConfiguration(ctx, &ec2.ExportClientVpnClientConfigurationInput{
		ClientVpnEndpointId: aws.String(endpointID),
	})
	if err != nil {
		return "", fmt.Errorf("export client configuration: %w", classify(endpointID, err))
	}
	return aws.ToString(out.ClientConfiguration), nil
}
