package ec2gw

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironvpn/gateway"
	"github.com/jmcleod/ironvpn/internal/errdefs"
)

type fakeEC2 struct {
	crl        *string
	pages      [][]types.ClientVpnConnection
	terminated []string
	err        error
}

func (f *fakeEC2) ImportClientVpnClientCertificateRevocationList(_ context.Context, in *ec2.ImportClientVpnClientCertificateRevocationListInput, _ ...func(*ec2.Options)) (*ec2.ImportClientVpnClientCertificateRevocationListOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.crl = in.CertificateRevocationList
	return &ec2.ImportClientVpnClientCertificateRevocationListOutput{Return: aws.Bool(true)}, nil
}

func (f *fakeEC2) ExportClientVpnClientCertificateRevocationList(context.Context, *ec2.ExportClientVpnClientCertificateRevocationListInput, ...func(*ec2.Options)) (*ec2.ExportClientVpnClientCertificateRevocationListOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.ExportClientVpnClientCertificateRevocationListOutput{CertificateRevocationList: f.crl}, nil
}

func (f *fakeEC2) DescribeClientVpnConnections(_ context.Context, in *ec2.DescribeClientVpnConnectionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeClientVpnConnectionsOutput, error) {
	i := 0
	if in.NextToken != nil {
		i = 1
	}
	out := &ec2.DescribeClientVpnConnectionsOutput{Connections: f.pages[i]}
	if i+1 < len(f.pages) {
		out.NextToken = aws.String("page-2")
	}
	return out, nil
}

func (f *fakeEC2) TerminateClientVpnConnections(_ context.Context, in *ec2.TerminateClientVpnConnectionsInput, _ ...func(*ec2.Options)) (*ec2.TerminateClientVpnConnectionsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.terminated = append(f.terminated, aws.ToString(in.ConnectionId))
	return &ec2.TerminateClientVpnConnectionsOutput{}, nil
}

func (f *fakeEC2) ExportClientVpnClientConfiguration(context.Context, *ec2.ExportClientVpnClientConfigurationInput, ...func(*ec2.Options)) (*ec2.ExportClientVpnClientConfigurationOutput, error) {
	return &ec2.ExportClientVpnClientConfigurationOutput{ClientConfiguration: aws.String("client\n")}, nil
}

func conn(id, cn string, code types.ClientVpnConnectionStatusCode) types.ClientVpnConnection {
	return types.ClientVpnConnection{
		ConnectionId: aws.String(id),
		CommonName:   aws.String(cn),
		Status:       &types.ClientVpnConnectionStatus{Code: code},
	}
}

func TestEnforcer(t *testing.T) {
	ctx := context.Background()
	api := &fakeEC2{pages: [][]types.ClientVpnConnection{
		{conn("c1", "alice", types.ClientVpnConnectionStatusCodeActive)},
		{conn("c2", "bob", types.ClientVpnConnectionStatusCodeTerminated)},
	}}
	e := New(api)

	_, err := e.ExportRevocationList(ctx, "cvpn-1")
	assert.ErrorIs(t, err, gateway.ErrNoRevocationList)

	require.NoError(t, e.ImportRevocationList(ctx, "cvpn-1", []byte("crl")))
	got, err := e.ExportRevocationList(ctx, "cvpn-1")
	require.NoError(t, err)
	assert.Equal(t, "crl", string(got))

	conns, err := e.DescribeConnections(ctx, "cvpn-1")
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "alice", conns[0].CommonName)
	assert.True(t, conns[0].Live())
	assert.False(t, conns[1].Live())

	require.NoError(t, e.TerminateConnection(ctx, "cvpn-1", "c1"))
	assert.Equal(t, []string{"c1"}, api.terminated)

	cfg, err := e.ExportClientConfiguration(ctx, "cvpn-1")
	require.NoError(t, err)
	assert.Equal(t, "client\n", cfg)
}

func TestEnforcer_Errors(t *testing.T) {
	ctx := context.Background()
	api := &fakeEC2{}
	e := New(api)

	api.err = &smithy.GenericAPIError{Code: codeEndpointNotFound, Fault: smithy.FaultClient}
	err := e.ImportRevocationList(ctx, "cvpn-x", []byte("crl"))
	assert.ErrorIs(t, err, gateway.ErrEndpointNotFound)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	api.err = &smithy.GenericAPIError{Code: "InvalidClientVpnConnection.IdNotFound", Fault: smithy.FaultClient}
	err = e.TerminateConnection(ctx, "cvpn-1", "gone")
	assert.ErrorIs(t, err, gateway.ErrConnectionNotFound)

	api.err = &smithy.GenericAPIError{Code: "UnauthorizedOperation", Fault: smithy.FaultClient}
	err = e.ImportRevocationList(ctx, "cvpn-1", []byte("crl"))
	assert.ErrorIs(t, err, errdefs.ErrRejected)

	api.err = &smithy.GenericAPIError{Code: "RequestLimitExceeded", Fault: smithy.FaultClient}
	err = e.ImportRevocationList(ctx, "cvpn-1", []byte("crl"))
	assert.False(t, errdefs.IsPermanent(err))
}
