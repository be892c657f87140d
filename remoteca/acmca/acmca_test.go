package acmca

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/remoteca"
)

type fakeACM struct {
	certs    map[string]types.CertificateDetail
	next     int
	imported []*acm.ImportCertificateInput
	requests []*acm.RequestCertificateInput
}

func newFakeACM() *fakeACM {
	return &fakeACM{certs: map[string]types.CertificateDetail{}}
}

func notFound() error {
	return &smithy.GenericAPIError{Code: codeNotFound, Message: "no such certificate", Fault: smithy.FaultClient}
}

func (f *fakeACM) arn() string {
	f.next++
	return "arn:aws:acm:us-east-2:123456789012:certificate/" + string(rune('a'+f.next))
}

func (f *fakeACM) RequestCertificate(_ context.Context, in *acm.RequestCertificateInput, _ ...func(*acm.Options)) (*acm.RequestCertificateOutput, error) {
	f.requests = append(f.requests, in)
	arn := f.arn()
	f.certs[arn] = types.CertificateDetail{
		CertificateArn: aws.String(arn),
		DomainName:     in.DomainName,
		Status:         types.CertificateStatusPendingValidation,
		Type:           types.CertificateTypeAmazonIssued,
	}
	return &acm.RequestCertificateOutput{CertificateArn: aws.String(arn)}, nil
}

func (f *fakeACM) ImportCertificate(_ context.Context, in *acm.ImportCertificateInput, _ ...func(*acm.Options)) (*acm.ImportCertificateOutput, error) {
	f.imported = append(f.imported, in)
	arn := aws.ToString(in.CertificateArn)
	if arn != "" {
		if _, ok := f.certs[arn]; !ok {
			return nil, notFound()
		}
	} else {
		arn = f.arn()
	}
	f.certs[arn] = types.CertificateDetail{
		CertificateArn: aws.String(arn),
		DomainName:     aws.String("vpn.example.com"),
		Status:         types.CertificateStatusIssued,
		Type:           types.CertificateTypeImported,
		Serial:         aws.String("0a:0b"),
	}
	return &acm.ImportCertificateOutput{CertificateArn: aws.String(arn)}, nil
}

func (f *fakeACM) DescribeCertificate(_ context.Context, in *acm.DescribeCertificateInput, _ ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
	d, ok := f.certs[aws.ToString(in.CertificateArn)]
	if !ok {
		return nil, notFound()
	}
	return &acm.DescribeCertificateOutput{Certificate: &d}, nil
}

func (f *fakeACM) ListCertificates(_ context.Context, in *acm.ListCertificatesInput, _ ...func(*acm.Options)) (*acm.ListCertificatesOutput, error) {
	var out acm.ListCertificatesOutput
	for _, d := range f.certs {
		out.CertificateSummaryList = append(out.CertificateSummaryList, types.CertificateSummary{
			CertificateArn: d.CertificateArn,
			DomainName:     d.DomainName,
			Status:         d.Status,
			Type:           d.Type,
			InUse:          aws.Bool(false),
		})
	}
	return &out, nil
}

func (f *fakeACM) DeleteCertificate(_ context.Context, in *acm.DeleteCertificateInput, _ ...func(*acm.Options)) (*acm.DeleteCertificateOutput, error) {
	arn := aws.ToString(in.CertificateArn)
	if _, ok := f.certs[arn]; !ok {
		return nil, notFound()
	}
	delete(f.certs, arn)
	return &acm.DeleteCertificateOutput{}, nil
}

func TestAuthority(t *testing.T) {
	ctx := context.Background()
	api := newFakeACM()
	a := New(api)

	reqID, err := a.RequestCertificate(ctx, "vpn.example.com")
	require.NoError(t, err)
	require.Len(t, api.requests, 1)
	assert.Equal(t, types.ValidationMethodDns, api.requests[0].ValidationMethod)
	assert.Equal(t, "vpnexamplecom", aws.ToString(api.requests[0].IdempotencyToken))

	impID, err := a.ImportCertificate(ctx, []byte("cert"), []byte("key"), []byte("chain"), "")
	require.NoError(t, err)
	assert.Equal(t, []byte("chain"), api.imported[0].CertificateChain)

	again, err := a.ImportCertificate(ctx, []byte("cert"), []byte("key"), nil, impID)
	require.NoError(t, err)
	assert.Equal(t, impID, again)
	assert.Nil(t, api.imported[1].CertificateChain)

	c, err := a.DescribeCertificate(ctx, impID)
	require.NoError(t, err)
	assert.Equal(t, remoteca.StatusIssued, c.Status)
	assert.Equal(t, remoteca.TypeImported, c.Type)
	assert.Equal(t, "2571", c.Serial)

	list, err := a.ListCertificates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, a.DeleteCertificate(ctx, reqID))
	err = a.DeleteCertificate(ctx, reqID)
	assert.ErrorIs(t, err, remoteca.ErrCertificateNotFound)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = a.DescribeCertificate(ctx, reqID)
	assert.ErrorIs(t, err, remoteca.ErrCertificateNotFound)

	_, err = a.ImportCertificate(ctx, []byte("cert"), []byte("key"), nil, reqID)
	assert.ErrorIs(t, err, remoteca.ErrCertificateNotFound)
}

func TestNormalizeSerial(t *testing.T) {
	assert.Equal(t, "2", normalizeSerial("02"))
	assert.Equal(t, "4096", normalizeSerial("10:00"))
	assert.Equal(t, "", normalizeSerial(""))
	assert.Equal(t, "zz", normalizeSerial("zz"))
}

func TestIdempotencyToken(t *testing.T) {
	assert.Equal(t, "ironvpn", idempotencyToken("..."))
	assert.Len(t, idempotencyToken("a-very-long-subdomain.of-a-very-long-domain.example.com"), 32)
}
