// Package acmca implements remoteca.Authority on AWS Certificate Manager.
package acmca

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/acm/types"

	"github.com/jmcleod/ironvpn/internal/awsutil"
	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/remoteca"
)

// API is the subset of the ACM client the authority uses.
type API interface {
	RequestCertificate(ctx context.Context, in *acm.RequestCertificateInput, optFns ...func(*acm.Options)) (*acm.RequestCertificateOutput, error)
	ImportCertificate(ctx context.Context, in *acm.ImportCertificateInput, optFns ...func(*acm.Options)) (*acm.ImportCertificateOutput, error)
	DescribeCertificate(ctx context.Context, in *acm.DescribeCertificateInput, optFns ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error)
	ListCertificates(ctx context.Context, in *acm.ListCertificatesInput, optFns ...func(*acm.Options)) (*acm.ListCertificatesOutput, error)
	DeleteCertificate(ctx context.Context, in *acm.DeleteCertificateInput, optFns ...func(*acm.Options)) (*acm.DeleteCertificateOutput, error)
}

const codeNotFound = "ResourceNotFoundException"

// Authority implements remoteca.Authority.
type Authority struct {
	client API
}

var _ remoteca.Authority = (*Authority)(nil)

// New returns an Authority using client.
func New(client API) *Authority {
	return &Authority{client: client}
}

// NewFromConfig returns an Authority with an ACM client built from cfg.
func NewFromConfig(cfg aws.Config) *Authority {
	return New(acm.NewFromConfig(cfg))
}

func classify(id string, err error) error {
	err = awsutil.Classify(err, codeNotFound)
	if errors.Is(err, errdefs.ErrNotFound) {
		return fmt.Errorf("%s: %w: %v", id, remoteca.ErrCertificateNotFound, err)
	}
	return err
}

func (a *Authority) RequestCertificate(ctx context.Context, domain string) (string, error) {
	out, err := a.client.RequestCertificate(ctx, &acm.RequestCertificateInput{
		DomainName:       aws.String(domain),
		ValidationMethod: types.ValidationMethodDns,
		// Repeated requests within an hour return the same certificate.
		IdempotencyToken: aws.String(idempotencyToken(domain)),
	})
	if err != nil {
		return "", fmt.Errorf("request certificate: %w", awsutil.Classify(err))
	}
	return aws.ToString(out.CertificateArn), nil
}

func (a *Authority) ImportCertificate(ctx context.Context, certPEM, keyPEM, chainPEM []byte, existingID string) (string, error) {
	in := &acm.ImportCertificateInput{
		Certificate: certPEM,
		PrivateKey:  keyPEM,
	}
	if len(chainPEM) > 0 {
		in.CertificateChain = chainPEM
	}
	if existingID != "" {
		in.CertificateArn = aws.String(existingID)
	}
	out, err := a.client.ImportCertificate(ctx, in)
	if err != nil {
		return "", fmt.Errorf("import certificate: %w", classify(existingID, err))
	}
	return aws.ToString(out.CertificateArn), nil
}

func (a *Authority) DescribeCertificate(ctx context.Context, id string) (*remoteca.Certificate, error) {
	out, err := a.client.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
		CertificateArn: aws.String(id),
	})
	if err != nil {
		return nil, fmt.Errorf("describe certificate: %w", classify(id, err))
	}
	d := out.Certificate
	if d == nil {
		return nil, fmt.Errorf("%s: %w", id, remoteca.ErrCertificateNotFound)
	}
	c := &remoteca.Certificate{
		ID:     aws.ToString(d.CertificateArn),
		Domain: aws.ToString(d.DomainName),
		Status: string(d.Status),
		Type:   string(d.Type),
		Serial: normalizeSerial(aws.ToString(d.Serial)),
		InUse:  len(d.InUseBy) > 0,
	}
	if d.NotAfter != nil {
		c.NotAfter = *d.NotAfter
	}
	return c, nil
}

func (a *Authority) ListCertificates(ctx context.Context) ([]remoteca.Certificate, error) {
	var certs []remoteca.Certificate
	p := acm.NewListCertificatesPaginator(a.client, &acm.ListCertificatesInput{
		Includes: &types.Filters{
			// Imported RSA and EC keys are not listed by default.
			KeyTypes: []types.KeyAlgorithm{
				types.KeyAlgorithmRsa2048,
				types.KeyAlgorithmEcPrime256v1,
			},
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list certificates: %w", awsutil.Classify(err))
		}
		for _, s := range page.CertificateSummaryList {
			c := remoteca.Certificate{
				ID:     aws.ToString(s.CertificateArn),
				Domain: aws.ToString(s.DomainName),
				Status: string(s.Status),
				Type:   string(s.Type),
				InUse:  aws.ToBool(s.InUse),
			}
			if s.NotAfter != nil {
				c.NotAfter = *s.NotAfter
			}
			certs = append(certs, c)
		}
	}
	return certs, nil
}

func (a *Authority) DeleteCertificate(ctx context.Context, id string) error {
	_, err := a.client.DeleteCertificate(ctx, &acm.DeleteCertificateInput{
		CertificateArn: aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("delete certificate: %w", classify(id, err))
	}
	return nil
}

// idempotencyToken derives an ACM idempotency token (at most 32 word
// characters) from domain.
func idempotencyToken(domain string) string {
	var b strings.Builder
	for _, r := range domain {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
		if b.Len() == 32 {
			break
		}
	}
	if b.Len() == 0 {
		return "ironvpn"
	}
	return b.String()
}

// normalizeSerial turns ACM's colon separated hex serial into decimal so it
// compares with ledger serials.
func normalizeSerial(s string) string {
	hex := strings.ReplaceAll(s, ":", "")
	if hex == "" {
		return ""
	}
	n, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		return s
	}
	return n.String()
}
