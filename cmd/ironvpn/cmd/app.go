package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/jmcleod/ironvpn/bundle"
	"github.com/jmcleod/ironvpn/distribution"
	"github.com/jmcleod/ironvpn/distribution/filestore"
	"github.com/jmcleod/ironvpn/distribution/s3store"
	"github.com/jmcleod/ironvpn/gateway"
	"github.com/jmcleod/ironvpn/gateway/ec2gw"
	"github.com/jmcleod/ironvpn/internal/config"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/manager"
	"github.com/jmcleod/ironvpn/pki"
	"github.com/jmcleod/ironvpn/remoteca"
	"github.com/jmcleod/ironvpn/remoteca/acmca"
	"github.com/jmcleod/ironvpn/revocation"
	bboltstorage "github.com/jmcleod/ironvpn/storage/bbolt"
)

// backends are the remote systems the manager talks to. Tests substitute
// fakes for the AWS implementations.
type backends struct {
	store    distribution.ObjectStore
	enforcer gateway.Enforcer
	remote   remoteca.Authority
}

// newBackends builds the remote systems from c. It is a variable so tests
// can avoid AWS.
var newBackends = func(ctx context.Context, c *config.Config) (*backends, error) {
	b := &backends{}
	needsAWS := c.CRL.Store == config.StoreS3 || c.Gateway.Enabled || c.Remote.Enabled
	var awsCfg aws.Config
	if needsAWS {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS configuration: %w", err)
		}
	}
	if c.CRL.Store == config.StoreS3 {
		b.store = s3store.NewFromConfig(awsCfg)
	} else {
		b.store = filestore.New(c.CRL.FileStoreDir)
	}
	if c.Gateway.Enabled {
		b.enforcer = ec2gw.NewFromConfig(awsCfg)
	}
	if c.Remote.Enabled {
		b.remote = acmca.NewFromConfig(awsCfg)
	}
	return b, nil
}

// app holds the ledger lock for the life of one command.
type app struct {
	cfg     *config.Config
	repo    *bboltstorage.Store
	files   *pki.FileStore
	manager *manager.Manager
}

func openApp(ctx context.Context, c *config.Config) (*app, error) {
	logger := slog.Default()
	files := pki.NewFileStore(c.DataDir)
	if err := files.Init(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	repo, err := bboltstorage.Open(c.LedgerFile(), c.Timeouts.Lock)
	if err != nil {
		return nil, fmt.Errorf("opening ledger (another ironvpn may be running): %w", err)
	}
	b, err := newBackends(ctx, c)
	if err != nil {
		repo.Close()
		return nil, err
	}

	policy := c.RetryPolicy()
	l := ledger.New(repo)
	authority := pki.NewAuthority(files, l,
		pki.WithKeyAlgorithm(pki.KeyAlgorithm(c.CA.KeyAlgorithm)),
		pki.WithSubjectTemplate(c.Subject("")),
		pki.WithLogger(logger),
	)
	registry := revocation.NewRegistry(l, authority,
		revocation.WithWindow(c.CRL.ValidityWindow),
		revocation.WithLogger(logger),
	)
	publisher := distribution.NewPublisher(b.store, l,
		distribution.Target{Bucket: c.CRL.Bucket, Object: c.CRL.Object, CreateBucket: c.CRL.CreateBucket},
		distribution.WithRetryPolicy(policy),
		distribution.WithLogger(logger),
	)

	opts := []manager.Option{
		manager.WithSettings(manager.Settings{
			CASubject:          c.Subject(c.CA.CommonName),
			CAValidityDays:     c.CA.ValidityDays,
			ClientValidityDays: c.Client.ValidityDays,
			ServerValidityDays: c.Server.ValidityDays,
			ImportClients:      c.Client.ImportToACM,
			SplitTunnel:        c.Bundle.SplitTunnel,
			VPCCIDR:            c.VPCCIDR,
		}),
		manager.WithRetryPolicy(policy),
		manager.WithLogger(logger),
	}
	if b.enforcer != nil {
		opts = append(opts, manager.WithGateway(gateway.NewNotifier(b.enforcer,
			gateway.WithRetryPolicy(policy),
			gateway.WithLogger(logger),
		)))
	}
	if b.remote != nil {
		opts = append(opts, manager.WithRemote(b.remote))
	}

	return &app{
		cfg:     c,
		repo:    repo,
		files:   files,
		manager: manager.New(l, authority, registry, publisher, bundle.NewWriter(c.BundleDir), opts...),
	}, nil
}

// Close releases the ledger lock.
func (a *app) Close() error {
	return a.repo.Close()
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
