// Package distribution publishes rendered CRLs to a durable object store and
// confirms each publication by reading it back.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/internal/retry"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/revocation"
)

var (
	// ErrObjectNotFound is returned by an ObjectStore for a missing object.
	ErrObjectNotFound = fmt.Errorf("object %w", errdefs.ErrNotFound)

	// ErrBucketNotFound is returned when the bucket is missing and the
	// publisher is not allowed to create it.
	ErrBucketNotFound = fmt.Errorf("bucket %w", errdefs.ErrNotFound)

	// ErrStaleSnapshot is returned when publishing a CRL older than the
	// version already confirmed in the store.
	ErrStaleSnapshot = fmt.Errorf("%w: CRL older than the published version", errdefs.ErrConflict)

	// ErrDigestMismatch is returned when the object read back differs from
	// what was written.
	ErrDigestMismatch = fmt.Errorf("%w: read-back digest mismatch", errdefs.ErrVerificationFailed)
)

// ObjectStore is the durable store the CRL is distributed from.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, data []byte) error
	// Get returns ErrObjectNotFound (possibly wrapped) for a missing object.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Location renders bucket and key as a URL for logs and reports.
	Location(bucket, key string) string
}

// Target names where the CRL is published.
type Target struct {
	Bucket string
	Object string
	// CreateBucket allows the publisher to create a missing bucket.
	CreateBucket bool
}

// Publisher publishes CRL documents and records confirmed publications in
// the ledger.
type Publisher struct {
	store  ObjectStore
	ledger *ledger.Ledger
	target Target
	policy retry.Policy
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRetryPolicy sets the retry policy for store calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(pub *Publisher) {
		pub.policy = p
	}
}

// WithClock sets the clock used for publication timestamps.
func WithClock(now func() time.Time) Option {
	return func(pub *Publisher) {
		pub.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(pub *Publisher) {
		pub.logger = logger
	}
}

// NewPublisher returns a Publisher writing to target in store.
func NewPublisher(store ObjectStore, l *ledger.Ledger, target Target, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		ledger: l,
		target: target,
		policy: retry.DefaultPolicy(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Location returns the URL of the published object.
func (p *Publisher) Location() string {
	return p.store.Location(p.target.Bucket, p.target.Object)
}

// LastPublished returns the last confirmed publication.
func (p *Publisher) LastPublished() (*ledger.PublishState, error) {
	return p.ledger.PublishState()
}

// Publish writes doc, reads it back and compares digests, retrying
// transient failures and mismatches under the retry policy. Only a verified
// publication advances the ledger's PublishState. A document older than the
// last confirmed version fails with ErrStaleSnapshot before any write.
func (p *Publisher) Publish(ctx context.Context, doc *revocation.Document) (*ledger.PublishState, error) {
	last, err := p.ledger.PublishState()
	if err != nil {
		return nil, err
	}
	if doc.Number < last.Version {
		return nil, fmt.Errorf("version %d < %d: %w", doc.Number, last.Version, ErrStaleSnapshot)
	}

	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}

	want := doc.Digest()
	err = retry.Do(ctx, p.policy, "publishing CRL to "+p.Location(), func(ctx context.Context) error {
		if err := p.store.Put(ctx, p.target.Bucket, p.target.Object, doc.PEM); err != nil {
			return err
		}
		got, err := p.store.Get(ctx, p.target.Bucket, p.target.Object)
		if err != nil {
			if errors.Is(err, errdefs.ErrNotFound) {
				// Read-after-write miss; treat as a mismatch and try again.
				return fmt.Errorf("%w: object missing after write", ErrDigestMismatch)
			}
			return err
		}
		if d := revocation.Digest(got); d != want {
			return fmt.Errorf("%w: wrote %s, read %s", ErrDigestMismatch, want, d)
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("distribution: publish not confirmed", "location", p.Location(), "version", doc.Number, "error", err)
		return nil, err
	}

	ps := ledger.PublishState{
		Version:     doc.Number,
		Digest:      want,
		Location:    p.Location(),
		PublishedAt: p.now().UTC(),
	}
	if err := p.ledger.ConfirmPublish(ps); err != nil {
		if errors.Is(err, ledger.ErrStalePublish) {
			return nil, fmt.Errorf("%w: %v", ErrStaleSnapshot, err)
		}
		return nil, fmt.Errorf("recording publication: %w", err)
	}
	p.logger.Info("distribution: CRL published", "location", ps.Location, "version", ps.Version, "digest", ps.Digest)
	return &ps, nil
}

// Fetch returns the currently published object.
func (p *Publisher) Fetch(ctx context.Context) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, p.policy, "fetching CRL from "+p.Location(), func(ctx context.Context) error {
		var err error
		data, err = p.store.Get(ctx, p.target.Bucket, p.target.Object)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	var exists bool
	err := retry.Do(ctx, p.policy, "checking bucket "+p.target.Bucket, func(ctx context.Context) error {
		var err error
		exists, err = p.store.BucketExists(ctx, p.target.Bucket)
		return err
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !p.target.CreateBucket {
		return fmt.Errorf("%s: %w", p.target.Bucket, ErrBucketNotFound)
	}
	p.logger.Info("distribution: creating bucket", "bucket", p.target.Bucket)
	return retry.Do(ctx, p.policy, "creating bucket "+p.target.Bucket, func(ctx context.Context) error {
		return p.store.CreateBucket(ctx, p.target.Bucket)
	})
}
