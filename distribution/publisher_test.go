package distribution_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironvpn/distribution"
	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/internal/retry"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/revocation"
	"github.com/jmcleod/ironvpn/storage/memory"
)

// fakeStore is an in-memory ObjectStore with injectable failures.
type fakeStore struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]byte
	putFails int
	corrupt  bool
	puts     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]map[string][]byte{}}
}

func (f *fakeStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[bucket]
	return ok, nil
}

func (f *fakeStore) CreateBucket(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket] = map[string][]byte{}
	return nil
}

func (f *fakeStore) Put(_ context.Context, bucket, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putFails > 0 {
		f.putFails--
		return errors.New("connection reset")
	}
	if f.corrupt {
		data = append([]byte(nil), data...)
		data[0] ^= 0xff
	}
	f.buckets[bucket][key] = data
	return nil
}

func (f *fakeStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.buckets[bucket][key]
	if !ok {
		return nil, distribution.ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeStore) Location(bucket, key string) string {
	return "fake://" + bucket + "/" + key
}

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func newPublisher(t *testing.T, store *fakeStore, create bool) (*distribution.Publisher, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(memory.NewRepository())
	p := distribution.NewPublisher(store, l,
		distribution.Target{Bucket: "vpn-cert-revocation-list", Object: "vpn-crl.pem", CreateBucket: create},
		distribution.WithRetryPolicy(fastPolicy),
	)
	return p, l
}

func doc(number int64, body string) *revocation.Document {
	return &revocation.Document{Number: number, PEM: []byte(body)}
}

func TestPublish(t *testing.T) {
	store := newFakeStore()
	p, l := newPublisher(t, store, true)

	ps, err := p.Publish(context.Background(), doc(2, "crl-v2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), ps.Version)
	assert.Equal(t, revocation.Digest([]byte("crl-v2")), ps.Digest)
	assert.Equal(t, "fake://vpn-cert-revocation-list/vpn-crl.pem", ps.Location)

	last, err := l.PublishState()
	require.NoError(t, err)
	assert.Equal(t, int64(2), last.Version)

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "crl-v2", string(got))
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	store := newFakeStore()
	store.putFails = 2
	p, _ := newPublisher(t, store, true)

	_, err := p.Publish(context.Background(), doc(1, "crl"))
	require.NoError(t, err)
	assert.Equal(t, 3, store.puts)
}

func TestPublish_VerificationFailureDoesNotAdvance(t *testing.T) {
	store := newFakeStore()
	p, l := newPublisher(t, store, true)
	_, err := p.Publish(context.Background(), doc(1, "crl-v1"))
	require.NoError(t, err)

	store.corrupt = true
	_, err = p.Publish(context.Background(), doc(2, "crl-v2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrVerificationFailed)
	assert.ErrorIs(t, err, errdefs.ErrRemoteUnavailable)
	assert.ErrorIs(t, err, distribution.ErrDigestMismatch)

	last, err := l.PublishState()
	require.NoError(t, err)
	assert.Equal(t, int64(1), last.Version, "unverified publish must not be recorded")
}

func TestPublish_ExhaustedSurfacesRemoteUnavailable(t *testing.T) {
	store := newFakeStore()
	store.putFails = 10
	p, l := newPublisher(t, store, true)

	_, err := p.Publish(context.Background(), doc(1, "crl"))
	assert.ErrorIs(t, err, errdefs.ErrRemoteUnavailable)
	assert.Equal(t, fastPolicy.MaxAttempts, store.puts)

	last, err := l.PublishState()
	require.NoError(t, err)
	assert.Zero(t, last.Version)
}

func TestPublish_StaleSnapshot(t *testing.T) {
	store := newFakeStore()
	p, _ := newPublisher(t, store, true)
	_, err := p.Publish(context.Background(), doc(3, "crl-v3"))
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), doc(2, "crl-v2"))
	assert.ErrorIs(t, err, distribution.ErrStaleSnapshot)
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "crl-v3", string(got), "older snapshot never overwrites a newer one")

	_, err = p.Publish(context.Background(), doc(3, "crl-v3"))
	assert.NoError(t, err, "republishing the same version is allowed")
}

func TestPublish_MissingBucket(t *testing.T) {
	store := newFakeStore()
	p, _ := newPublisher(t, store, false)

	_, err := p.Publish(context.Background(), doc(1, "crl"))
	assert.ErrorIs(t, err, distribution.ErrBucketNotFound)
	assert.Zero(t, store.puts)
}

func TestFetch_NotFound(t *testing.T) {
	store := newFakeStore()
	p, _ := newPublisher(t, store, true)
	require.NoError(t, store.CreateBucket(context.Background(), "vpn-cert-revocation-list"))

	_, err := p.Fetch(context.Background())
	assert.ErrorIs(t, err, distribution.ErrObjectNotFound)
	assert.NotErrorIs(t, err, errdefs.ErrRemoteUnavailable)
}
