// Package s3store is a distribution.ObjectStore backed by Amazon S3.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jmcleod/ironvpn/distribution"
	"github.com/jmcleod/ironvpn/internal/awsutil"
	"github.com/jmcleod/ironvpn/internal/errdefs"
)

// API is the subset of the S3 client the store uses.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// contentType is the registered media type of a CRL.
const contentType = "application/pkix-crl"

// Store implements distribution.ObjectStore on S3.
type Store struct {
	client API
	region string
}

var _ distribution.ObjectStore = (*Store)(nil)

// New returns a Store using client. region is used as the location
// constraint when creating buckets.
func New(client API, region string) *Store {
	return &Store{client: client, region: region}
}

// NewFromConfig returns a Store with an S3 client built from cfg.
func NewFromConfig(cfg aws.Config) *Store {
	return New(s3.NewFromConfig(cfg), cfg.Region)
}

func (s *Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		err = awsutil.Classify(err, "NotFound", "NoSuchBucket")
		if errors.Is(err, errdefs.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return true, nil
}

func (s *Store) CreateBucket(ctx context.Context, bucket string) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if s.region != "" && s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	_, err := s.client.CreateBucket(ctx, in)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, awsutil.Classify(err))
	}
	return nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, awsutil.Classify(err, "NoSuchBucket"))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = awsutil.Classify(err, "NoSuchKey", "NotFound")
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, distribution.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *Store) Location(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
