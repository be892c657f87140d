// Package filestore is a distribution.ObjectStore on the local filesystem.
// Each bucket is a sub-directory of the root. It serves offline operation
// and tests.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/jmcleod/ironvpn/distribution"
)

// Store implements distribution.ObjectStore in a directory.
type Store struct {
	root string
}

var _ distribution.ObjectStore = (*Store)(nil)

// New returns a Store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(bucket, key string) (string, error) {
	for _, part := range []string{bucket, key} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("invalid object name %q", part)
		}
	}
	return filepath.Join(s.root, bucket, key), nil
}

func (s *Store) BucketExists(_ context.Context, bucket string) (bool, error) {
	info, err := os.Stat(filepath.Join(s.root, bucket))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *Store) CreateBucket(_ context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(s.root, bucket), 0o755)
}

func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if ok, err := s.BucketExists(ctx, bucket); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%s: %w", bucket, distribution.ErrBucketNotFound)
	}
	return renameio.WriteFile(p, data, 0o644)
}

func (s *Store) Get(_ context.Context, bucket, key string) ([]byte, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, distribution.ErrObjectNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) Location(bucket, key string) string {
	return "file://" + filepath.ToSlash(filepath.Join(s.root, bucket, key))
}
