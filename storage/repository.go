// Package storage provides the storage abstraction layer for ledger records.
package storage

import (
	"fmt"

	"github.com/jmcleod/ironvpn/internal/errdefs"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = fmt.Errorf("record %w", errdefs.ErrNotFound)

	// ErrNamespaceNotFound is returned when no record was ever written to a namespace.
	ErrNamespaceNotFound = fmt.Errorf("namespace %w", errdefs.ErrNotFound)

	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = fmt.Errorf("%w: CAS version mismatch", errdefs.ErrConflict)

	// ErrLocked is returned when another process holds the storage file lock
	// for longer than the configured timeout.
	ErrLocked = fmt.Errorf("%w: storage is locked by another process", errdefs.ErrConflict)
)

// ReadTx provides reads against one consistent view of a namespace.
type ReadTx interface {
	Get(recordType string, recordID string) (*Record, error)
	// List returns the record IDs of recordType in ascending key order.
	List(recordType string) ([]string, error)
}

// BatchTx provides reads and writes within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	ReadTx
	Put(recordType string, recordID string, record *Record) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, record *Record) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for ledger record storage.
//
// Batch runs fn with exclusive write access: concurrent batches on the same
// repository never interleave, and when fn returns an error none of its
// writes are applied. View runs fn against a snapshot that concurrent
// batches cannot modify.
type Repository interface {
	Put(namespace string, recordType string, recordID string, record *Record) error
	Get(namespace string, recordType string, recordID string) (*Record, error)
	List(namespace string, recordType string) ([]string, error)
	Delete(namespace string, recordType string, recordID string) error
	PutCAS(namespace string, recordType string, recordID string, expectedVersion uint64, record *Record) error
	Batch(namespace string, fn func(tx BatchTx) error) error
	View(namespace string, fn func(tx ReadTx) error) error
}
