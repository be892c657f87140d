// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jmcleod/ironvpn/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing and single-process use.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Record
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Record)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func (r *Repository) Put(namespace, recordType, recordID string, record *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(namespace, recordType, recordID, record)
}

func (r *Repository) putLocked(namespace, recordType, recordID string, record *storage.Record) error {
	if _, ok := r.data[namespace]; !ok {
		r.data[namespace] = make(map[string]*storage.Record)
	}
	r.data[namespace][makeKey(recordType, recordID)] = record.Clone()
	return nil
}

func (r *Repository) Get(namespace, recordType, recordID string) (*storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.data[namespace]; !ok {
		return nil, fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
	}
	return r.getLocked(namespace, recordType, recordID)
}

func (r *Repository) getLocked(namespace, recordType, recordID string) (*storage.Record, error) {
	rec, ok := r.data[namespace][makeKey(recordType, recordID)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (r *Repository) List(namespace, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked(namespace, recordType), nil
}

func (r *Repository) listLocked(namespace, recordType string) []string {
	var ids []string
	prefix := recordType + ":"
	for k := range r.data[namespace] {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (r *Repository) Delete(namespace, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[namespace]; !ok {
		return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
	}
	return r.deleteLocked(namespace, recordType, recordID)
}

func (r *Repository) deleteLocked(namespace, recordType, recordID string) error {
	k := makeKey(recordType, recordID)
	if _, ok := r.data[namespace][k]; !ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	delete(r.data[namespace], k)
	return nil
}

func (r *Repository) PutCAS(namespace, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(namespace, recordType, recordID, expectedVersion, record)
}

func (r *Repository) putCASLocked(namespace, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	existing, err := r.getLocked(namespace, recordType, recordID)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		return r.putLocked(namespace, recordType, recordID, record)
	}
	if expectedVersion == 0 || existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	return r.putLocked(namespace, recordType, recordID, record)
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotNamespace(namespace)

	tx := &memoryBatchTx{repo: r, namespace: namespace}
	if err := fn(tx); err != nil {
		r.restoreNamespace(namespace, snapshot)
		return err
	}
	return nil
}

// View executes fn with a read lock held for its duration.
func (r *Repository) View(namespace string, fn func(tx storage.ReadTx) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(&memoryReadTx{repo: r, namespace: namespace})
}

func (r *Repository) snapshotNamespace(namespace string) map[string]*storage.Record {
	original, ok := r.data[namespace]
	if !ok {
		return nil
	}
	cp := make(map[string]*storage.Record, len(original))
	for k, v := range original {
		cp[k] = v.Clone()
	}
	return cp
}

func (r *Repository) restoreNamespace(namespace string, snapshot map[string]*storage.Record) {
	if snapshot == nil {
		delete(r.data, namespace)
	} else {
		r.data[namespace] = snapshot
	}
}

type memoryReadTx struct {
	repo      *Repository
	namespace string
}

func (tx *memoryReadTx) Get(recordType, recordID string) (*storage.Record, error) {
	return tx.repo.getLocked(tx.namespace, recordType, recordID)
}

func (tx *memoryReadTx) List(recordType string) ([]string, error) {
	return tx.repo.listLocked(tx.namespace, recordType), nil
}

type memoryBatchTx struct {
	repo      *Repository
	namespace string
}

func (tx *memoryBatchTx) Get(recordType, recordID string) (*storage.Record, error) {
	return tx.repo.getLocked(tx.namespace, recordType, recordID)
}

func (tx *memoryBatchTx) List(recordType string) ([]string, error) {
	return tx.repo.listLocked(tx.namespace, recordType), nil
}

func (tx *memoryBatchTx) Put(recordType, recordID string, record *storage.Record) error {
	return tx.repo.putLocked(tx.namespace, recordType, recordID, record)
}

func (tx *memoryBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	return tx.repo.putCASLocked(tx.namespace, recordType, recordID, expectedVersion, record)
}

func (tx *memoryBatchTx) Delete(recordType, recordID string) error {
	return tx.repo.deleteLocked(tx.namespace, recordType, recordID)
}
