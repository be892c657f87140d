// Package ledger is the durable record of the certificate authority: CA
// state, every certificate ever issued, the ordered revocation entries,
// operation step logs and the last confirmed CRL publication.
//
// All mutations run in a single storage batch, so a serial is allocated,
// the certificate recorded and the counter advanced atomically.
package ledger

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/storage"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrNoCA is returned when the certificate authority has not been initialized.
	ErrNoCA = fmt.Errorf("certificate authority %w", errdefs.ErrNotFound)

	// ErrAlreadyCA is returned when InitCA is called twice.
	ErrAlreadyCA = fmt.Errorf("%w: certificate authority already initialized", errdefs.ErrConflict)

	// ErrIdentityNotFound is returned when no certificate was ever issued to a name.
	ErrIdentityNotFound = fmt.Errorf("identity %w", errdefs.ErrNotFound)

	// ErrCertificateNotFound is returned when a certificate ID is unknown.
	ErrCertificateNotFound = fmt.Errorf("certificate %w", errdefs.ErrNotFound)

	// ErrDuplicateActiveIdentity is returned when issuing to a name that
	// already holds an active certificate.
	ErrDuplicateActiveIdentity = fmt.Errorf("%w: identity already holds an active certificate", errdefs.ErrConflict)

	// ErrAlreadyRevoked is returned when revoking an identity whose newest
	// certificate is already revoked.
	ErrAlreadyRevoked = fmt.Errorf("%w: certificate already revoked", errdefs.ErrConflict)

	// ErrOperationNotFound is returned when an operation ID is unknown.
	ErrOperationNotFound = fmt.Errorf("operation %w", errdefs.ErrNotFound)

	// ErrStalePublish is returned when confirming a CRL version older than
	// the one already confirmed.
	ErrStalePublish = fmt.Errorf("%w: published version would go backwards", errdefs.ErrConflict)

	// ErrRemoteIDInUse is returned when a remote certificate ID is already
	// recorded for a different certificate.
	ErrRemoteIDInUse = fmt.Errorf("%w: remote ID already recorded", errdefs.ErrConflict)

	// ErrCorrupt is returned when the ledger contradicts itself.
	ErrCorrupt = fmt.Errorf("%w: ledger is inconsistent", errdefs.ErrFatal)
)

const namespace = "pki"

const (
	typeCA           = "ca"
	typeCert         = "cert"
	typeClient       = "client"
	typeServer       = "server"
	typeRevocation   = "revocation"
	typeOperation    = "operation"
	typeDistribution = "distribution"

	idCAState = "state"
	idCRL     = "crl"
)

// Ledger records certificate authority state in a storage.Repository.
type Ledger struct {
	repo storage.Repository
	now  func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used for issuance and revocation timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New returns a Ledger backed by repo.
func New(repo storage.Repository, opts ...Option) *Ledger {
	l := &Ledger{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ---------------------------------------------------------------------------
// Record helpers
// ---------------------------------------------------------------------------

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound)
}

func load(tx storage.ReadTx, recordType, id string, v any) (uint64, error) {
	rec, err := tx.Get(recordType, id)
	if err != nil {
		return 0, err
	}
	if err := rec.Decode(v); err != nil {
		return 0, fmt.Errorf("%w: %s/%s: %v", ErrCorrupt, recordType, id, err)
	}
	return rec.Version, nil
}

func store(tx storage.BatchTx, recordType, id string, v any) error {
	rec, err := storage.NewRecord(v)
	if err != nil {
		return err
	}
	return tx.Put(recordType, id, rec)
}

func loadCA(tx storage.ReadTx) (*CAState, uint64, error) {
	var ca CAState
	version, err := load(tx, typeCA, idCAState, &ca)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrNoCA
		}
		return nil, 0, err
	}
	return &ca, version, nil
}

func saveCA(tx storage.BatchTx, ca *CAState, version uint64) error {
	rec, err := storage.NewRecord(ca, version+1)
	if err != nil {
		return err
	}
	return tx.PutCAS(typeCA, idCAState, version, rec)
}

func loadIndexed(tx storage.ReadTx, recordType, key string) (*Certificate, error) {
	var id string
	if _, err := load(tx, recordType, key, &id); err != nil {
		return nil, err
	}
	var c Certificate
	if _, err := load(tx, typeCert, id, &c); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s %q indexes missing certificate %s", ErrCorrupt, recordType, key, id)
		}
		return nil, err
	}
	return &c, nil
}

func (l *Ledger) view(fn func(tx storage.ReadTx) error) error {
	return l.repo.View(namespace, fn)
}

func (l *Ledger) batch(fn func(tx storage.BatchTx) error) error {
	return l.repo.Batch(namespace, fn)
}

// ---------------------------------------------------------------------------
// CA state
// ---------------------------------------------------------------------------

// InitCA records the certificate authority. ca.Serial is the serial of the
// CA certificate; leaf serials start after it.
func (l *Ledger) InitCA(ca CAState) error {
	return l.batch(func(tx storage.BatchTx) error {
		if _, _, err := loadCA(tx); err == nil {
			return ErrAlreadyCA
		} else if !errors.Is(err, ErrNoCA) {
			return err
		}
		if ca.NextSerial <= ca.Serial {
			ca.NextSerial = ca.Serial + 1
		}
		if ca.CreatedAt.IsZero() {
			ca.CreatedAt = l.now().UTC()
		}
		return saveCA(tx, &ca, 0)
	})
}

// CA returns the certificate authority state.
func (l *Ledger) CA() (*CAState, error) {
	var ca *CAState
	err := l.view(func(tx storage.ReadTx) error {
		var err error
		ca, _, err = loadCA(tx)
		return err
	})
	return ca, err
}

// SetCARemoteID records (or clears, when remoteID is empty) the remote
// certificate authority service's ID for the CA certificate.
func (l *Ledger) SetCARemoteID(remoteID string) error {
	return l.batch(func(tx storage.BatchTx) error {
		ca, version, err := loadCA(tx)
		if err != nil {
			return err
		}
		ca.RemoteID = remoteID
		return saveCA(tx, ca, version)
	})
}

// ---------------------------------------------------------------------------
// Issuance
// ---------------------------------------------------------------------------

// SignFunc signs a certificate with the allocated serial and persists its
// key material. It returns the record with its validity window and
// fingerprint filled in. An error rolls back the serial allocation.
type SignFunc func(serial int64) (*Certificate, error)

// Issue allocates the next serial, calls sign with it and records the
// result, all in one transaction. A client name holding an active
// certificate fails with ErrDuplicateActiveIdentity. A server domain is
// superseded rather than rejected.
func (l *Ledger) Issue(kind Kind, name string, sign SignFunc) (*Certificate, error) {
	var issued *Certificate
	err := l.batch(func(tx storage.BatchTx) error {
		ca, version, err := loadCA(tx)
		if err != nil {
			return err
		}
		index := indexType(kind)
		prev, err := loadIndexed(tx, index, name)
		switch {
		case err == nil:
			if kind == KindClient && prev.Active() {
				return fmt.Errorf("%s (serial %d): %w", name, prev.Serial, ErrDuplicateActiveIdentity)
			}
		case isNotFound(err):
			prev = nil
		default:
			return err
		}

		serial := ca.NextSerial
		c, err := sign(serial)
		if err != nil {
			return err
		}
		c.ID = serialKey(serial)
		c.Name = name
		c.Kind = kind
		c.Source = SourceLocal
		c.Serial = serial
		c.State = StateActive
		c.RevokedAt = nil
		if c.IssuedAt.IsZero() {
			c.IssuedAt = l.now().UTC()
		}
		if err := l.recordIssued(tx, index, name, prev, c); err != nil {
			return err
		}
		ca.NextSerial = serial + 1
		if err := saveCA(tx, ca, version); err != nil {
			return err
		}
		issued = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// RecordRemote records a server certificate issued by the remote
// certificate authority service. No local serial is consumed.
func (l *Ledger) RecordRemote(c Certificate) (*Certificate, error) {
	if c.RemoteID == "" {
		return nil, errors.New("remote certificate has no remote ID")
	}
	var recorded *Certificate
	err := l.batch(func(tx storage.BatchTx) error {
		var existing Certificate
		_, err := load(tx, typeCert, remoteKey(c.RemoteID), &existing)
		switch {
		case err == nil && existing.Kind == KindServer && existing.Name == c.Name:
			// The service answered a repeated request with the same certificate.
			recorded = &existing
			return nil
		case err == nil:
			return fmt.Errorf("%w: remote ID %s belongs to %s %q", ErrRemoteIDInUse, c.RemoteID, existing.Kind, existing.Name)
		case !isNotFound(err):
			return err
		}

		prev, err := loadIndexed(tx, typeServer, c.Name)
		if err != nil && !isNotFound(err) {
			return err
		}
		if isNotFound(err) {
			prev = nil
		}
		c.ID = remoteKey(c.RemoteID)
		c.Kind = KindServer
		c.Source = SourceACM
		c.Serial = 0
		c.State = StateActive
		if c.IssuedAt.IsZero() {
			c.IssuedAt = l.now().UTC()
		}
		if err := l.recordIssued(tx, typeServer, c.Name, prev, &c); err != nil {
			return err
		}
		recorded = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

func (l *Ledger) recordIssued(tx storage.BatchTx, index, name string, prev, c *Certificate) error {
	if _, err := tx.Get(typeCert, c.ID); err == nil {
		return fmt.Errorf("%w: certificate %s already recorded", ErrCorrupt, c.ID)
	}
	if prev != nil && prev.ID != c.ID {
		prev.SupersededBy = c.ID
		if err := store(tx, typeCert, prev.ID, prev); err != nil {
			return err
		}
	}
	if err := store(tx, typeCert, c.ID, c); err != nil {
		return err
	}
	return store(tx, index, name, c.ID)
}

func indexType(kind Kind) string {
	if kind == KindServer {
		return typeServer
	}
	return typeClient
}

// ---------------------------------------------------------------------------
// Revocation
// ---------------------------------------------------------------------------

// Revoke marks the newest certificate of the client name revoked and
// appends a revocation entry. When op is non-nil its revoke step is
// recorded in the same transaction. Nothing changes on failure.
func (l *Ledger) Revoke(name string, op *Operation) (*Certificate, *RevocationEntry, error) {
	var (
		cert  *Certificate
		entry *RevocationEntry
	)
	err := l.batch(func(tx storage.BatchTx) error {
		ca, version, err := loadCA(tx)
		if err != nil {
			return err
		}
		c, err := loadIndexed(tx, typeClient, name)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%s: %w", name, ErrIdentityNotFound)
			}
			return err
		}
		if !c.Active() {
			return fmt.Errorf("%s (serial %d): %w", name, c.Serial, ErrAlreadyRevoked)
		}

		at := l.now().UTC()
		c.State = StateRevoked
		c.RevokedAt = &at
		ca.RevocationSeq++
		e := &RevocationEntry{Seq: ca.RevocationSeq, Serial: c.Serial, Name: name, RevokedAt: at}

		if err := store(tx, typeCert, c.ID, c); err != nil {
			return err
		}
		if err := store(tx, typeRevocation, serialKey(e.Seq), e); err != nil {
			return err
		}
		if err := saveCA(tx, ca, version); err != nil {
			return err
		}
		if op != nil {
			op.Serial = c.Serial
			if op.CreatedAt.IsZero() {
				op.CreatedAt = at
			}
			op.Complete(StepRevoke, at, fmt.Sprintf("serial %d, revocation %d", c.Serial, e.Seq))
			if err := store(tx, typeOperation, op.ID, op); err != nil {
				return err
			}
		}
		cert, entry = c, e
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return cert, entry, nil
}

// Snapshot returns the revocation set from one consistent view. A gap in
// the sequence or an entry pointing at a non-revoked certificate fails with
// ErrCorrupt.
func (l *Ledger) Snapshot() (*Snapshot, error) {
	var snap Snapshot
	err := l.view(func(tx storage.ReadTx) error {
		ca, _, err := loadCA(tx)
		if err != nil {
			return err
		}
		snap.CA = *ca
		ids, err := tx.List(typeRevocation)
		if err != nil {
			return err
		}
		if int64(len(ids)) != ca.RevocationSeq {
			return fmt.Errorf("%w: %d revocation entries, sequence at %d", ErrCorrupt, len(ids), ca.RevocationSeq)
		}
		snap.Entries = make([]RevocationEntry, 0, len(ids))
		for i, id := range ids {
			var e RevocationEntry
			if _, err := load(tx, typeRevocation, id, &e); err != nil {
				return err
			}
			if e.Seq != int64(i)+1 || id != serialKey(e.Seq) {
				return fmt.Errorf("%w: revocation sequence gap at entry %d", ErrCorrupt, i+1)
			}
			var c Certificate
			if _, err := load(tx, typeCert, serialKey(e.Serial), &c); err != nil {
				if isNotFound(err) {
					return fmt.Errorf("%w: revocation %d references unknown serial %d", ErrCorrupt, e.Seq, e.Serial)
				}
				return err
			}
			if c.State != StateRevoked {
				return fmt.Errorf("%w: revocation %d references serial %d which is %s", ErrCorrupt, e.Seq, e.Serial, c.State)
			}
			snap.Entries = append(snap.Entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Lookup returns the newest client certificate issued to name.
func (l *Ledger) Lookup(name string) (*Certificate, error) {
	return l.lookupIndexed(typeClient, name)
}

// Server returns the newest server certificate for domain.
func (l *Ledger) Server(domain string) (*Certificate, error) {
	return l.lookupIndexed(typeServer, domain)
}

func (l *Ledger) lookupIndexed(index, key string) (*Certificate, error) {
	var c *Certificate
	err := l.view(func(tx storage.ReadTx) error {
		var err error
		c, err = loadIndexed(tx, index, key)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrIdentityNotFound)
		}
		return nil, err
	}
	return c, nil
}

// Certificate returns the certificate with the given ledger ID.
func (l *Ledger) Certificate(id string) (*Certificate, error) {
	var c Certificate
	err := l.view(func(tx storage.ReadTx) error {
		_, err := load(tx, typeCert, id, &c)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrCertificateNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// Certificates returns every certificate in the ledger, locally signed
// certificates first in serial order.
func (l *Ledger) Certificates() ([]Certificate, error) {
	var out []Certificate
	err := l.view(func(tx storage.ReadTx) error {
		ids, err := tx.List(typeCert)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var c Certificate
			if _, err := load(tx, typeCert, id, &c); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// History returns every certificate of kind issued to name, oldest first.
func (l *Ledger) History(kind Kind, name string) ([]Certificate, error) {
	all, err := l.Certificates()
	if err != nil {
		return nil, err
	}
	var out []Certificate
	for _, c := range all {
		if c.Kind == kind && c.Name == name {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b Certificate) int { return a.IssuedAt.Compare(b.IssuedAt) })
	return out, nil
}

// FindRemote returns the certificate carrying remoteID.
func (l *Ledger) FindRemote(remoteID string) (*Certificate, error) {
	all, err := l.Certificates()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].RemoteID == remoteID {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("remote ID %s: %w", remoteID, ErrCertificateNotFound)
}

// SetRemoteID records (or clears, when remoteID is empty) the remote
// certificate authority service's ID for a certificate.
func (l *Ledger) SetRemoteID(id, remoteID string) error {
	return l.batch(func(tx storage.BatchTx) error {
		var c Certificate
		if _, err := load(tx, typeCert, id, &c); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%s: %w", id, ErrCertificateNotFound)
			}
			return err
		}
		c.RemoteID = remoteID
		return store(tx, typeCert, id, &c)
	})
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// SaveOperation writes op.
func (l *Ledger) SaveOperation(op *Operation) error {
	return l.batch(func(tx storage.BatchTx) error {
		return store(tx, typeOperation, op.ID, op)
	})
}

// Operation returns the operation with the given ID.
func (l *Ledger) Operation(id string) (*Operation, error) {
	var op Operation
	err := l.view(func(tx storage.ReadTx) error {
		_, err := load(tx, typeOperation, id, &op)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrOperationNotFound)
		}
		return nil, err
	}
	return &op, nil
}

// Operations returns every recorded operation, oldest first.
func (l *Ledger) Operations() ([]Operation, error) {
	var out []Operation
	err := l.view(func(tx storage.ReadTx) error {
		ids, err := tx.List(typeOperation)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var op Operation
			if _, err := load(tx, typeOperation, id, &op); err != nil {
				return err
			}
			out = append(out, op)
		}
		return nil
	})
	slices.SortStableFunc(out, func(a, b Operation) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, err
}

// ---------------------------------------------------------------------------
// Distribution
// ---------------------------------------------------------------------------

// PublishState returns the last confirmed publication. Before the first
// publication it returns a zero PublishState.
func (l *Ledger) PublishState() (*PublishState, error) {
	var ps PublishState
	err := l.view(func(tx storage.ReadTx) error {
		_, err := load(tx, typeDistribution, idCRL, &ps)
		return err
	})
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return &ps, nil
}

// ConfirmPublish records a verified publication. The recorded version only
// increases; an older version fails with ErrStalePublish.
func (l *Ledger) ConfirmPublish(ps PublishState) error {
	return l.batch(func(tx storage.BatchTx) error {
		var current PublishState
		if _, err := load(tx, typeDistribution, idCRL, &current); err != nil && !isNotFound(err) {
			return err
		}
		if ps.Version < current.Version {
			return fmt.Errorf("version %d < %d: %w", ps.Version, current.Version, ErrStalePublish)
		}
		return store(tx, typeDistribution, idCRL, &ps)
	})
}
