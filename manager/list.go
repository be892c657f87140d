package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jmcleod/ironvpn/internal/retry"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/remoteca"
)

// DiscrepancyKind classifies a disagreement between the ledger, the remote
// certificate service and the local files.
type DiscrepancyKind string

// Discrepancy kinds.
const (
	// MissingRemote: the ledger expects a remote certificate that is absent.
	MissingRemote DiscrepancyKind = "missing-remote"
	// UntrackedRemote: a remote certificate no ledger record references.
	UntrackedRemote DiscrepancyKind = "untracked-remote"
	// RevokedButPresent: a revoked certificate is still held remotely.
	RevokedButPresent DiscrepancyKind = "revoked-but-present"
	// RemoteStatus: the remote certificate is not issued.
	RemoteStatus DiscrepancyKind = "remote-status"
	// MissingLocalFiles: an active certificate's key or certificate file is gone.
	MissingLocalFiles DiscrepancyKind = "missing-local-files"
	// SerialMismatch: the remote copy of a locally signed certificate carries
	// a different serial than the ledger.
	SerialMismatch DiscrepancyKind = "serial-mismatch"
)

// Discrepancy is one finding of List.
type Discrepancy struct {
	Kind     DiscrepancyKind
	Name     string
	Serial   int64
	RemoteID string
	Detail   string
}

// Entry is a ledger certificate with its remote and local state.
type Entry struct {
	Certificate ledger.Certificate
	// Remote is nil when the certificate has no remote counterpart or the
	// remote service is not configured.
	Remote  *remoteca.Certificate
	HasKey  bool
	HasCert bool
}

// Report is the reconciled listing.
type Report struct {
	CA            *ledger.CAState
	Entries       []Entry
	Untracked     []remoteca.Certificate
	Discrepancies []Discrepancy
	// RemoteChecked is false when the remote service is not configured.
	RemoteChecked bool
}

// List reconciles the ledger with the remote certificate service and the
// local files. An unreachable remote service is an error; List never
// silently falls back to a local-only listing.
func (m *Manager) List(ctx context.Context) (*Report, error) {
	ca, err := m.ledger.CA()
	if err != nil {
		return nil, err
	}
	certs, err := m.ledger.Certificates()
	if err != nil {
		return nil, err
	}
	r := &Report{CA: ca}

	var remote map[string]remoteca.Certificate
	if m.remote != nil {
		var list []remoteca.Certificate
		err := retry.Do(ctx, m.policy, "listing remote certificates", func(ctx context.Context) error {
			var err error
			list, err = m.remote.ListCertificates(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("reconciling with the remote certificate service: %w", err)
		}
		r.RemoteChecked = true
		remote = make(map[string]remoteca.Certificate, len(list))
		for _, c := range list {
			remote[c.ID] = c
		}
	}

	tracked := map[string]bool{}
	if ca.RemoteID != "" {
		tracked[ca.RemoteID] = true
	}
	for _, c := range certs {
		if c.RemoteID != "" {
			tracked[c.RemoteID] = true
		}
		e, err := m.reconcile(ctx, c, remote, r)
		if err != nil {
			return nil, err
		}
		r.Entries = append(r.Entries, e)
	}

	if r.RemoteChecked {
		if ca.RemoteID == "" {
			r.add(Discrepancy{Kind: MissingRemote, Name: "CA", Serial: ca.Serial, Detail: "CA certificate not imported"})
		} else if rc, ok := remote[ca.RemoteID]; !ok {
			r.add(Discrepancy{Kind: MissingRemote, Name: "CA", Serial: ca.Serial, RemoteID: ca.RemoteID, Detail: "CA certificate missing remotely"})
		} else if rc.Status != remoteca.StatusIssued {
			r.add(Discrepancy{Kind: RemoteStatus, Name: "CA", Serial: ca.Serial, RemoteID: ca.RemoteID, Detail: "status " + rc.Status})
		} else if err := m.compareSerial(ctx, "CA", ca.Serial, ca.RemoteID, r); err != nil {
			return nil, err
		}
		for id, rc := range remote {
			if !tracked[id] {
				r.Untracked = append(r.Untracked, rc)
			}
		}
		sortRemote(r.Untracked)
		for _, rc := range r.Untracked {
			r.add(Discrepancy{Kind: UntrackedRemote, Name: rc.Domain, RemoteID: rc.ID, Detail: "no ledger record references it"})
		}
	}
	return r, nil
}

func (m *Manager) reconcile(ctx context.Context, c ledger.Certificate, remote map[string]remoteca.Certificate, r *Report) (Entry, error) {
	e := Entry{Certificate: c}
	current := c.SupersededBy == ""

	if c.Source == ledger.SourceLocal {
		if c.Kind == ledger.KindClient {
			e.HasKey, e.HasCert = m.authority.Files().ClientFiles(c.Name)
		} else {
			e.HasKey, e.HasCert = m.authority.Files().ServerFiles(c.Name)
		}
		// Only the newest certificate of a name owns the files.
		if current && c.Active() && (!e.HasKey || !e.HasCert) {
			r.add(Discrepancy{Kind: MissingLocalFiles, Name: c.Name, Serial: c.Serial, Detail: missingFiles(e.HasKey, e.HasCert)})
		}
	}
	if !r.RemoteChecked {
		return e, nil
	}

	if c.RemoteID == "" {
		if current && c.Active() && m.expectsRemote(c) {
			r.add(Discrepancy{Kind: MissingRemote, Name: c.Name, Serial: c.Serial, Detail: "never imported"})
		}
		return e, nil
	}
	rc, ok := remote[c.RemoteID]
	if !ok {
		if c.Active() {
			r.add(Discrepancy{Kind: MissingRemote, Name: c.Name, Serial: c.Serial, RemoteID: c.RemoteID, Detail: "missing remotely"})
		}
		return e, nil
	}
	e.Remote = &rc
	switch {
	case !c.Active():
		r.add(Discrepancy{Kind: RevokedButPresent, Name: c.Name, Serial: c.Serial, RemoteID: c.RemoteID, Detail: "revoked certificate still held remotely"})
	case rc.Status != remoteca.StatusIssued:
		r.add(Discrepancy{Kind: RemoteStatus, Name: c.Name, Serial: c.Serial, RemoteID: c.RemoteID, Detail: "status " + rc.Status})
	case c.Source == ledger.SourceLocal:
		if err := m.compareSerial(ctx, c.Name, c.Serial, c.RemoteID, r); err != nil {
			return e, err
		}
	}
	return e, nil
}

// compareSerial describes the remote copy of a locally signed certificate
// and reports a serial that differs from the ledger. The listing does not
// carry serials.
func (m *Manager) compareSerial(ctx context.Context, name string, serial int64, remoteID string, r *Report) error {
	var rc *remoteca.Certificate
	err := retry.Do(ctx, m.policy, "describing remote certificate "+remoteID, func(ctx context.Context) error {
		var err error
		rc, err = m.remote.DescribeCertificate(ctx, remoteID)
		return err
	})
	if errors.Is(err, remoteca.ErrCertificateNotFound) {
		r.add(Discrepancy{Kind: MissingRemote, Name: name, Serial: serial, RemoteID: remoteID, Detail: "deleted while listing"})
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconciling with the remote certificate service: %w", err)
	}
	if want := strconv.FormatInt(serial, 10); rc.Serial != want {
		r.add(Discrepancy{Kind: SerialMismatch, Name: name, Serial: serial, RemoteID: remoteID,
			Detail: fmt.Sprintf("remote serial %s", rc.Serial)})
	}
	return nil
}

func (m *Manager) expectsRemote(c ledger.Certificate) bool {
	if c.Kind == ledger.KindServer {
		return true
	}
	return m.settings.ImportClients
}

func (r *Report) add(d Discrepancy) {
	r.Discrepancies = append(r.Discrepancies, d)
}

func missingFiles(hasKey, hasCert bool) string {
	switch {
	case !hasKey && !hasCert:
		return "key and certificate missing"
	case !hasKey:
		return "key missing"
	}
	return "certificate missing"
}

func sortRemote(certs []remoteca.Certificate) {
	slices.SortFunc(certs, func(a, b remoteca.Certificate) int { return strings.Compare(a.ID, b.ID) })
}
