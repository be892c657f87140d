package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmcleod/ironvpn/gateway"
	"github.com/jmcleod/ironvpn/revocation"
)

// SyncReport describes what SyncRevocations found and changed. Versions
// are CRL numbers; zero means absent or unreadable.
type SyncReport struct {
	LedgerVersion  int64
	StoreVersion   int64
	GatewayVersion int64
	Republished    bool
	Reimported     bool
	Notes          []string
}

// SyncRevocations compares the ledger's revocation set with the published
// CRL and the CRL imported into endpointID, republishing or reimporting
// whichever is behind. An empty endpointID checks only the store.
func (m *Manager) SyncRevocations(ctx context.Context, endpointID string) (*SyncReport, error) {
	if endpointID != "" && m.gateway == nil {
		return nil, ErrGatewayDisabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.ledger.Snapshot()
	if err != nil {
		return nil, err
	}
	caCert, _, err := m.authority.CACertificate()
	if err != nil {
		return nil, err
	}
	report := &SyncReport{LedgerVersion: snap.Version()}
	now := m.now()

	var current *revocation.Document
	published, err := m.publisher.Fetch(ctx)
	switch {
	case err == nil:
		doc, perr := revocation.ParseDocument(published, caCert)
		if perr != nil {
			report.note("published CRL unreadable: %v", perr)
		} else {
			report.StoreVersion = doc.Number
			if doc.Number >= report.LedgerVersion && !doc.Stale(now) {
				current = doc
			}
		}
	case isNotFound(err):
		report.note("no CRL published at %s", m.publisher.Location())
	default:
		return nil, err
	}

	if current == nil {
		doc, ps, err := m.publishLocked(ctx)
		if err != nil {
			return report, fmt.Errorf("republishing CRL: %w", err)
		}
		current = doc
		report.Republished = true
		report.note("published version %d (store had %d)", ps.Version, report.StoreVersion)
	}

	if endpointID == "" {
		return report, nil
	}
	imported, err := m.gateway.Export(ctx, endpointID)
	switch {
	case err == nil:
		doc, perr := revocation.ParseDocument(imported, caCert)
		if perr != nil {
			report.note("gateway CRL unreadable: %v", perr)
		} else {
			report.GatewayVersion = doc.Number
			if doc.Number >= current.Number && !doc.Stale(now) {
				return report, nil
			}
		}
	case errors.Is(err, gateway.ErrNoRevocationList):
		report.note("no CRL imported into %s", endpointID)
	default:
		return report, err
	}

	if err := m.gateway.Import(ctx, endpointID, current.PEM); err != nil {
		return report, fmt.Errorf("reimporting CRL: %w", err)
	}
	report.Reimported = true
	report.note("imported version %d into %s (gateway had %d)", current.Number, endpointID, report.GatewayVersion)
	return report, nil
}

func (r *SyncReport) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}
