package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmcleod/ironvpn/internal/errdefs"
	"github.com/jmcleod/ironvpn/internal/uuid"
	"github.com/jmcleod/ironvpn/ledger"
	"github.com/jmcleod/ironvpn/revocation"
)

// BanUser revokes name's certificate, publishes the CRL, imports it into
// endpointID and terminates name's live sessions there. Revocation and the
// operation record commit together; each later step is recorded as it
// completes. A failure returns the operation and a *StepError; Resume
// continues from the first unconfirmed step.
//
// Banning an identity that is already revoked returns
// ledger.ErrAlreadyRevoked without publishing or notifying, along with any
// unfinished operation for it.
func (m *Manager) BanUser(ctx context.Context, name, endpointID string) (*ledger.Operation, error) {
	if endpointID == "" {
		return nil, ErrEndpointRequired
	}
	return m.revoke(ctx, ledger.OpBanUser, name, endpointID, true)
}

// RevokeUser is BanUser without session termination. Without an endpoint
// the gateway import is skipped.
func (m *Manager) RevokeUser(ctx context.Context, name, endpointID string) (*ledger.Operation, error) {
	return m.revoke(ctx, ledger.OpRevokeUser, name, endpointID, false)
}

func (m *Manager) revoke(ctx context.Context, kind ledger.OperationKind, name, endpointID string, terminate bool) (*ledger.Operation, error) {
	if endpointID != "" && m.gateway == nil {
		return nil, ErrGatewayDisabled
	}
	op := &ledger.Operation{
		ID:         uuid.New(),
		Kind:       kind,
		Name:       name,
		EndpointID: endpointID,
		Terminate:  terminate,
		CreatedAt:  m.now().UTC(),
	}
	if _, err := m.registry.Revoke(name, op); err != nil {
		if errors.Is(err, ledger.ErrAlreadyRevoked) {
			pending, perr := m.unfinished(name)
			if perr != nil {
				return nil, errors.Join(err, perr)
			}
			if pending != nil {
				return pending, fmt.Errorf("%w; operation %s stopped at %s, resume it", err, pending.ID, pending.FailedStep)
			}
		}
		return nil, err
	}
	m.logger.Info("manager: operation started", "operation", op.ID, "kind", kind, "name", name, "serial", op.Serial)
	return op, m.run(ctx, op)
}

// Resume continues the operation id from its first unconfirmed step. A
// finished operation is returned unchanged.
func (m *Manager) Resume(ctx context.Context, id string) (*ledger.Operation, error) {
	op, err := m.ledger.Operation(id)
	if err != nil {
		return nil, err
	}
	if op.Done {
		m.logger.Info("manager: operation already complete", "operation", op.ID)
		return op, nil
	}
	if op.EndpointID != "" && m.gateway == nil {
		return op, ErrGatewayDisabled
	}
	m.logger.Info("manager: resuming operation", "operation", op.ID, "pending", op.Pending())
	return op, m.run(ctx, op)
}

func (m *Manager) unfinished(name string) (*ledger.Operation, error) {
	ops, err := m.ledger.Operations()
	if err != nil {
		return nil, err
	}
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Name == name && !ops[i].Done {
			return &ops[i], nil
		}
	}
	return nil, nil
}

func (m *Manager) run(ctx context.Context, op *ledger.Operation) error {
	for _, step := range op.Pending() {
		detail, err := m.runStep(ctx, op, step)
		if err != nil {
			op.Fail(step, m.now().UTC(), err)
			if serr := m.ledger.SaveOperation(op); serr != nil {
				m.logger.Error("manager: recording step failure", "operation", op.ID, "step", step, "error", serr)
			}
			m.logger.Warn("manager: operation stopped", "operation", op.ID, "step", step, "error", err)
			return &StepError{Operation: op.ID, Step: step, Err: err}
		}
		op.Complete(step, m.now().UTC(), detail)
		if err := m.ledger.SaveOperation(op); err != nil {
			return &StepError{Operation: op.ID, Step: step, Err: fmt.Errorf("recording step: %w", err)}
		}
		m.logger.Info("manager: step complete", "operation", op.ID, "step", step, "detail", detail)
	}
	m.logger.Info("manager: operation complete", "operation", op.ID, "kind", op.Kind, "name", op.Name)
	return nil
}

func (m *Manager) runStep(ctx context.Context, op *ledger.Operation, step ledger.Step) (string, error) {
	switch step {
	case ledger.StepPublish:
		doc, ps, err := m.publish(ctx)
		if err != nil {
			return "", err
		}
		if !doc.Contains(op.Serial) {
			return "", fmt.Errorf("%w: CRL %d lacks serial %d", ledger.ErrCorrupt, doc.Number, op.Serial)
		}
		op.CRLVersion = ps.Version
		return fmt.Sprintf("version %d at %s", ps.Version, ps.Location), nil

	case ledger.StepGatewayImport:
		doc, err := m.crlWith(op.Serial)
		if err != nil {
			return "", err
		}
		if err := m.gateway.Import(ctx, op.EndpointID, doc.PEM); err != nil {
			return "", err
		}
		return fmt.Sprintf("version %d into %s", doc.Number, op.EndpointID), nil

	case ledger.StepTerminateSessions:
		n, err := m.gateway.TerminateSessions(ctx, op.EndpointID, op.Name)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d session(s)", n), nil
	}
	// The revoke step commits with the operation record.
	return "", fmt.Errorf("%w: operation %s has no %s step", ledger.ErrCorrupt, op.ID, step)
}

// crlWith returns the local CRL rendering, which must list serial.
func (m *Manager) crlWith(serial int64) (*revocation.Document, error) {
	doc, err := m.CurrentCRL()
	if err != nil {
		return nil, err
	}
	if !doc.Contains(serial) {
		return nil, fmt.Errorf("%w: local CRL %d lacks serial %d; run crl publish", errdefs.ErrVerificationFailed, doc.Number, serial)
	}
	return doc, nil
}
