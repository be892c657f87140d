package ledger

import (
	"slices"
	"time"
)

// OperationKind names a revocation-affecting operation.
type OperationKind string

// Operation kinds.
const (
	OpBanUser    OperationKind = "ban-user"
	OpRevokeUser OperationKind = "revoke-user"
)

// Step is one stage of a revocation-affecting operation.
type Step string

// Steps, in execution order.
const (
	StepRevoke            Step = "revoke"
	StepPublish           Step = "publish"
	StepGatewayImport     Step = "gateway-import"
	StepTerminateSessions Step = "terminate-sessions"
)

// StepRecord marks a completed step.
type StepRecord struct {
	Step   Step      `json:"step"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// Operation is the persisted step log of a multi-system revocation. Steps
// that are recorded completed are never repeated on resume.
type Operation struct {
	ID         string        `json:"id"`
	Kind       OperationKind `json:"kind"`
	Name       string        `json:"name"`
	Serial     int64         `json:"serial"`
	EndpointID string        `json:"endpoint_id,omitempty"`
	Terminate  bool          `json:"terminate"`
	Steps      []StepRecord  `json:"steps"`
	FailedStep Step          `json:"failed_step,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	CRLVersion int64         `json:"crl_version,omitempty"`
	Done       bool          `json:"done"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Plan returns the steps o runs, in order.
func (o *Operation) Plan() []Step {
	steps := []Step{StepRevoke, StepPublish}
	if o.EndpointID != "" {
		steps = append(steps, StepGatewayImport)
		if o.Terminate {
			steps = append(steps, StepTerminateSessions)
		}
	}
	return steps
}

// Completed reports whether step has been recorded.
func (o *Operation) Completed(step Step) bool {
	return slices.ContainsFunc(o.Steps, func(r StepRecord) bool { return r.Step == step })
}

// Pending returns the planned steps that have not completed.
func (o *Operation) Pending() []Step {
	var out []Step
	for _, s := range o.Plan() {
		if !o.Completed(s) {
			out = append(out, s)
		}
	}
	return out
}

// Complete records step as done and clears any recorded failure.
func (o *Operation) Complete(step Step, at time.Time, detail string) {
	if !o.Completed(step) {
		o.Steps = append(o.Steps, StepRecord{Step: step, At: at, Detail: detail})
	}
	o.FailedStep = ""
	o.LastError = ""
	o.UpdatedAt = at
	o.Done = len(o.Pending()) == 0
}

// Fail records that step failed with err.
func (o *Operation) Fail(step Step, at time.Time, err error) {
	o.FailedStep = step
	o.LastError = err.Error()
	o.UpdatedAt = at
}
