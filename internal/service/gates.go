package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

// GateInput is what the approver supplied on the final decision.
type GateInput struct {
	ActorID  string
	Override bool
	Comments string
}

// GateResult is recorded in the audit trail.
type GateResult struct {
	Overridden bool
	Missing    []string
}

// TerminalGate blocks the last stage from resolving to approval until its
// precondition holds. It runs inside the decide transaction.
type TerminalGate interface {
	Check(ctx context.Context, tx repository.Tx, req *repository.ApprovalRequest, in GateInput) (*GateResult, error)
}

// TerminalHook runs inside the decide transaction once a request reaches
// its success status. An error rolls the whole decision back.
type TerminalHook interface {
	OnApproved(ctx context.Context, tx repository.Tx, req *repository.ApprovalRequest) error
}

// ── evidence gate ────────────────────────────────────────────────────────────

// EvidenceGate requires every document listed by the leave policy to be
// verified, unless the policy allows an override and the approver explains it.
type EvidenceGate struct {
	policies workflow.LeavePolicies
}

func NewEvidenceGate(policies workflow.LeavePolicies) *EvidenceGate {
	return &EvidenceGate{policies: policies}
}

func (g *EvidenceGate) Check(ctx context.Context, tx repository.Tx, req *repository.ApprovalRequest, in GateInput) (*GateResult, error) {
	policy := g.policies.For(req.Category)
	if len(policy.RequiredDocuments) == 0 {
		return &GateResult{}, nil
	}

	docs, err := tx.ListEvidence(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	verified := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d.Verified {
			verified[d.DocumentType] = true
		}
	}

	var missing []string
	for _, dt := range policy.RequiredDocuments {
		if !verified[dt] {
			missing = append(missing, dt)
		}
	}
	if len(missing) == 0 {
		return &GateResult{}, nil
	}

	details := map[string]any{"missing_documents": missing, "leave_type": req.Category}
	if !in.Override {
		return nil, errors.Validation("required evidence has not been verified", details)
	}
	if !policy.AllowOverride {
		return nil, errors.Validation(fmt.Sprintf("evidence override is not allowed for %s leave", req.Category), details)
	}
	if in.Comments == "" {
		return nil, errors.Validation("comments are required to override missing evidence", details)
	}
	return &GateResult{Overridden: true, Missing: missing}, nil
}

// ── leave balance hook ───────────────────────────────────────────────────────

// LeaveBalanceHook deducts the approved days from the requester's balance.
type LeaveBalanceHook struct{}

func (LeaveBalanceHook) OnApproved(ctx context.Context, tx repository.Tx, req *repository.ApprovalRequest) error {
	days, ok := req.AttrFloat(attrDays)
	if !ok || days <= 0 {
		return errors.Validation("leave request has no day count", map[string]any{"request_id": req.ID})
	}
	return tx.DeductLeaveBalance(ctx, req.RequesterID, req.Category, days)
}
