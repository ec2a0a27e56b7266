package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

// Leave request attribute keys.
const (
	attrStartDate = "start_date"
	attrEndDate   = "end_date"
	attrDays      = "days"
	attrReason    = "reason"
)

const (
	dateLayout = "2006-01-02"

	maxLeaveSpanDays = 366
)

// LeaveService owns leave requests and their supporting evidence.
type LeaveService struct {
	*ApprovalService
	policies workflow.LeavePolicies
}

func NewLeaveService(core *ApprovalService, policies workflow.LeavePolicies) *LeaveService {
	return &LeaveService{ApprovalService: core, policies: policies}
}

// CreateLeaveInput describes a new leave request.
type CreateLeaveInput struct {
	LeaveType    string
	StartDate    string // YYYY-MM-DD
	EndDate      string // YYYY-MM-DD
	Days         float64
	Reason       string
	RelieverID   string
	SupervisorID string
}

// Create submits a leave request, which starts awaiting the reliever.
func (s *LeaveService) Create(ctx context.Context, actorID string, in CreateLeaveInput) (*repository.ApprovalRequest, error) {
	requester, err := s.requireProfile(ctx, actorID)
	if err != nil {
		return nil, err
	}

	leaveType := strings.ToLower(strings.TrimSpace(in.LeaveType))
	if _, ok := s.policies[leaveType]; !ok {
		return nil, errors.InvalidInput("leave_type", fmt.Sprintf("unknown leave type %q", in.LeaveType))
	}

	start, err := time.Parse(dateLayout, in.StartDate)
	if err != nil {
		return nil, errors.InvalidInput("start_date", "must be a date in YYYY-MM-DD form")
	}
	end, err := time.Parse(dateLayout, in.EndDate)
	if err != nil {
		return nil, errors.InvalidInput("end_date", "must be a date in YYYY-MM-DD form")
	}
	if end.Before(start) {
		return nil, errors.InvalidInput("end_date", "must not be before start_date")
	}
	if end.After(start.AddDate(0, 0, maxLeaveSpanDays)) {
		return nil, errors.InvalidInput("end_date", fmt.Sprintf("leave may span at most %d days", maxLeaveSpanDays))
	}

	days := in.Days
	if days < 0 {
		return nil, errors.InvalidInput("days", "must be positive")
	}
	if days == 0 {
		days = float64(workingDays(start, end))
	}
	if days == 0 {
		return nil, errors.InvalidInput("end_date", "leave period contains no working days")
	}

	participants := []struct{ field, id string }{
		{"reliever_id", in.RelieverID},
		{"supervisor_id", in.SupervisorID},
	}
	for _, p := range participants {
		field, id := p.field, p.id
		if id == "" {
			return nil, errors.InvalidInput(field, "is required")
		}
		if id == actorID {
			return nil, errors.InvalidInput(field, "must be someone other than the requester")
		}
		if _, err := s.directory.GetProfile(ctx, id); err != nil {
			if errors.HasCode(err, errors.ErrCodeNotFound) {
				return nil, errors.InvalidInput(field, "profile does not exist")
			}
			return nil, err
		}
	}

	def, err := s.registry.Definition(workflow.Leave)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "leave workflow is not configured")
	}
	first := def.Stages[0].Name

	title := fmt.Sprintf("%s leave %s to %s", capitalize(leaveType), in.StartDate, in.EndDate)
	req := &repository.ApprovalRequest{
		WorkflowType: workflow.Leave,
		Status:       def.ActiveStatus,
		CurrentStage: &first,
		RequesterID:  actorID,
		Title:        title,
		Description:  strings.TrimSpace(in.Reason),
		Priority:     "medium",
		Department:   requester.Department,
		Category:     leaveType,
		Participants: map[string]string{
			workflow.ParticipantReliever:   in.RelieverID,
			workflow.ParticipantSupervisor: in.SupervisorID,
		},
		Attributes: map[string]any{
			attrStartDate: in.StartDate,
			attrEndDate:   in.EndDate,
			attrDays:      days,
			attrReason:    strings.TrimSpace(in.Reason),
		},
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		bal, err := tx.GetLeaveBalance(ctx, actorID, leaveType)
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return errors.Validation("no leave balance for this leave type", map[string]any{"leave_type": leaveType})
		}
		if err != nil {
			return err
		}
		if bal.RemainingDays < days {
			return errors.Validation("insufficient leave balance", map[string]any{
				"leave_type":     leaveType,
				"requested_days": days,
				"remaining_days": bal.RemainingDays,
			})
		}

		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}
		return tx.InsertRecord(ctx, &repository.ApprovalRecord{
			RequestID: req.ID,
			Stage:     first,
			Status:    repository.RecordPending,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("requester_id", actorID).
		Str("leave_type", leaveType).
		Float64("days", days).
		Msg("Leave request submitted")

	status := req.Status
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:   req.ID,
		Action:      ActionCreated,
		PerformedBy: actorID,
		StatusAfter: &status,
		Metadata:    map[string]any{"workflow_type": string(workflow.Leave), "leave_type": leaveType, "days": days},
	})
	s.events.Publish(ctx, Event{Kind: EventRequestSubmitted, Request: req, Stage: first, ActorID: actorID, OccurredAt: req.CreatedAt})
	return req, nil
}

// RegisterEvidenceInput attaches one document to a leave request.
type RegisterEvidenceInput struct {
	DocumentType string
	FileURL      string
}

// RegisterEvidence records an uploaded document. Re-registering a type
// replaces the file and clears its verification.
func (s *LeaveService) RegisterEvidence(ctx context.Context, requestID, actorID string, in RegisterEvidenceInput) (*repository.Evidence, error) {
	actor, err := s.requireProfile(ctx, actorID)
	if err != nil {
		return nil, err
	}
	docType := strings.ToLower(strings.TrimSpace(in.DocumentType))
	if docType == "" {
		return nil, errors.InvalidInput("document_type", "is required")
	}
	if strings.TrimSpace(in.FileURL) == "" {
		return nil, errors.InvalidInput("file_url", "is required")
	}

	var ev *repository.Evidence
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		req, err := s.lockLeave(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.RequesterID != actorID && actor.Role != workflow.RoleAdmin && actor.Role != workflow.RoleSuperAdmin {
			return errors.Forbidden("only the requester or HR may attach evidence")
		}
		ev = &repository.Evidence{
			RequestID:    req.ID,
			DocumentType: docType,
			FileURL:      strings.TrimSpace(in.FileURL),
			UploadedBy:   actorID,
		}
		return tx.UpsertEvidence(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:   requestID,
		Action:      ActionEvidenceRegistered,
		PerformedBy: actorID,
		Metadata:    map[string]any{"document_type": docType},
	})
	return ev, nil
}

// VerifyEvidence marks a document as checked. Only HR may verify.
func (s *LeaveService) VerifyEvidence(ctx context.Context, requestID, documentType, actorID string) (*repository.Evidence, error) {
	actor, err := s.requireProfile(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != workflow.RoleAdmin && actor.Role != workflow.RoleSuperAdmin {
		return nil, errors.Forbidden("only HR may verify evidence")
	}
	docType := strings.ToLower(strings.TrimSpace(documentType))

	var ev *repository.Evidence
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := s.lockLeave(ctx, tx, requestID); err != nil {
			return err
		}
		ev, err = tx.VerifyEvidence(ctx, requestID, docType, actorID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:   requestID,
		Action:      ActionEvidenceVerified,
		PerformedBy: actorID,
		Metadata:    map[string]any{"document_type": docType},
	})
	return ev, nil
}

// lockLeave loads a leave request that can still take evidence.
func (s *LeaveService) lockLeave(ctx context.Context, tx repository.Tx, requestID string) (*repository.ApprovalRequest, error) {
	req, err := tx.GetRequestForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.WorkflowType != workflow.Leave {
		return nil, errors.InvalidState("evidence applies to leave requests only")
	}
	def, err := s.registry.Definition(workflow.Leave)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "leave workflow is not configured")
	}
	if def.IsTerminalStatus(req.Status) {
		return nil, errors.InvalidState(fmt.Sprintf("leave request is already %s", req.Status))
	}
	return req, nil
}

// workingDays counts Monday to Friday between start and end inclusive.
func workingDays(start, end time.Time) int {
	n := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}
