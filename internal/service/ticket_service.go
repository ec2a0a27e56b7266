package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

var ticketPriorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}

// TicketService owns procurement tickets outside the decide path.
type TicketService struct {
	*ApprovalService
}

func NewTicketService(core *ApprovalService) *TicketService {
	return &TicketService{ApprovalService: core}
}

// CreateTicketInput describes a new procurement ticket.
type CreateTicketInput struct {
	Title               string
	Description         string
	Priority            string
	Department          string // defaults to the requester's department
	Category            string
	RequiresProcurement bool
	Attributes          map[string]any
}

// Create opens a ticket. Tickets needing procurement enter the chain at its
// first stage; others stay open with no approval records.
func (s *TicketService) Create(ctx context.Context, actorID string, in CreateTicketInput) (*repository.ApprovalRequest, error) {
	requester, err := s.requireProfile(ctx, actorID)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	priority := strings.ToLower(strings.TrimSpace(in.Priority))
	if priority == "" {
		priority = "medium"
	}
	if !ticketPriorities[priority] {
		return nil, errors.InvalidInput("priority", "must be low, medium, high or urgent")
	}
	dept := strings.TrimSpace(in.Department)
	if dept == "" {
		dept = requester.Department
	}
	if dept == "" {
		return nil, errors.InvalidInput("department", "department is required")
	}

	def, err := s.registry.Definition(workflow.Procurement)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "procurement workflow is not configured")
	}

	attrs := make(map[string]any, len(in.Attributes)+1)
	for k, v := range in.Attributes {
		attrs[k] = v
	}
	attrs["requires_procurement"] = in.RequiresProcurement

	req := &repository.ApprovalRequest{
		WorkflowType: workflow.Procurement,
		Status:       workflow.StatusOpen,
		RequesterID:  actorID,
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		Priority:     priority,
		Department:   dept,
		Category:     strings.TrimSpace(in.Category),
		Participants: map[string]string{},
		Attributes:   attrs,
	}

	var first string
	if in.RequiresProcurement {
		first = def.Stages[0].Name
		req.Status = def.ActiveStatus
		req.CurrentStage = &first
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}
		if first == "" {
			return nil
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
		Str("status", req.Status).
		Msg("Ticket created")

	status := req.Status
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:   req.ID,
		Action:      ActionCreated,
		PerformedBy: actorID,
		StatusAfter: &status,
		Metadata:    map[string]any{"workflow_type": string(workflow.Procurement)},
	})
	if first != "" {
		s.events.Publish(ctx, Event{Kind: EventRequestSubmitted, Request: req, Stage: first, ActorID: actorID, OccurredAt: req.CreatedAt})
	}
	return req, nil
}

// Assign sets the ticket's assignee. Only leads, admins and super admins may assign.
func (s *TicketService) Assign(ctx context.Context, ticketID, actorID, assigneeID string) (*repository.ApprovalRequest, error) {
	actor, err := s.requireProfile(ctx, actorID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case workflow.RoleLead, workflow.RoleAdmin, workflow.RoleSuperAdmin:
	default:
		return nil, errors.Forbidden("only leads and admins may assign tickets")
	}
	if assigneeID == "" {
		return nil, errors.InvalidInput("assignee_id", "assignee is required")
	}
	if _, err := s.directory.GetProfile(ctx, assigneeID); err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return nil, errors.InvalidInput("assignee_id", "assignee does not exist")
		}
		return nil, err
	}

	var (
		req      *repository.ApprovalRequest
		previous *string
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		req, err = tx.GetRequestForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if req.WorkflowType != workflow.Procurement {
			return errors.InvalidState("only tickets can be assigned")
		}
		def, err := s.registry.Definition(req.WorkflowType)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "procurement workflow is not configured")
		}
		if def.IsTerminalStatus(req.Status) {
			return errors.InvalidState(fmt.Sprintf("ticket is already %s", req.Status))
		}
		previous = req.AssigneeID
		req.AssigneeID = &assigneeID
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"assignee_id": assigneeID}
	if previous != nil {
		metadata["previous_assignee_id"] = *previous
	}
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:   req.ID,
		Action:      ActionAssigned,
		PerformedBy: actorID,
		Metadata:    metadata,
	})
	s.events.Publish(ctx, Event{Kind: EventRequestAssigned, Request: req, ActorID: actorID, OccurredAt: s.now()})
	return req, nil
}

// PivotInput optionally moves the ticket to another department.
type PivotInput struct {
	Department string
	Comments   string
}

// Pivot converts an open ticket into a procurement request that enters the
// chain at its first stage. Rejected tickets stay rejected.
func (s *TicketService) Pivot(ctx context.Context, ticketID, actorID string, in PivotInput) (*repository.ApprovalRequest, error) {
	actor, err := s.requireProfile(ctx, actorID)
	if err != nil {
		return nil, err
	}

	def, err := s.registry.Definition(workflow.Procurement)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "procurement workflow is not configured")
	}
	first := def.Stages[0].Name

	var (
		req          *repository.ApprovalRequest
		statusBefore string
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		req, err = tx.GetRequestForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if req.WorkflowType != workflow.Procurement {
			return errors.InvalidState("only tickets can be pivoted")
		}
		if req.RequesterID != actorID && actor.Role != workflow.RoleAdmin && actor.Role != workflow.RoleSuperAdmin {
			return errors.Forbidden("only the requester or an admin may pivot a ticket")
		}
		if req.Status != workflow.StatusOpen {
			return errors.InvalidState(fmt.Sprintf("ticket cannot be pivoted from status %s", req.Status))
		}

		statusBefore = req.Status
		if dept := strings.TrimSpace(in.Department); dept != "" {
			req.Department = dept
		}
		if req.Attributes == nil {
			req.Attributes = map[string]any{}
		}
		req.Attributes["requires_procurement"] = true
		req.Status = def.ActiveStatus
		req.CurrentStage = &first
		if err := tx.UpdateRequest(ctx, req); err != nil {
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
		Str("department", req.Department).
		Str("status_before", statusBefore).
		Msg("Ticket pivoted to procurement")

	statusAfter := req.Status
	metadata := map[string]any{"stage": first, "department": req.Department}
	if c := strings.TrimSpace(in.Comments); c != "" {
		metadata["comments"] = c
	}
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:    req.ID,
		Action:       ActionPivoted,
		PerformedBy:  actorID,
		StatusBefore: &statusBefore,
		StatusAfter:  &statusAfter,
		Metadata:     metadata,
	})
	s.events.Publish(ctx, Event{Kind: EventRequestSubmitted, Request: req, Stage: first, ActorID: actorID, OccurredAt: s.now()})
	return req, nil
}

// requireProfile resolves an authenticated caller from the store.
func (s *ApprovalService) requireProfile(ctx context.Context, actorID string) (*repository.Profile, error) {
	if actorID == "" {
		return nil, errors.Unauthenticated("no authenticated actor")
	}
	p, err := s.store.GetProfile(ctx, actorID)
	if errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, errors.Forbidden("actor has no profile")
	}
	return p, err
}

func sortRequestsByCreated(reqs []*repository.ApprovalRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}
