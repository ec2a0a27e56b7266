package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
	"github.com/pesio-ai/be-erp-approvals/pkg/logger"
)

// Audit actions.
const (
	ActionCreated            = "created"
	ActionApproved           = "approved"
	ActionRejected           = "rejected"
	ActionAssigned           = "assigned"
	ActionPivoted            = "pivoted"
	ActionEvidenceRegistered = "evidence_registered"
	ActionEvidenceVerified   = "evidence_verified"
)

// Extensions registers the named gates and hooks workflow definitions refer to.
type Extensions struct {
	Gates map[string]TerminalGate
	Hooks map[string]TerminalHook
}

// ApprovalService is the request state machine shared by every workflow type.
type ApprovalService struct {
	store repository.Store

	// directory may be cached; it serves recipient lookups and existence checks.
	directory repository.ProfileReader
	registry  *workflow.Registry
	resolver  *workflow.Resolver
	gates     map[string]TerminalGate
	hooks     map[string]TerminalHook
	events    EventSink
	log       *logger.Logger
	now       func() time.Time
}

// NewApprovalService fails when a definition names a gate or hook that is not
// registered in ext.
func NewApprovalService(
	store repository.Store,
	directory repository.ProfileReader,
	registry *workflow.Registry,
	resolver *workflow.Resolver,
	ext Extensions,
	events EventSink,
	log *logger.Logger,
) (*ApprovalService, error) {
	if directory == nil {
		directory = store
	}
	if events == nil {
		events = nopSink{}
	}

	for _, t := range registry.Types() {
		def, _ := registry.Definition(t)
		if def.TerminalGate != "" {
			if _, ok := ext.Gates[def.TerminalGate]; !ok {
				return nil, fmt.Errorf("workflow %s: terminal gate %q is not registered", t, def.TerminalGate)
			}
		}
		for _, h := range def.OnApproved {
			if _, ok := ext.Hooks[h]; !ok {
				return nil, fmt.Errorf("workflow %s: hook %q is not registered", t, h)
			}
		}
	}

	return &ApprovalService{
		store:     store,
		directory: directory,
		registry:  registry,
		resolver:  resolver,
		gates:     ext.Gates,
		hooks:     ext.Hooks,
		events:    events,
		log:       log,
		now:       time.Now,
	}, nil
}

// SetClock overrides the service clock.
func (s *ApprovalService) SetClock(now func() time.Time) { s.now = now }

// ── Decide ────────────────────────────────────────────────────────────────────

// DecideInput is the approver's decision on the outstanding stage.
type DecideInput struct {
	Decision         string
	Comments         string
	OverrideEvidence bool
	// Stage, when set, must equal the outstanding stage. Clients send the
	// stage they were shown so a decision never lands on a later stage.
	Stage string
}

// DecideResult reports the decided stage and the request's new status.
type DecideResult struct {
	RequestID string
	Stage     string
	Decision  string
	Status    string
}

// Decide applies one approval decision atomically and notifies after commit.
func (s *ApprovalService) Decide(ctx context.Context, requestID, actorID string, in DecideInput) (*DecideResult, error) {
	if actorID == "" {
		return nil, errors.Unauthenticated("no authenticated actor")
	}
	actor, err := s.lookupActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	comments := strings.TrimSpace(in.Comments)
	var (
		result     *DecideResult
		evt        Event
		audit      *repository.AuditEntry
		gateResult *GateResult
	)

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}

		def, err := s.registry.Definition(req.WorkflowType)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "request has an unknown workflow type")
		}

		if req.Status != def.ActiveStatus || req.CurrentStage == nil {
			return errors.InvalidState(fmt.Sprintf("request is not awaiting approval (status: %s)", req.Status))
		}

		pending, err := tx.GetPendingRecord(ctx, req.ID)
		if err != nil {
			return err
		}
		if pending == nil || pending.Stage != req.Stage() {
			return errors.InvalidState("no pending approval")
		}
		if in.Stage != "" && in.Stage != pending.Stage {
			return errors.InvalidState(fmt.Sprintf("stage %s is no longer awaiting a decision", in.Stage))
		}

		if actor == nil || !s.resolver.CanDecide(*actor, req.Subject(), pending.Stage) {
			return errors.Forbidden(fmt.Sprintf("actor may not decide the %s stage", pending.Stage))
		}

		switch in.Decision {
		case workflow.DecisionApproved, workflow.DecisionRejected:
		default:
			return errors.InvalidInput("decision", "must be approved or rejected")
		}
		if def.CommentsRequired(in.Decision) && comments == "" {
			return errors.InvalidInput("comments", fmt.Sprintf("comments are required when the decision is %s", in.Decision))
		}

		var (
			next     string
			terminal bool
		)
		if in.Decision == workflow.DecisionApproved {
			next, terminal, err = s.registry.NextStage(req.WorkflowType, pending.Stage)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "stage sequencing failed")
			}
			if terminal && def.TerminalGate != "" {
				gateResult, err = s.gates[def.TerminalGate].Check(ctx, tx, req, GateInput{
					ActorID:  actorID,
					Override: in.OverrideEvidence,
					Comments: comments,
				})
				if err != nil {
					return err
				}
			}
		}

		now := s.now()
		if err := tx.DecideRecord(ctx, pending.ID, in.Decision, actorID, optionalString(comments), now); err != nil {
			return err
		}

		statusBefore := req.Status
		decided := pending.Stage
		evt = Event{Stage: decided, ActorID: actorID, Comments: comments, OccurredAt: now}

		switch {
		case in.Decision == workflow.DecisionRejected:
			req.Status = def.RejectedStatus
			req.RejectedStage = &decided
			req.CurrentStage = nil
			req.CompletedAt = &now
			evt.Kind = EventRequestRejected

		case terminal:
			req.Status = def.SuccessStatus
			req.CurrentStage = nil
			req.CompletedAt = &now
			evt.Kind = EventRequestApproved

		default:
			if err := tx.InsertRecord(ctx, &repository.ApprovalRecord{
				RequestID: req.ID,
				Stage:     next,
				Status:    repository.RecordPending,
			}); err != nil {
				return err
			}
			req.CurrentStage = &next
			evt.Kind = EventStageAdvanced
			evt.Stage = next
		}

		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}

		if evt.Kind == EventRequestApproved {
			for _, name := range def.OnApproved {
				if err := s.hooks[name].OnApproved(ctx, tx, req); err != nil {
					return err
				}
			}
		}

		metadata := map[string]any{"stage": decided}
		if next != "" {
			metadata["next_stage"] = next
		}
		if gateResult != nil && gateResult.Overridden {
			metadata["evidence_override"] = true
			metadata["missing_documents"] = gateResult.Missing
		}
		recordID := pending.ID
		statusAfter := req.Status
		audit = &repository.AuditEntry{
			RequestID:    req.ID,
			RecordID:     &recordID,
			Action:       in.Decision,
			PerformedBy:  actorID,
			StatusBefore: &statusBefore,
			StatusAfter:  &statusAfter,
			Metadata:     metadata,
		}

		evt.Request = req
		result = &DecideResult{
			RequestID: req.ID,
			Stage:     decided,
			Decision:  in.Decision,
			Status:    req.Status,
		}
		return nil
	})
	if err != nil {
		s.logDecideFailure(requestID, actorID, in.Decision, err)
		return nil, err
	}

	s.log.Info().
		Str("request_id", result.RequestID).
		Str("stage", result.Stage).
		Str("decision", result.Decision).
		Str("status", result.Status).
		Str("actor_id", actorID).
		Msg("Approval decision recorded")

	s.appendAudit(ctx, audit)
	s.events.Publish(ctx, evt)
	return result, nil
}

func (s *ApprovalService) logDecideFailure(requestID, actorID, decision string, err error) {
	evt := s.log.Info()
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		evt = s.log.Error()
	}
	evt.Err(err).
		Str("request_id", requestID).
		Str("actor_id", actorID).
		Str("decision", decision).
		Msg("Approval decision refused")
}

// ── Queries ───────────────────────────────────────────────────────────────────

// RequestDetail is a request with its records and evidence.
type RequestDetail struct {
	Request  *repository.ApprovalRequest
	Records  []*repository.ApprovalRecord
	Evidence []*repository.Evidence
}

// GetRequest returns a request with its approval records.
func (s *ApprovalService) GetRequest(ctx context.Context, requestID string) (*RequestDetail, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListRecords(ctx, requestID)
	if err != nil {
		return nil, err
	}
	evidence, err := s.store.ListEvidence(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &RequestDetail{Request: req, Records: records, Evidence: evidence}, nil
}

// GetHistory returns the audit trail of a request.
func (s *ApprovalService) GetHistory(ctx context.Context, requestID string) ([]*repository.AuditEntry, error) {
	if _, err := s.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, requestID)
}

// Inbox lists active requests whose outstanding stage the actor may decide.
func (s *ApprovalService) Inbox(ctx context.Context, actorID string) ([]*repository.ApprovalRequest, error) {
	actor, err := s.lookupActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, nil
	}

	var out []*repository.ApprovalRequest
	for _, t := range s.registry.Types() {
		def, _ := s.registry.Definition(t)
		reqs, err := s.store.ListRequestsByStatus(ctx, t, def.ActiveStatus)
		if err != nil {
			return nil, err
		}
		for _, req := range reqs {
			if req.CurrentStage == nil {
				continue
			}
			if s.resolver.CanDecide(*actor, req.Subject(), *req.CurrentStage) {
				out = append(out, req)
			}
		}
	}
	sortRequestsByCreated(out)
	return out, nil
}

// OverdueItem is a pending stage past its SLA.
type OverdueItem struct {
	Request    *repository.ApprovalRequest
	Record     *repository.ApprovalRecord
	StageLabel string
	DueAt      time.Time
	OverdueBy  time.Duration
}

// Overdue lists pending stages whose SLA has elapsed. It reads state only.
func (s *ApprovalService) Overdue(ctx context.Context) ([]*OverdueItem, error) {
	pending, err := s.store.ListPendingApprovals(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var out []*OverdueItem
	for _, p := range pending {
		st, err := s.registry.Stage(p.Request.WorkflowType, p.Record.Stage)
		if err != nil {
			s.log.Error().Err(err).Str("request_id", p.Request.ID).Msg("Pending record has an unknown stage")
			continue
		}
		if st.SLA <= 0 {
			continue
		}
		due := p.Record.RequestedAt.Add(st.SLA)
		if !now.After(due) {
			continue
		}
		out = append(out, &OverdueItem{
			Request:    p.Request,
			Record:     p.Record,
			StageLabel: st.Label,
			DueAt:      due,
			OverdueBy:  now.Sub(due),
		})
	}
	return out, nil
}

// ListNotifications returns the caller's newest notifications.
func (s *ApprovalService) ListNotifications(ctx context.Context, userID string, limit int) ([]*repository.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListNotifications(ctx, userID, limit)
}

// MarkNotificationRead flags one of the caller's notifications as read.
func (s *ApprovalService) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkNotificationRead(ctx, notificationID, userID)
}

// Ping checks the store.
func (s *ApprovalService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// lookupActor returns nil when the actor has no profile. Roles used for
// authorization are read from the store, never from the directory cache.
func (s *ApprovalService) lookupActor(ctx context.Context, actorID string) (*workflow.Actor, error) {
	p, err := s.store.GetProfile(ctx, actorID)
	if errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a := p.Actor()
	return &a, nil
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if entry == nil {
		return
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("request_id", entry.RequestID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
