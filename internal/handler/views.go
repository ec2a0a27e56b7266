package handler

import (
	"time"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/service"
)

// JSON shapes shared by the HTTP and gRPC transports.

type requestView struct {
	ID            string            `json:"id"`
	WorkflowType  string            `json:"workflow_type"`
	Status        string            `json:"status"`
	CurrentStage  *string           `json:"current_stage"`
	RequesterID   string            `json:"requester_id"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Priority      string            `json:"priority,omitempty"`
	Department    string            `json:"department"`
	Category      string            `json:"category,omitempty"`
	AssigneeID    *string           `json:"assignee_id,omitempty"`
	Participants  map[string]string `json:"participants,omitempty"`
	Attributes    map[string]any    `json:"attributes,omitempty"`
	RejectedStage *string           `json:"rejected_stage,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

type recordView struct {
	ID          string     `json:"id"`
	Stage       string     `json:"stage"`
	Status      string     `json:"status"`
	ApproverID  *string    `json:"approver_id,omitempty"`
	Comments    *string    `json:"comments,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

type evidenceView struct {
	ID           string     `json:"id"`
	DocumentType string     `json:"document_type"`
	FileURL      string     `json:"file_url"`
	UploadedBy   string     `json:"uploaded_by"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	Verified     bool       `json:"verified"`
	VerifiedBy   *string    `json:"verified_by,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

type detailView struct {
	Request  requestView    `json:"request"`
	Records  []recordView   `json:"records"`
	Evidence []evidenceView `json:"evidence"`
}

type auditView struct {
	ID           string         `json:"id"`
	RecordID     *string        `json:"record_id,omitempty"`
	Action       string         `json:"action"`
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type overdueView struct {
	Request        requestView `json:"request"`
	Stage          string      `json:"stage"`
	StageLabel     string      `json:"stage_label"`
	RequestedAt    time.Time   `json:"requested_at"`
	DueAt          time.Time   `json:"due_at"`
	OverdueSeconds int64       `json:"overdue_seconds"`
}

type notificationView struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	RequestID *string   `json:"request_id,omitempty"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type decideView struct {
	RequestID string `json:"request_id"`
	Stage     string `json:"stage"`
	Decision  string `json:"decision"`
	Status    string `json:"status"`
}

func toRequestView(r *repository.ApprovalRequest) requestView {
	return requestView{
		ID:            r.ID,
		WorkflowType:  string(r.WorkflowType),
		Status:        r.Status,
		CurrentStage:  r.CurrentStage,
		RequesterID:   r.RequesterID,
		Title:         r.Title,
		Description:   r.Description,
		Priority:      r.Priority,
		Department:    r.Department,
		Category:      r.Category,
		AssigneeID:    r.AssigneeID,
		Participants:  r.Participants,
		Attributes:    r.Attributes,
		RejectedStage: r.RejectedStage,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		CompletedAt:   r.CompletedAt,
	}
}

func toRequestViews(reqs []*repository.ApprovalRequest) []requestView {
	out := make([]requestView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toRequestView(r))
	}
	return out
}

func toEvidenceView(e *repository.Evidence) evidenceView {
	return evidenceView{
		ID:           e.ID,
		DocumentType: e.DocumentType,
		FileURL:      e.FileURL,
		UploadedBy:   e.UploadedBy,
		UploadedAt:   e.UploadedAt,
		Verified:     e.Verified,
		VerifiedBy:   e.VerifiedBy,
		VerifiedAt:   e.VerifiedAt,
	}
}

func toDetailView(d *service.RequestDetail) detailView {
	v := detailView{
		Request:  toRequestView(d.Request),
		Records:  make([]recordView, 0, len(d.Records)),
		Evidence: make([]evidenceView, 0, len(d.Evidence)),
	}
	for _, r := range d.Records {
		v.Records = append(v.Records, recordView{
			ID:          r.ID,
			Stage:       r.Stage,
			Status:      r.Status,
			ApproverID:  r.ApproverID,
			Comments:    r.Comments,
			RequestedAt: r.RequestedAt,
			DecidedAt:   r.DecidedAt,
		})
	}
	for _, e := range d.Evidence {
		v.Evidence = append(v.Evidence, toEvidenceView(e))
	}
	return v
}

func toAuditViews(entries []*repository.AuditEntry) []auditView {
	out := make([]auditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditView{
			ID:           e.ID,
			RecordID:     e.RecordID,
			Action:       e.Action,
			PerformedBy:  e.PerformedBy,
			PerformedAt:  e.PerformedAt,
			StatusBefore: e.StatusBefore,
			StatusAfter:  e.StatusAfter,
			Metadata:     e.Metadata,
		})
	}
	return out
}

func toOverdueViews(items []*service.OverdueItem) []overdueView {
	out := make([]overdueView, 0, len(items))
	for _, it := range items {
		out = append(out, overdueView{
			Request:        toRequestView(it.Request),
			Stage:          it.Record.Stage,
			StageLabel:     it.StageLabel,
			RequestedAt:    it.Record.RequestedAt,
			DueAt:          it.DueAt,
			OverdueSeconds: int64(it.OverdueBy / time.Second),
		})
	}
	return out
}

func toNotificationViews(ns []*repository.Notification) []notificationView {
	out := make([]notificationView, 0, len(ns))
	for _, n := range ns {
		out = append(out, notificationView{
			ID:        n.ID,
			EventType: n.EventType,
			Title:     n.Title,
			Message:   n.Message,
			RequestID: n.RequestID,
			Link:      n.Link,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}

func toDecideView(r *service.DecideResult) decideView {
	return decideView{RequestID: r.RequestID, Stage: r.Stage, Decision: r.Decision, Status: r.Status}
}
