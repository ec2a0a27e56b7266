package repository

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
)

// ── Domain types for the approval engine ─────────────────────────────────────

// Approval record statuses.
const (
	RecordPending  = "pending"
	RecordApproved = "approved"
	RecordRejected = "rejected"
)

// ApprovalRequest is a ticket or leave request moving through a chain.
type ApprovalRequest struct {
	ID           string
	WorkflowType workflow.Type
	Status       string
	CurrentStage *string // nil when no stage is outstanding
	RequesterID  string
	Title        string
	Description  string
	Priority     string
	Department   string
	Category     string // procurement category or leave type
	AssigneeID   *string
	Participants map[string]string
	Attributes   map[string]any
	// RejectedStage records which stage rejected the request.
	RejectedStage *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Subject projects the request for the resolver.
func (r *ApprovalRequest) Subject() workflow.Subject {
	return workflow.Subject{
		ID:           r.ID,
		Type:         r.WorkflowType,
		RequesterID:  r.RequesterID,
		Department:   r.Department,
		Category:     r.Category,
		Priority:     r.Priority,
		Participants: r.Participants,
		Attributes:   r.Attributes,
	}
}

// Stage returns the current stage or "".
func (r *ApprovalRequest) Stage() string {
	if r.CurrentStage == nil {
		return ""
	}
	return *r.CurrentStage
}

// AttrFloat reads a numeric attribute regardless of how it was decoded.
func (r *ApprovalRequest) AttrFloat(key string) (float64, bool) {
	switch v := r.Attributes[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func (r *ApprovalRequest) clone() *ApprovalRequest {
	c := *r
	c.CurrentStage = cloneString(r.CurrentStage)
	c.AssigneeID = cloneString(r.AssigneeID)
	c.RejectedStage = cloneString(r.RejectedStage)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.Participants = make(map[string]string, len(r.Participants))
	for k, v := range r.Participants {
		c.Participants[k] = v
	}
	c.Attributes = make(map[string]any, len(r.Attributes))
	for k, v := range r.Attributes {
		c.Attributes[k] = v
	}
	return &c
}

// ApprovalRecord is one stage attempt on a request.
type ApprovalRecord struct {
	ID          string
	RequestID   string
	Stage       string
	Status      string // pending | approved | rejected
	ApproverID  *string
	Comments    *string
	RequestedAt time.Time
	DecidedAt   *time.Time
}

func (r *ApprovalRecord) clone() *ApprovalRecord {
	c := *r
	c.ApproverID = cloneString(r.ApproverID)
	c.Comments = cloneString(r.Comments)
	c.DecidedAt = cloneTime(r.DecidedAt)
	return &c
}

// PendingApproval pairs an active request with its outstanding record.
type PendingApproval struct {
	Request *ApprovalRequest
	Record  *ApprovalRecord
}

// Profile is a directory entry.
type Profile struct {
	ID              string
	FullName        string
	Email           string
	Role            string
	Department      string
	LeadDepartments []string
	CreatedAt       time.Time
}

// Actor projects the profile for the resolver.
func (p *Profile) Actor() workflow.Actor {
	return workflow.Actor{
		ID:              p.ID,
		Role:            p.Role,
		Department:      p.Department,
		LeadDepartments: p.LeadDepartments,
	}
}

// AuditEntry is one immutable record in the audit log.
type AuditEntry struct {
	ID           string
	RequestID    string
	RecordID     *string
	Action       string // created | approved | rejected | assigned | pivoted | evidence_registered | evidence_verified
	PerformedBy  string
	PerformedAt  time.Time
	StatusBefore *string
	StatusAfter  *string
	Metadata     map[string]any
}

// Evidence is a supporting document attached to a request.
type Evidence struct {
	ID           string
	RequestID    string
	DocumentType string
	FileURL      string
	UploadedBy   string
	UploadedAt   time.Time
	Verified     bool
	VerifiedBy   *string
	VerifiedAt   *time.Time
}

// Notification is an in-app message for one user.
type Notification struct {
	ID        string
	UserID    string
	EventType string
	Title     string
	Message   string
	RequestID *string
	Link      string
	Read      bool
	CreatedAt time.Time
}

// LeaveBalance is the remaining allowance of one leave type.
type LeaveBalance struct {
	ProfileID     string
	LeaveType     string
	RemainingDays float64
	UpdatedAt     time.Time
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
