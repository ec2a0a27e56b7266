package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
)

// ProfileReader is the read-only actor directory.
type ProfileReader interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]*Profile, error)
}

// Tx is the unit of work used by every state-changing approval operation.
// GetRequestForUpdate locks the request until the transaction ends.
type Tx interface {
	GetRequestForUpdate(ctx context.Context, id string) (*ApprovalRequest, error)
	InsertRequest(ctx context.Context, req *ApprovalRequest) error
	UpdateRequest(ctx context.Context, req *ApprovalRequest) error

	// GetPendingRecord returns nil when the request has no pending record.
	GetPendingRecord(ctx context.Context, requestID string) (*ApprovalRecord, error)
	InsertRecord(ctx context.Context, rec *ApprovalRecord) error
	// DecideRecord fails with InvalidState when the record is no longer pending.
	DecideRecord(ctx context.Context, recordID, status, approverID string, comments *string, decidedAt time.Time) error

	ListEvidence(ctx context.Context, requestID string) ([]*Evidence, error)
	UpsertEvidence(ctx context.Context, ev *Evidence) error
	VerifyEvidence(ctx context.Context, requestID, documentType, verifierID string, at time.Time) (*Evidence, error)

	GetLeaveBalance(ctx context.Context, profileID, leaveType string) (*LeaveBalance, error)
	// DeductLeaveBalance fails with ValidationError when the balance is insufficient.
	DeductLeaveBalance(ctx context.Context, profileID, leaveType string, days float64) error
}

// Store is the persistence boundary of the service.
type Store interface {
	ProfileReader

	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error

	GetRequest(ctx context.Context, id string) (*ApprovalRequest, error)
	ListRequestsByStatus(ctx context.Context, workflowType workflow.Type, status string) ([]*ApprovalRequest, error)
	ListRecords(ctx context.Context, requestID string) ([]*ApprovalRecord, error)
	ListPendingApprovals(ctx context.Context) ([]*PendingApproval, error)
	ListEvidence(ctx context.Context, requestID string) ([]*Evidence, error)

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, requestID string) ([]*AuditEntry, error)

	InsertNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*postgresTx)(nil)
	_ Tx    = (*memoryTx)(nil)
)
