package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/database"
)

// invalidTextRepresentation is raised when an id is not a valid UUID.
const invalidTextRepresentation = "22P02"

func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

// PostgresStore implements Store on top of the per-table repositories.
type PostgresStore struct {
	db            *database.DB
	requests      *ApprovalRequestRepository
	records       *ApprovalRecordRepository
	audit         *ApprovalAuditRepository
	profiles      *ProfileRepository
	evidence      *EvidenceRepository
	notifications *NotificationRepository
}

// NewPostgresStore wires repositories over the pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		db:            db,
		requests:      NewApprovalRequestRepository(db),
		records:       NewApprovalRecordRepository(db),
		audit:         NewApprovalAuditRepository(db),
		profiles:      NewProfileRepository(db),
		evidence:      NewEvidenceRepository(db),
		notifications: NewNotificationRepository(db),
	}
}

// WithTx runs fn in one database transaction. Returning an error rolls back.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(newPostgresTx(tx))
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	return s.profiles.GetByID(ctx, id)
}

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	return s.profiles.List(ctx)
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*ApprovalRequest, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *PostgresStore) ListRequestsByStatus(ctx context.Context, workflowType workflow.Type, status string) ([]*ApprovalRequest, error) {
	return s.requests.ListByStatus(ctx, workflowType, status)
}

func (s *PostgresStore) ListRecords(ctx context.Context, requestID string) ([]*ApprovalRecord, error) {
	return s.records.GetByRequestID(ctx, requestID)
}

func (s *PostgresStore) ListPendingApprovals(ctx context.Context) ([]*PendingApproval, error) {
	return s.records.ListPending(ctx)
}

func (s *PostgresStore) ListEvidence(ctx context.Context, requestID string) ([]*Evidence, error) {
	return s.evidence.ListByRequestID(ctx, requestID)
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	return s.audit.Append(ctx, entry)
}

func (s *PostgresStore) ListAudit(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	return s.audit.GetByRequestID(ctx, requestID)
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n *Notification) error {
	return s.notifications.Create(ctx, n)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	return s.notifications.ListForUser(ctx, userID, limit)
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	return s.notifications.MarkRead(ctx, id, userID)
}

// UpsertProfile and SetLeaveBalance seed directory data in non-production
// environments and integration tests.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p *Profile) error {
	return s.profiles.Upsert(ctx, p)
}

func (s *PostgresStore) SetLeaveBalance(ctx context.Context, profileID, leaveType string, days float64) error {
	return NewLeaveBalanceRepository(s.db).Set(ctx, profileID, leaveType, days)
}

// ── transaction ──────────────────────────────────────────────────────────────

type postgresTx struct {
	requests *ApprovalRequestRepository
	records  *ApprovalRecordRepository
	evidence *EvidenceRepository
	balances *LeaveBalanceRepository
}

func newPostgresTx(tx pgx.Tx) *postgresTx {
	return &postgresTx{
		requests: NewApprovalRequestRepository(tx),
		records:  NewApprovalRecordRepository(tx),
		evidence: NewEvidenceRepository(tx),
		balances: NewLeaveBalanceRepository(tx),
	}
}

func (t *postgresTx) GetRequestForUpdate(ctx context.Context, id string) (*ApprovalRequest, error) {
	return t.requests.GetForUpdate(ctx, id)
}

func (t *postgresTx) InsertRequest(ctx context.Context, req *ApprovalRequest) error {
	return t.requests.Create(ctx, req)
}

func (t *postgresTx) UpdateRequest(ctx context.Context, req *ApprovalRequest) error {
	return t.requests.Update(ctx, req)
}

func (t *postgresTx) GetPendingRecord(ctx context.Context, requestID string) (*ApprovalRecord, error) {
	return t.records.GetPending(ctx, requestID)
}

func (t *postgresTx) InsertRecord(ctx context.Context, rec *ApprovalRecord) error {
	return t.records.Create(ctx, rec)
}

func (t *postgresTx) DecideRecord(ctx context.Context, recordID, status, approverID string, comments *string, decidedAt time.Time) error {
	return t.records.Decide(ctx, recordID, status, approverID, comments, decidedAt)
}

func (t *postgresTx) ListEvidence(ctx context.Context, requestID string) ([]*Evidence, error) {
	return t.evidence.ListByRequestID(ctx, requestID)
}

func (t *postgresTx) UpsertEvidence(ctx context.Context, ev *Evidence) error {
	return t.evidence.Upsert(ctx, ev)
}

func (t *postgresTx) VerifyEvidence(ctx context.Context, requestID, documentType, verifierID string, at time.Time) (*Evidence, error) {
	return t.evidence.Verify(ctx, requestID, documentType, verifierID, at)
}

func (t *postgresTx) GetLeaveBalance(ctx context.Context, profileID, leaveType string) (*LeaveBalance, error) {
	return t.balances.Get(ctx, profileID, leaveType)
}

func (t *postgresTx) DeductLeaveBalance(ctx context.Context, profileID, leaveType string, days float64) error {
	return t.balances.Deduct(ctx, profileID, leaveType, days)
}
