package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-erp-approvals/pkg/database"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// ApprovalRecordRepository handles the per-stage approval records.
type ApprovalRecordRepository struct {
	db database.Querier
}

// NewApprovalRecordRepository creates a repository over a pool or transaction.
func NewApprovalRecordRepository(db database.Querier) *ApprovalRecordRepository {
	return &ApprovalRecordRepository{db: db}
}

// Create inserts a pending record. The partial unique index on
// (request_id) WHERE status = 'pending' rejects a second pending record.
func (r *ApprovalRecordRepository) Create(ctx context.Context, rec *ApprovalRecord) error {
	query := `
		INSERT INTO approval_records (request_id, stage, status, approver_id, comments, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, requested_at
	`

	err := r.db.QueryRow(ctx, query,
		rec.RequestID,
		rec.Stage,
		rec.Status,
		rec.ApproverID,
		rec.Comments,
		rec.DecidedAt,
	).Scan(&rec.ID, &rec.RequestedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.InvalidState("request already has a pending approval")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval record")
	}
	return nil
}

// GetByRequestID returns all records for a request in creation order.
func (r *ApprovalRecordRepository) GetByRequestID(ctx context.Context, requestID string) ([]*ApprovalRecord, error) {
	query := `
		SELECT id, request_id, stage, status, approver_id, comments, requested_at, decided_at
		FROM approval_records
		WHERE request_id = $1
		ORDER BY requested_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval records")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetPending returns the pending record of a request, or nil when there is none.
func (r *ApprovalRecordRepository) GetPending(ctx context.Context, requestID string) (*ApprovalRecord, error) {
	query := `
		SELECT id, request_id, stage, status, approver_id, comments, requested_at, decided_at
		FROM approval_records
		WHERE request_id = $1 AND status = 'pending'
	`

	rec, err := r.scanRecord(r.db.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approval record")
	}
	return rec, nil
}

// Decide records the outcome on a pending record.
func (r *ApprovalRecordRepository) Decide(
	ctx context.Context,
	id, status, approverID string,
	comments *string,
	decidedAt time.Time,
) error {
	query := `
		UPDATE approval_records
		SET status      = $2,
		    approver_id = $3,
		    comments    = $4,
		    decided_at  = $5
		WHERE id = $1
		  AND status = 'pending'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, approverID, comments, decidedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.InvalidState("approval record is no longer pending")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record approval decision")
	}
	return nil
}

// ListPending joins every pending record with its request, oldest first.
func (r *ApprovalRecordRepository) ListPending(ctx context.Context) ([]*PendingApproval, error) {
	query := `
		SELECT a.id, a.request_id, a.stage, a.status, a.approver_id, a.comments, a.requested_at, a.decided_at,
		       q.id, q.workflow_type, q.status, q.current_stage, q.requester_id,
		       q.title, q.description, q.priority, q.department, q.category,
		       q.assignee_id, q.participants, q.attributes, q.rejected_stage,
		       q.created_at, q.updated_at, q.completed_at
		FROM approval_records a
		JOIN approval_requests q ON q.id = a.request_id
		WHERE a.status = 'pending'
		ORDER BY a.requested_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	reqRepo := &ApprovalRequestRepository{db: r.db}
	var out []*PendingApproval
	for rows.Next() {
		pa, err := scanPendingApproval(rows, reqRepo)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan pending approval")
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type recordScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRecordRepository) scanRecord(row recordScanner) (*ApprovalRecord, error) {
	rec := &ApprovalRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.RequestID,
		&rec.Stage,
		&rec.Status,
		&rec.ApproverID,
		&rec.Comments,
		&rec.RequestedAt,
		&rec.DecidedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *ApprovalRecordRepository) scanRows(rows pgx.Rows) ([]*ApprovalRecord, error) {
	var records []*ApprovalRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval record")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// joinedScanner reads the record columns ahead of the request columns.
type joinedScanner struct {
	rows pgx.Rows
	rec  *ApprovalRecord
}

func (s joinedScanner) Scan(dest ...any) error {
	recDest := []any{
		&s.rec.ID,
		&s.rec.RequestID,
		&s.rec.Stage,
		&s.rec.Status,
		&s.rec.ApproverID,
		&s.rec.Comments,
		&s.rec.RequestedAt,
		&s.rec.DecidedAt,
	}
	return s.rows.Scan(append(recDest, dest...)...)
}

func scanPendingApproval(rows pgx.Rows, reqRepo *ApprovalRequestRepository) (*PendingApproval, error) {
	rec := &ApprovalRecord{}
	req, err := reqRepo.scanRequest(joinedScanner{rows: rows, rec: rec})
	if err != nil {
		return nil, err
	}
	return &PendingApproval{Request: req, Record: rec}, nil
}
