package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/database"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

// ApprovalRequestRepository manages tickets and leave requests.
type ApprovalRequestRepository struct {
	db database.Querier
}

// NewApprovalRequestRepository creates a repository over a pool or transaction.
func NewApprovalRequestRepository(db database.Querier) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

const requestColumns = `
	id, workflow_type, status, current_stage, requester_id,
	title, description, priority, department, category,
	assignee_id, participants, attributes, rejected_stage,
	created_at, updated_at, completed_at`

// Create inserts a request and fills in its generated fields.
func (r *ApprovalRequestRepository) Create(ctx context.Context, req *ApprovalRequest) error {
	participants, attributes, err := marshalRequestMaps(req)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_requests
		    (workflow_type, status, current_stage, requester_id,
		     title, description, priority, department, category,
		     assignee_id, participants, attributes)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8, $9,
		        $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		string(req.WorkflowType),
		req.Status,
		req.CurrentStage,
		req.RequesterID,
		req.Title,
		req.Description,
		req.Priority,
		req.Department,
		req.Category,
		req.AssigneeID,
		participants,
		attributes,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
	}
	return nil
}

// GetByID retrieves a request by its primary key.
func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := `SELECT` + requestColumns + `
		FROM approval_requests
		WHERE id = $1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows || isInvalidID(err) {
		return nil, errors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval request")
	}
	return req, nil
}

// GetForUpdate retrieves a request and locks its row until the surrounding
// transaction ends. Concurrent deciders queue here.
func (r *ApprovalRequestRepository) GetForUpdate(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := `SELECT` + requestColumns + `
		FROM approval_requests
		WHERE id = $1
		FOR UPDATE
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows || isInvalidID(err) {
		return nil, errors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval request")
	}
	return req, nil
}

// ListByStatus returns requests of a workflow type in a status, oldest first.
func (r *ApprovalRequestRepository) ListByStatus(ctx context.Context, workflowType workflow.Type, status string) ([]*ApprovalRequest, error) {
	query := `SELECT` + requestColumns + `
		FROM approval_requests
		WHERE workflow_type = $1 AND status = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, string(workflowType), status)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval requests")
	}
	defer rows.Close()

	var out []*ApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Update persists the mutable fields of a request.
func (r *ApprovalRequestRepository) Update(ctx context.Context, req *ApprovalRequest) error {
	participants, attributes, err := marshalRequestMaps(req)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_requests
		SET status         = $2,
		    current_stage  = $3,
		    department     = $4,
		    assignee_id    = $5,
		    participants   = $6,
		    attributes     = $7,
		    rejected_stage = $8,
		    completed_at   = $9,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		req.ID,
		req.Status,
		req.CurrentStage,
		req.Department,
		req.AssigneeID,
		participants,
		attributes,
		req.RejectedStage,
		req.CompletedAt,
	).Scan(&req.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_request", req.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval request")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRequestRepository) scanRequest(row requestScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	var (
		workflowType string
		participants []byte
		attributes   []byte
	)
	err := row.Scan(
		&req.ID,
		&workflowType,
		&req.Status,
		&req.CurrentStage,
		&req.RequesterID,
		&req.Title,
		&req.Description,
		&req.Priority,
		&req.Department,
		&req.Category,
		&req.AssigneeID,
		&participants,
		&attributes,
		&req.RejectedStage,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	req.WorkflowType = workflow.Type(workflowType)

	req.Participants = map[string]string{}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &req.Participants); err != nil {
			return nil, err
		}
	}
	req.Attributes = map[string]any{}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &req.Attributes); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func marshalRequestMaps(req *ApprovalRequest) (participants, attributes []byte, err error) {
	p := req.Participants
	if p == nil {
		p = map[string]string{}
	}
	a := req.Attributes
	if a == nil {
		a = map[string]any{}
	}
	if participants, err = json.Marshal(p); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal participants")
	}
	if attributes, err = json.Marshal(a); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal attributes")
	}
	return participants, attributes, nil
}
