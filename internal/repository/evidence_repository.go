package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-erp-approvals/pkg/database"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

// EvidenceRepository stores supporting documents for leave requests.
type EvidenceRepository struct {
	db database.Querier
}

func NewEvidenceRepository(db database.Querier) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

// Upsert registers a document. Re-uploading a type replaces the file and
// clears any earlier verification.
func (r *EvidenceRepository) Upsert(ctx context.Context, ev *Evidence) error {
	query := `
		INSERT INTO approval_evidence (request_id, document_type, file_url, uploaded_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id, document_type) DO UPDATE
		SET file_url    = EXCLUDED.file_url,
		    uploaded_by = EXCLUDED.uploaded_by,
		    uploaded_at = NOW(),
		    verified    = FALSE,
		    verified_by = NULL,
		    verified_at = NULL
		RETURNING id, uploaded_at, verified
	`

	err := r.db.QueryRow(ctx, query, ev.RequestID, ev.DocumentType, ev.FileURL, ev.UploadedBy).
		Scan(&ev.ID, &ev.UploadedAt, &ev.Verified)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to register evidence")
	}
	ev.VerifiedBy = nil
	ev.VerifiedAt = nil
	return nil
}

// Verify marks a registered document as verified.
func (r *EvidenceRepository) Verify(ctx context.Context, requestID, documentType, verifierID string, at time.Time) (*Evidence, error) {
	query := `
		UPDATE approval_evidence
		SET verified    = TRUE,
		    verified_by = $3,
		    verified_at = $4
		WHERE request_id = $1 AND document_type = $2
		RETURNING id, request_id, document_type, file_url, uploaded_by, uploaded_at,
		          verified, verified_by, verified_at
	`

	ev, err := r.scanEvidence(r.db.QueryRow(ctx, query, requestID, documentType, verifierID, at))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("evidence", documentType)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to verify evidence")
	}
	return ev, nil
}

// ListByRequestID returns every document registered for a request.
func (r *EvidenceRepository) ListByRequestID(ctx context.Context, requestID string) ([]*Evidence, error) {
	query := `
		SELECT id, request_id, document_type, file_url, uploaded_by, uploaded_at,
		       verified, verified_by, verified_at
		FROM approval_evidence
		WHERE request_id = $1
		ORDER BY uploaded_at ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list evidence")
	}
	defer rows.Close()

	var out []*Evidence
	for rows.Next() {
		ev, err := r.scanEvidence(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan evidence")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type evidenceScanner interface {
	Scan(dest ...any) error
}

func (r *EvidenceRepository) scanEvidence(row evidenceScanner) (*Evidence, error) {
	ev := &Evidence{}
	err := row.Scan(
		&ev.ID,
		&ev.RequestID,
		&ev.DocumentType,
		&ev.FileURL,
		&ev.UploadedBy,
		&ev.UploadedAt,
		&ev.Verified,
		&ev.VerifiedBy,
		&ev.VerifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return ev, nil
}
