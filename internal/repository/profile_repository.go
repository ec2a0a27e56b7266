package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-erp-approvals/pkg/database"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

// ProfileRepository reads the actor directory.
type ProfileRepository struct {
	db database.Querier
}

func NewProfileRepository(db database.Querier) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetByID returns one profile.
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*Profile, error) {
	query := `
		SELECT id, full_name, email, role, department, lead_departments, created_at
		FROM profiles
		WHERE id = $1
	`

	p, err := r.scanProfile(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows || isInvalidID(err) {
		return nil, errors.NotFound("profile", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get profile")
	}
	return p, nil
}

// List returns the whole directory ordered by name.
func (r *ProfileRepository) List(ctx context.Context) ([]*Profile, error) {
	query := `
		SELECT id, full_name, email, role, department, lead_departments, created_at
		FROM profiles
		ORDER BY full_name ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list profiles")
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := r.scanProfile(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan profile")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert writes a profile. The directory is owned elsewhere; this is used to
// seed environments.
func (r *ProfileRepository) Upsert(ctx context.Context, p *Profile) error {
	query := `
		INSERT INTO profiles (id, full_name, email, role, department, lead_departments)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET full_name        = EXCLUDED.full_name,
		    email            = EXCLUDED.email,
		    role             = EXCLUDED.role,
		    department       = EXCLUDED.department,
		    lead_departments = EXCLUDED.lead_departments
		RETURNING created_at
	`

	leads := p.LeadDepartments
	if leads == nil {
		leads = []string{}
	}
	err := r.db.QueryRow(ctx, query, p.ID, p.FullName, p.Email, p.Role, p.Department, leads).Scan(&p.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert profile")
	}
	return nil
}

type profileScanner interface {
	Scan(dest ...any) error
}

func (r *ProfileRepository) scanProfile(row profileScanner) (*Profile, error) {
	p := &Profile{}
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.Email,
		&p.Role,
		&p.Department,
		&p.LeadDepartments,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
