package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-erp-approvals/pkg/database"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

// LeaveBalanceRepository tracks remaining leave days per type.
type LeaveBalanceRepository struct {
	db database.Querier
}

func NewLeaveBalanceRepository(db database.Querier) *LeaveBalanceRepository {
	return &LeaveBalanceRepository{db: db}
}

// Get returns the balance of one leave type.
func (r *LeaveBalanceRepository) Get(ctx context.Context, profileID, leaveType string) (*LeaveBalance, error) {
	query := `
		SELECT profile_id, leave_type, remaining_days, updated_at
		FROM leave_balances
		WHERE profile_id = $1 AND leave_type = $2
	`

	b := &LeaveBalance{}
	err := r.db.QueryRow(ctx, query, profileID, leaveType).
		Scan(&b.ProfileID, &b.LeaveType, &b.RemainingDays, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("leave_balance", profileID+"/"+leaveType)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get leave balance")
	}
	return b, nil
}

// Deduct subtracts days when enough remain.
func (r *LeaveBalanceRepository) Deduct(ctx context.Context, profileID, leaveType string, days float64) error {
	query := `
		UPDATE leave_balances
		SET remaining_days = remaining_days - $3,
		    updated_at     = NOW()
		WHERE profile_id = $1
		  AND leave_type = $2
		  AND remaining_days >= $3
		RETURNING remaining_days
	`

	var remaining float64
	err := r.db.QueryRow(ctx, query, profileID, leaveType, days).Scan(&remaining)
	if err == pgx.ErrNoRows {
		return errors.Validation("insufficient leave balance", map[string]any{
			"leave_type":     leaveType,
			"requested_days": days,
		})
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deduct leave balance")
	}
	return nil
}

// Set overwrites a balance.
func (r *LeaveBalanceRepository) Set(ctx context.Context, profileID, leaveType string, days float64) error {
	query := `
		INSERT INTO leave_balances (profile_id, leave_type, remaining_days)
		VALUES ($1, $2, $3)
		ON CONFLICT (profile_id, leave_type) DO UPDATE
		SET remaining_days = EXCLUDED.remaining_days,
		    updated_at     = NOW()
	`

	if _, err := r.db.Exec(ctx, query, profileID, leaveType, days); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to set leave balance")
	}
	return nil
}
