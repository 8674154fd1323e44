package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

// CreateApproval records a human decision on a mutating step.
func (db *DB) CreateApproval(ctx context.Context, a model.Approval) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO approvals (id, run_id, step_index, approver_id, decision, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.RunID, a.StepIndex, a.ApproverID, string(a.Decision), a.TokenHash, a.ExpiresAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create approval: %w", err)
	}
	return nil
}

// GetApproval returns the most recent approval for a (run, step) pair.
func (db *DB) GetApproval(ctx context.Context, runID uuid.UUID, stepIndex int) (model.Approval, error) {
	var (
		a        model.Approval
		decision string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, step_index, approver_id, decision, token_hash, expires_at, created_at
		   FROM approvals
		  WHERE run_id = $1 AND step_index = $2
		  ORDER BY created_at DESC LIMIT 1`, runID, stepIndex,
	).Scan(&a.ID, &a.RunID, &a.StepIndex, &a.ApproverID, &decision, &a.TokenHash, &a.ExpiresAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Approval{}, fmt.Errorf("storage: approval for run %s step %d: %w", runID, stepIndex, ErrNotFound)
		}
		return model.Approval{}, fmt.Errorf("storage: get approval: %w", err)
	}
	a.Decision = model.ApprovalDecision(decision)
	return a, nil
}

// ListApprovals returns every approval recorded for a run.
func (db *DB) ListApprovals(ctx context.Context, runID uuid.UUID) ([]model.Approval, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, step_index, approver_id, decision, token_hash, expires_at, created_at
		   FROM approvals WHERE run_id = $1 ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list approvals: %w", err)
	}
	defer rows.Close()

	var out []model.Approval
	for rows.Next() {
		var (
			a        model.Approval
			decision string
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.StepIndex, &a.ApproverID, &decision, &a.TokenHash, &a.ExpiresAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan approval: %w", err)
		}
		a.Decision = model.ApprovalDecision(decision)
		out = append(out, a)
	}
	return out, rows.Err()
}
