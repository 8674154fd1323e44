package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

// CreateRun inserts a new run in its initial state.
func (db *DB) CreateRun(ctx context.Context, run model.Run) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("storage: marshal steps: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO agent_runs
		   (id, goal, mode, entity_id, region, max_steps, wall_clock_ms, tool_retry_max,
		    status, user_id, role, steps, started_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14)`,
		run.ID, run.Goal, string(run.Mode), run.Scope.EntityID, run.Scope.Region,
		run.Budgets.MaxSteps, run.Budgets.WallClock.Milliseconds(), run.Budgets.ToolRetryMax,
		string(run.Status), run.UserID, string(run.Role), steps, run.StartedAt, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// UpdateRun persists the run's mutable lifecycle fields.
func (db *DB) UpdateRun(ctx context.Context, run model.Run) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("storage: marshal steps: %w", err)
	}
	var reflection []byte
	if run.Reflection != nil {
		if reflection, err = json.Marshal(run.Reflection); err != nil {
			return fmt.Errorf("storage: marshal reflection: %w", err)
		}
	}
	var projected []byte
	if run.Projected != nil {
		if projected, err = json.Marshal(run.Projected); err != nil {
			return fmt.Errorf("storage: marshal projected outcomes: %w", err)
		}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_runs
		    SET status = $1, steps = $2::jsonb, projected = $3::jsonb, reflection = $4::jsonb,
		        lessons = $5, next_steps = $6, error = $7, completed_at = $8
		  WHERE id = $9`,
		string(run.Status), steps, projected, reflection,
		run.Lessons, run.NextSteps, run.Error, run.CompletedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: update run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by id.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	var (
		run        model.Run
		mode       string
		status     string
		role       string
		wallMs     int64
		steps      []byte
		projected  []byte
		reflection []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, goal, mode, entity_id, region, max_steps, wall_clock_ms, tool_retry_max,
		        status, user_id, role, steps, projected, reflection, lessons, next_steps,
		        error, started_at, completed_at, created_at
		   FROM agent_runs WHERE id = $1`, id,
	).Scan(
		&run.ID, &run.Goal, &mode, &run.Scope.EntityID, &run.Scope.Region,
		&run.Budgets.MaxSteps, &wallMs, &run.Budgets.ToolRetryMax,
		&status, &run.UserID, &role, &steps, &projected, &reflection,
		&run.Lessons, &run.NextSteps, &run.Error, &run.StartedAt, &run.CompletedAt, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}

	run.Mode = model.Mode(mode)
	run.Status = model.RunStatus(status)
	run.Role = model.Role(role)
	run.Budgets.WallClock = time.Duration(wallMs) * time.Millisecond
	if err := json.Unmarshal(steps, &run.Steps); err != nil {
		return model.Run{}, fmt.Errorf("storage: unmarshal steps: %w", err)
	}
	if len(projected) > 0 {
		if err := json.Unmarshal(projected, &run.Projected); err != nil {
			return model.Run{}, fmt.Errorf("storage: unmarshal projected outcomes: %w", err)
		}
	}
	if len(reflection) > 0 {
		run.Reflection = &model.Reflection{}
		if err := json.Unmarshal(reflection, run.Reflection); err != nil {
			return model.Run{}, fmt.Errorf("storage: unmarshal reflection: %w", err)
		}
	}
	return run, nil
}

// ListRuns returns runs ordered by started_at DESC with the total count.
func (db *DB) ListRuns(ctx context.Context, limit, offset int) ([]model.Run, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agent_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count runs: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id FROM agent_runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("storage: scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	runs := make([]model.Run, 0, len(ids))
	for _, id := range ids {
		run, err := db.GetRun(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, nil
}

// CreateInvocation records one tool execution attempt.
func (db *DB) CreateInvocation(ctx context.Context, inv model.ToolInvocation) error {
	params, err := json.Marshal(inv.Params)
	if err != nil {
		return fmt.Errorf("storage: marshal invocation params: %w", err)
	}
	var output []byte
	if inv.Output != nil {
		if output, err = json.Marshal(inv.Output); err != nil {
			return fmt.Errorf("storage: marshal invocation output: %w", err)
		}
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO tool_invocations
		   (id, run_id, step_index, tool_id, params, attempt, status, output, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8::jsonb, $9, $10, $11)`,
		inv.ID, inv.RunID, inv.StepIndex, inv.ToolID, params, inv.Attempt,
		string(inv.Status), output, inv.Error, inv.StartedAt, inv.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create invocation: %w", err)
	}
	return nil
}

// ListInvocations returns every invocation attempt for a run, oldest first.
func (db *DB) ListInvocations(ctx context.Context, runID uuid.UUID) ([]model.ToolInvocation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, step_index, tool_id, params, attempt, status, output, error, started_at, finished_at
		   FROM tool_invocations WHERE run_id = $1 ORDER BY started_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list invocations: %w", err)
	}
	defer rows.Close()

	var out []model.ToolInvocation
	for rows.Next() {
		var (
			inv    model.ToolInvocation
			status string
			params []byte
			output []byte
		)
		if err := rows.Scan(
			&inv.ID, &inv.RunID, &inv.StepIndex, &inv.ToolID, &params, &inv.Attempt,
			&status, &output, &inv.Error, &inv.StartedAt, &inv.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan invocation: %w", err)
		}
		inv.Status = model.InvocationStatus(status)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &inv.Params); err != nil {
				return nil, fmt.Errorf("storage: unmarshal invocation params: %w", err)
			}
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &inv.Output); err != nil {
				return nil, fmt.Errorf("storage: unmarshal invocation output: %w", err)
			}
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// CountInvocations returns the number of invocation rows for a run.
// Dry runs must produce zero.
func (db *DB) CountInvocations(ctx context.Context, runID uuid.UUID) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tool_invocations WHERE run_id = $1`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count invocations: %w", err)
	}
	return n, nil
}
