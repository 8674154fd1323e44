package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

// CreateEvalRun records a completed simulation.
func (db *DB) CreateEvalRun(ctx context.Context, e model.EvalRun) error {
	cases, err := json.Marshal(e.Cases)
	if err != nil {
		return fmt.Errorf("storage: marshal eval cases: %w", err)
	}
	scorecard, err := json.Marshal(e.Scorecard)
	if err != nil {
		return fmt.Errorf("storage: marshal scorecard: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO eval_runs (id, goal, dataset_key, seed, cases, scorecard, passed, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)`,
		e.ID, e.Goal, e.DatasetKey, e.Seed, cases, scorecard, e.Scorecard.Passed, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create eval run: %w", err)
	}
	return nil
}

// GetEvalRun retrieves a simulation record by id.
func (db *DB) GetEvalRun(ctx context.Context, id uuid.UUID) (model.EvalRun, error) {
	var (
		e         model.EvalRun
		cases     []byte
		scorecard []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, goal, dataset_key, seed, cases, scorecard, created_at
		   FROM eval_runs WHERE id = $1`, id,
	).Scan(&e.ID, &e.Goal, &e.DatasetKey, &e.Seed, &cases, &scorecard, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EvalRun{}, fmt.Errorf("storage: eval run %s: %w", id, ErrNotFound)
		}
		return model.EvalRun{}, fmt.Errorf("storage: get eval run: %w", err)
	}

	if err := json.Unmarshal(cases, &e.Cases); err != nil {
		return model.EvalRun{}, fmt.Errorf("storage: unmarshal eval cases: %w", err)
	}
	if err := json.Unmarshal(scorecard, &e.Scorecard); err != nil {
		return model.EvalRun{}, fmt.Errorf("storage: unmarshal scorecard: %w", err)
	}
	return e, nil
}
