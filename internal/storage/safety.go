package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

// safetyCounterColumn whitelists column names so IncrementSafetyCounter can
// interpolate safely. Unknown counters are a programming error.
var safetyCounterColumn = map[model.SafetyCounter]string{
	model.CounterBlockedPlans:       "blocked_plans",
	model.CounterExceededBudgets:    "exceeded_budgets",
	model.CounterApprovalsRequested: "approvals_requested",
	model.CounterApprovalsGranted:   "approvals_granted",
	model.CounterApprovalsRejected:  "approvals_rejected",
	model.CounterRateLimitHits:      "rate_limit_hits",
	model.CounterFreezeWindowBlocks: "freeze_window_blocks",
}

// IncrementSafetyCounter bumps one daily aggregate counter by delta,
// creating the period row on first touch.
func (db *DB) IncrementSafetyCounter(ctx context.Context, period string, counter model.SafetyCounter, delta int64) error {
	col, ok := safetyCounterColumn[counter]
	if !ok {
		return fmt.Errorf("storage: unknown safety counter %q", counter)
	}

	query := fmt.Sprintf(
		`INSERT INTO safety_metrics (period, %s) VALUES ($1, $2)
		 ON CONFLICT (period) DO UPDATE SET %s = safety_metrics.%s + EXCLUDED.%s`,
		col, col, col, col,
	)
	// Concurrent guards all touch the same period row.
	err := WithRetry(ctx, 2, 50*time.Millisecond, func() error {
		_, execErr := db.pool.Exec(ctx, query, period, delta)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("storage: increment safety counter %s: %w", counter, err)
	}
	return nil
}

// GetSafetyMetrics returns the aggregate counters for one period (YYYY-MM-DD).
func (db *DB) GetSafetyMetrics(ctx context.Context, period string) (model.SafetyMetrics, error) {
	var m model.SafetyMetrics
	err := db.pool.QueryRow(ctx,
		`SELECT period, blocked_plans, exceeded_budgets, approvals_requested,
		        approvals_granted, approvals_rejected, rate_limit_hits, freeze_window_blocks
		   FROM safety_metrics WHERE period = $1`, period,
	).Scan(
		&m.Period, &m.BlockedPlans, &m.ExceededBudgets, &m.ApprovalsRequested,
		&m.ApprovalsGranted, &m.ApprovalsRejected, &m.RateLimitHits, &m.FreezeWindowBlocks,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SafetyMetrics{Period: period}, nil
		}
		return model.SafetyMetrics{}, fmt.Errorf("storage: get safety metrics: %w", err)
	}
	return m, nil
}
