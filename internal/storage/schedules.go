package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

const scheduleColumns = `id, name, goal, cron, timezone, mode, entity_id, region,
	preset_key, freeze_window_cron, enabled, last_run_at, created_at, updated_at`

func scanSchedule(row pgx.Row) (model.Schedule, error) {
	var (
		s    model.Schedule
		mode string
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.Goal, &s.Cron, &s.Timezone, &mode, &s.EntityID, &s.Region,
		&s.PresetKey, &s.FreezeWindowCron, &s.Enabled, &s.LastRunAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return model.Schedule{}, err
	}
	s.Mode = model.Mode(mode)
	return s, nil
}

// CreateSchedule inserts a new autopilot schedule.
func (db *DB) CreateSchedule(ctx context.Context, s model.Schedule) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO schedules
		   (id, name, goal, cron, timezone, mode, entity_id, region, preset_key,
		    freeze_window_cron, enabled, last_run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.Name, s.Goal, s.Cron, s.Timezone, string(s.Mode), s.EntityID, s.Region,
		s.PresetKey, s.FreezeWindowCron, s.Enabled, s.LastRunAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create schedule: %w", err)
	}
	return nil
}

// UpdateSchedule persists a schedule's current state.
func (db *DB) UpdateSchedule(ctx context.Context, s model.Schedule) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE schedules
		    SET name = $1, goal = $2, cron = $3, timezone = $4, mode = $5, entity_id = $6,
		        region = $7, preset_key = $8, freeze_window_cron = $9, enabled = $10,
		        last_run_at = $11, updated_at = $12
		  WHERE id = $13`,
		s.Name, s.Goal, s.Cron, s.Timezone, string(s.Mode), s.EntityID, s.Region,
		s.PresetKey, s.FreezeWindowCron, s.Enabled, s.LastRunAt, time.Now().UTC(), s.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: update schedule %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// GetSchedule retrieves a schedule by id.
func (db *DB) GetSchedule(ctx context.Context, id uuid.UUID) (model.Schedule, error) {
	s, err := scanSchedule(db.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Schedule{}, fmt.Errorf("storage: schedule %s: %w", id, ErrNotFound)
		}
		return model.Schedule{}, fmt.Errorf("storage: get schedule: %w", err)
	}
	return s, nil
}

// ListEnabledSchedules returns every enabled schedule, for startup registration.
func (db *DB) ListEnabledSchedules(ctx context.Context) ([]model.Schedule, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE enabled ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list schedules: %w", err)
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
