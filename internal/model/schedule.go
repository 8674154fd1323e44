package model

import (
	"time"

	"github.com/google/uuid"
)

// Schedule is an autopilot definition: a cron-driven, unattended
// invocation of the orchestrator with a fixed goal or preset.
type Schedule struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Goal             string     `json:"goal"`
	Cron             string     `json:"cron"`
	Timezone         string     `json:"timezone"`
	Mode             Mode       `json:"mode"`
	EntityID         *string    `json:"entity_id,omitempty"`
	Region           *string    `json:"region,omitempty"`
	PresetKey        *string    `json:"preset_key,omitempty"`
	FreezeWindowCron *string    `json:"freeze_window_cron,omitempty"`
	Enabled          bool       `json:"enabled"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SchedulePatch is a partial update to a schedule. Nil fields are unchanged.
type SchedulePatch struct {
	Name             *string `json:"name,omitempty"`
	Goal             *string `json:"goal,omitempty"`
	Cron             *string `json:"cron,omitempty"`
	Timezone         *string `json:"timezone,omitempty"`
	Mode             *Mode   `json:"mode,omitempty"`
	EntityID         *string `json:"entity_id,omitempty"`
	Region           *string `json:"region,omitempty"`
	PresetKey        *string `json:"preset_key,omitempty"`
	FreezeWindowCron *string `json:"freeze_window_cron,omitempty"`
	Enabled          *bool   `json:"enabled,omitempty"`
}
