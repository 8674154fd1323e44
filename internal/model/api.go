package model

import "github.com/google/uuid"

// RunAgentRequest asks the engine to plan (and possibly execute) a goal.
type RunAgentRequest struct {
	Goal          string  `json:"goal"`
	Mode          Mode    `json:"mode,omitempty"`
	Scope         Scope   `json:"scope,omitempty"`
	Budgets       Budgets `json:"budgets,omitempty"`
	UserID        string  `json:"user_id"`
	Role          Role    `json:"role,omitempty"`
	ApprovalToken string  `json:"approval_token,omitempty"`
	// CallerIP and Endpoint feed the rate limiter; transport fills them in.
	CallerIP string `json:"-"`
	Endpoint string `json:"-"`
}

// RunAgentResult is the caller-visible outcome of a run.
type RunAgentResult struct {
	RunID      uuid.UUID      `json:"run_id"`
	Plan       Plan           `json:"plan"`
	Projected  map[string]any `json:"projected_outcomes,omitempty"`
	Steps      []Step         `json:"execution_results,omitempty"`
	Reflection *Reflection    `json:"reflection,omitempty"`
	Lessons    []string       `json:"lessons,omitempty"`
	NextSteps  []string       `json:"next_steps,omitempty"`
	Status     RunStatus      `json:"status"`
}

// CreateScheduleRequest defines a new autopilot schedule.
type CreateScheduleRequest struct {
	Name             string  `json:"name"`
	Goal             string  `json:"goal,omitempty"`
	Cron             string  `json:"cron"`
	Timezone         string  `json:"timezone,omitempty"`
	Mode             Mode    `json:"mode,omitempty"`
	EntityID         *string `json:"entity_id,omitempty"`
	Region           *string `json:"region,omitempty"`
	PresetKey        *string `json:"preset_key,omitempty"`
	FreezeWindowCron *string `json:"freeze_window_cron,omitempty"`
	Enabled          bool    `json:"enabled"`
}

// EvaluateRequest asks for a deterministic simulation of a goal.
type EvaluateRequest struct {
	Goal       string      `json:"goal"`
	PresetKey  string      `json:"preset_key,omitempty"`
	DatasetKey string      `json:"dataset_key,omitempty"`
	Scope      Scope       `json:"scope,omitempty"`
	Thresholds *Thresholds `json:"thresholds_override,omitempty"`
	// Seed pins the simulation; zero lets the evaluator derive one.
	Seed int64 `json:"seed,omitempty"`
}

// EvaluateResult is the outcome of a simulation.
type EvaluateResult struct {
	EvalID    uuid.UUID  `json:"eval_id"`
	Scorecard Scorecard  `json:"scorecard"`
	Passed    bool       `json:"passed"`
	Artifacts []EvalCase `json:"artifacts"`
}
