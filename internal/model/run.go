// Package model defines the core domain types for the Sentia agent engine.
//
// All types correspond directly to database tables and API payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Mode controls how far a run is allowed to progress.
type Mode string

const (
	// ModeDryRun plans only; no tool is ever invoked.
	ModeDryRun Mode = "DRY_RUN"
	// ModePropose executes, but mutating steps wait for approval.
	ModePropose Mode = "PROPOSE"
	// ModeExecute executes immediately; mutating steps still require approval.
	ModeExecute Mode = "EXECUTE"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDryRun, ModePropose, ModeExecute:
		return true
	}
	return false
}

// RunStatus represents the lifecycle state of an agent run.
type RunStatus string

const (
	RunStatusPlanning   RunStatus = "planning"
	RunStatusExecuting  RunStatus = "executing"
	RunStatusReflecting RunStatus = "reflecting"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// StepStatus represents the lifecycle state of one planned step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusApproved  StepStatus = "approved"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// InvocationStatus is the outcome of one tool execution attempt.
type InvocationStatus string

const (
	InvocationStatusRunning   InvocationStatus = "running"
	InvocationStatusSucceeded InvocationStatus = "succeeded"
	InvocationStatusFailed    InvocationStatus = "failed"
)

// Scope restricts a run to a subset of entities and regions.
type Scope struct {
	EntityID *string `json:"entity_id,omitempty"`
	Region   *string `json:"region,omitempty"`
}

// Budgets bound the cost of a single run. Zero values fall back to the
// resolved policy's limits.
type Budgets struct {
	MaxSteps     int           `json:"max_steps,omitempty"`
	WallClock    time.Duration `json:"wall_clock,omitempty"`
	ToolRetryMax int           `json:"tool_retry_max,omitempty"`
}

// Step is one planned tool invocation within a run.
//
// Invariant: every DependsOn index refers to a step with a strictly
// smaller index; forward and self references are invalid.
type Step struct {
	Index            int            `json:"index"`
	ToolID           string         `json:"tool_id"`
	Params           map[string]any `json:"params"`
	DependsOn        []int          `json:"depends_on,omitempty"`
	Expect           string         `json:"expect,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           StepStatus     `json:"status"`
	Output           map[string]any `json:"output,omitempty"`
	Error            *string        `json:"error,omitempty"`
}

// Plan is an ordered, dependency-annotated sequence of steps addressing a goal.
type Plan struct {
	Goal     string   `json:"goal"`
	Steps    []Step   `json:"steps"`
	Warnings []string `json:"warnings,omitempty"`
	// EstimatedDuration is a planning-time heuristic, not a measurement.
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// StepsRequiringApproval returns the indices of mutating steps.
func (p Plan) StepsRequiringApproval() []int {
	var idx []int
	for _, s := range p.Steps {
		if s.RequiresApproval {
			idx = append(idx, s.Index)
		}
	}
	return idx
}

// Run identifies one goal execution, owned exclusively by the orchestrator.
// Created at plan time, mutated through its lifecycle, retained for audit.
type Run struct {
	ID          uuid.UUID      `json:"id"`
	Goal        string         `json:"goal"`
	Mode        Mode           `json:"mode"`
	Scope       Scope          `json:"scope"`
	Budgets     Budgets        `json:"budgets"`
	Status      RunStatus      `json:"status"`
	UserID      string         `json:"user_id"`
	Role        Role           `json:"role"`
	Steps       []Step         `json:"steps"`
	Projected   map[string]any `json:"projected_outcomes,omitempty"`
	Reflection  *Reflection    `json:"reflection,omitempty"`
	Lessons     []string       `json:"lessons,omitempty"`
	NextSteps   []string       `json:"next_steps,omitempty"`
	Error       *string        `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolInvocation is one concrete execution attempt of a step's tool.
// Several invocations may exist per step when the executor retries.
type ToolInvocation struct {
	ID         uuid.UUID        `json:"id"`
	RunID      uuid.UUID        `json:"run_id"`
	StepIndex  int              `json:"step_index"`
	ToolID     string           `json:"tool_id"`
	Params     map[string]any   `json:"params"`
	Attempt    int              `json:"attempt"`
	Status     InvocationStatus `json:"status"`
	Output     map[string]any   `json:"output,omitempty"`
	Error      *string          `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Reflection is the orchestrator's post-run self-assessment.
type Reflection struct {
	PlanQuality      PlanQuality      `json:"plan_quality"`
	ExecutionQuality ExecutionQuality `json:"execution_quality"`
	OutcomeScore     float64          `json:"outcome_score"`
	Rating           Rating           `json:"rating"`
}

// PlanQuality scores the shape of the plan independent of its outcome.
type PlanQuality struct {
	StepCount       int     `json:"step_count"`
	Efficiency      string  `json:"efficiency"`
	CoverageRatio   float64 `json:"coverage_ratio"`
	RedundancyRatio float64 `json:"redundancy_ratio"`
}

// ExecutionQuality summarizes how execution went.
type ExecutionQuality struct {
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
	Failures    []string      `json:"failures,omitempty"`
}

// Rating is a qualitative band over the outcome score.
type Rating string

const (
	RatingExcellent Rating = "EXCELLENT"
	RatingGood      Rating = "GOOD"
	RatingFair      Rating = "FAIR"
	RatingPoor      Rating = "POOR"
)

// RatingFor maps an outcome score in [0,1] to its qualitative band.
func RatingFor(score float64) Rating {
	switch {
	case score >= 0.8:
		return RatingExcellent
	case score >= 0.6:
		return RatingGood
	case score >= 0.4:
		return RatingFair
	default:
		return RatingPoor
	}
}
