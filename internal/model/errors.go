package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The error taxonomy below is shared by the guard, validator, executor, and
// scheduler. Every rejection carries a plain-English message; errors that
// callers handle programmatically expose structured fields.

// ValidationError is a plan or parameter failure. Fail closed: a plan with
// any hard validation error never executes.
type ValidationError struct {
	Rule      string // rule code, e.g. MUTATING_WITHOUT_APPROVAL
	StepIndex int    // -1 for plan-level failures
	Message   string
}

func (e *ValidationError) Error() string {
	if e.StepIndex >= 0 {
		return fmt.Sprintf("plan invalid (%s, step %d): %s", e.Rule, e.StepIndex, e.Message)
	}
	return fmt.Sprintf("plan invalid (%s): %s", e.Rule, e.Message)
}

// DisallowedToolError means the tool is not in the caller's allowlist.
type DisallowedToolError struct {
	ToolID string
	Role   Role
}

func (e *DisallowedToolError) Error() string {
	return fmt.Sprintf("disallowed_tool: %q is not permitted for role %q", e.ToolID, e.Role)
}

// BudgetExceededError means a per-run, per-tool invocation budget was hit.
type BudgetExceededError struct {
	RunID  uuid.UUID
	ToolID string
	Budget int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget_exceeded: tool %q already invoked %d times in run %s", e.ToolID, e.Budget, e.RunID)
}

// RateLimitError means a request was throttled. RetryAfter tells the caller
// when the next request may succeed.
type RateLimitError struct {
	Scope      string
	Remaining  int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests on %s, retry after %s", e.Scope, e.RetryAfter.Round(time.Millisecond))
}

// ApprovalRequiredError means a mutating step has no valid approval.
type ApprovalRequiredError struct {
	RunID     uuid.UUID
	StepIndex int
	ToolID    string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval required: step %d (%s) of run %s is mutating and has no valid step-up approval", e.StepIndex, e.ToolID, e.RunID)
}

// FreezeWindowError means a mutating plan was submitted during a freeze window.
type FreezeWindowError struct {
	Window string
}

func (e *FreezeWindowError) Error() string {
	return fmt.Sprintf("freeze window active (%s): mutating plans are rejected until it ends", e.Window)
}

// DependencyError blocks one step whose upstream dependency did not complete.
// It is step-scoped: independent steps continue.
type DependencyError struct {
	StepIndex int
	DependsOn int
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency not satisfied: step %d depends on step %d, which has no output", e.StepIndex, e.DependsOn)
}

// ToolExecutionError surfaces after the retry budget for one step is spent.
type ToolExecutionError struct {
	ToolID   string
	Attempts int
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed after %d attempts: %v", e.ToolID, e.Attempts, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ErrScheduleAutoDisabled is returned when a schedule has been disabled
// after repeated failures inside its failure window.
var ErrScheduleAutoDisabled = errors.New("schedule auto-disabled after repeated failures")

// ErrRunTimeout is the cause recorded when a run exceeds its wall-clock budget.
var ErrRunTimeout = errors.New("run exceeded wall-clock budget")
