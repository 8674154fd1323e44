package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/policy"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

const (
	defaultRetryMax  = 3
	defaultRetryBase = 500 * time.Millisecond
)

// InvocationStore persists every execution attempt for audit.
type InvocationStore interface {
	CreateInvocation(ctx context.Context, inv model.ToolInvocation) error
}

// Executor runs a validated plan's steps in order, gated by dependencies,
// budgets, and approvals. Failures are step-scoped: one step failing never
// aborts independent steps, only its dependents.
type Executor struct {
	catalog   tool.Catalog
	guard     *policy.Guard
	store     InvocationStore
	logger    *slog.Logger
	retryBase time.Duration
	sleep     func(context.Context, time.Duration) error
}

// NewExecutor wires an executor. store may be nil in tests.
func NewExecutor(catalog tool.Catalog, guard *policy.Guard, store InvocationStore, logger *slog.Logger) *Executor {
	return &Executor{
		catalog:   catalog,
		guard:     guard,
		store:     store,
		logger:    logger,
		retryBase: defaultRetryBase,
		sleep:     sleepCtx,
	}
}

// Execute mutates run.Steps in place and returns only on context
// cancellation; per-step failures are recorded on the steps themselves.
func (e *Executor) Execute(ctx context.Context, run *model.Run, pol model.Policy) error {
	retryMax := run.Budgets.ToolRetryMax
	if retryMax <= 0 {
		retryMax = defaultRetryMax
	}

	ic := tool.InvokeContext{RunID: run.ID, UserID: run.UserID, Scope: run.Scope}

	for i := range run.Steps {
		if err := ctx.Err(); err != nil {
			return e.timeoutRemaining(run, i, err)
		}
		step := &run.Steps[i]

		if err := e.dependenciesSatisfied(run, step); err != nil {
			msg := err.Error()
			step.Status = model.StepStatusFailed
			step.Error = &msg
			e.logger.Warn("step blocked by dependency", "run_id", run.ID, "step", step.Index, "error", msg)
			continue
		}

		// Mutating steps without a recorded approval are skipped, not
		// failed, so the rest of the plan still runs.
		if step.RequiresApproval && step.Status != model.StepStatusApproved {
			step.Status = model.StepStatusSkipped
			e.logger.Info("step skipped pending approval", "run_id", run.ID, "step", step.Index, "tool", step.ToolID)
			continue
		}

		if err := e.guard.CheckToolBudget(ctx, run.ID, step.ToolID, pol); err != nil {
			msg := err.Error()
			step.Status = model.StepStatusFailed
			step.Error = &msg
			continue
		}

		output, err := e.invokeWithRetry(ctx, run.ID, step, ic, retryMax)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return e.timeoutRemaining(run, i, err)
			}
			msg := err.Error()
			step.Status = model.StepStatusFailed
			step.Error = &msg
			e.logger.Warn("step failed", "run_id", run.ID, "step", step.Index, "tool", step.ToolID, "error", msg)
			continue
		}
		step.Status = model.StepStatusCompleted
		step.Output = output
	}
	return nil
}

// dependenciesSatisfied confirms every declared dependency produced output.
func (e *Executor) dependenciesSatisfied(run *model.Run, step *model.Step) error {
	for _, dep := range step.DependsOn {
		if dep < 0 || dep >= len(run.Steps) {
			return &model.DependencyError{StepIndex: step.Index, DependsOn: dep}
		}
		upstream := run.Steps[dep]
		if upstream.Status != model.StepStatusCompleted || upstream.Output == nil {
			return &model.DependencyError{StepIndex: step.Index, DependsOn: dep}
		}
	}
	return nil
}

// invokeWithRetry runs the tool up to retryMax times with exponential
// backoff plus jitter, persisting one invocation row per attempt.
func (e *Executor) invokeWithRetry(ctx context.Context, runID uuid.UUID, step *model.Step, ic tool.InvokeContext, retryMax int) (map[string]any, error) {
	var lastErr error
	for attempt := 1; attempt <= retryMax; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(1<<uint(attempt-1)) * e.retryBase
			jitter := time.Duration(rand.Int63n(int64(e.retryBase)))
			if err := e.sleep(ctx, backoff+jitter); err != nil {
				return nil, err
			}
		}

		started := time.Now().UTC()
		res, err := e.catalog.Invoke(ctx, step.ToolID, step.Params, ic)
		finished := time.Now().UTC()

		inv := model.ToolInvocation{
			ID:         res.InvocationID,
			RunID:      runID,
			StepIndex:  step.Index,
			ToolID:     step.ToolID,
			Params:     step.Params,
			Attempt:    attempt,
			Status:     model.InvocationStatusSucceeded,
			Output:     res.Output,
			StartedAt:  started,
			FinishedAt: &finished,
		}
		if inv.ID == uuid.Nil {
			inv.ID = uuid.New()
		}

		switch {
		case err != nil:
			lastErr = err
		case !res.Success:
			lastErr = fmt.Errorf("%s", res.Error)
		default:
			lastErr = nil
		}
		if lastErr != nil {
			msg := lastErr.Error()
			inv.Status = model.InvocationStatusFailed
			inv.Error = &msg
		}
		e.persistInvocation(ctx, inv)

		if lastErr == nil {
			return res.Output, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &model.ToolExecutionError{ToolID: step.ToolID, Attempts: retryMax, Err: lastErr}
}

func (e *Executor) persistInvocation(ctx context.Context, inv model.ToolInvocation) {
	if e.store == nil {
		return
	}
	// Audit writes use a detached context so a run timeout cannot lose the
	// record of what already happened.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.CreateInvocation(writeCtx, inv); err != nil {
		e.logger.Error("persist invocation failed", "run_id", inv.RunID, "step", inv.StepIndex, "error", err)
	}
}

// timeoutRemaining marks every not-yet-terminal step failed with the
// timeout cause and surfaces the run-level error.
func (e *Executor) timeoutRemaining(run *model.Run, from int, cause error) error {
	msg := model.ErrRunTimeout.Error()
	for i := from; i < len(run.Steps); i++ {
		s := &run.Steps[i]
		if s.Status == model.StepStatusPending || s.Status == model.StepStatusApproved {
			s.Status = model.StepStatusFailed
			s.Error = &msg
		}
	}
	return fmt.Errorf("orchestrator: %w: %v", model.ErrRunTimeout, cause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
