// Package orchestrator is the planner/executor/reflector control loop.
//
// State machine per run: planning -> executing -> reflecting -> completed,
// with failed reachable from any state on unrecoverable error. DRY_RUN
// stops after planning and returns projected outcomes without invoking a
// single tool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/plan"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/policy"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/ratelimit"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	InvocationStore
	CreateRun(ctx context.Context, run model.Run) error
	UpdateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (model.Run, error)
	ListInvocations(ctx context.Context, runID uuid.UUID) ([]model.ToolInvocation, error)
}

// Orchestrator drives runs end to end.
type Orchestrator struct {
	planner   *Planner
	executor  *Executor
	reflector *Reflector
	validator *plan.Validator
	guard     *policy.Guard
	scopes    *ratelimit.Scopes
	store     Store
	logger    *slog.Logger
	now       func() time.Time
}

// New wires the orchestrator. scopes may be nil to disable rate limiting
// (tests, embedded use).
func New(catalog tool.Catalog, guard *policy.Guard, validator *plan.Validator, scopes *ratelimit.Scopes, store Store, analyzer GoalAnalyzer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		planner:   NewPlanner(catalog, analyzer),
		executor:  NewExecutor(catalog, guard, store, logger),
		reflector: NewReflector(catalog),
		validator: validator,
		guard:     guard,
		scopes:    scopes,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

// Run plans, validates, and (mode permitting) executes and reflects on the
// goal. Validation failures abort before any tool runs.
func (o *Orchestrator) Run(ctx context.Context, req model.RunAgentRequest) (model.RunAgentResult, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return model.RunAgentResult{}, fmt.Errorf("orchestrator: goal must not be empty")
	}

	if o.scopes != nil {
		if rlErr := o.scopes.Check(ctx, req.CallerIP, req.UserID, req.Endpoint, req.Mode); rlErr != nil {
			return model.RunAgentResult{}, rlErr
		}
	}

	pol, err := o.guard.EffectivePolicy(ctx, req.Role)
	if err != nil {
		return model.RunAgentResult{}, err
	}
	mode := req.Mode
	if mode == "" {
		mode = pol.DefaultMode
	}
	if !mode.Valid() {
		return model.RunAgentResult{}, fmt.Errorf("orchestrator: unknown mode %q", mode)
	}

	run := model.Run{
		ID:        uuid.New(),
		Goal:      req.Goal,
		Mode:      mode,
		Scope:     req.Scope,
		Budgets:   o.resolveBudgets(req.Budgets, pol),
		Status:    model.RunStatusPlanning,
		UserID:    req.UserID,
		Role:      req.Role,
		StartedAt: o.now().UTC(),
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return model.RunAgentResult{}, fmt.Errorf("orchestrator: create run: %w", err)
	}
	defer o.guard.ReleaseRunBudgets(run.ID)

	built, err := o.planner.BuildPlan(req.Goal, req.Scope, pol)
	if err != nil {
		return o.failRun(ctx, &run, err)
	}

	validated := o.validator.Validate(ctx, plan.Request{
		Plan:             built,
		Scope:            req.Scope,
		Mode:             mode,
		Policy:           pol,
		HasApprovalToken: req.ApprovalToken != "",
	})
	if !validated.Valid() {
		// The run stays in planning: a rejected plan is not a crashed run.
		run.Steps = validated.Plan.Steps
		o.persist(ctx, run)
		return model.RunAgentResult{RunID: run.ID, Plan: validated.Plan, Status: run.Status},
			validationFailure(validated.Errors)
	}
	run.Steps = validated.Plan.Steps

	if mode == model.ModeDryRun {
		run.Projected = o.planner.ProjectOutcomes(validated.Plan)
		run.Status = model.RunStatusCompleted
		completed := o.now().UTC()
		run.CompletedAt = &completed
		o.persist(ctx, run)
		return model.RunAgentResult{
			RunID:     run.ID,
			Plan:      validated.Plan,
			Projected: run.Projected,
			Status:    run.Status,
		}, nil
	}

	// Approvals recorded ahead of the run mark their steps executable.
	o.applyApprovals(ctx, &run, req.ApprovalToken)

	run.Status = model.RunStatusExecuting
	o.persist(ctx, run)

	execCtx, cancel := context.WithTimeout(ctx, run.Budgets.WallClock)
	defer cancel()
	if err := o.executor.Execute(execCtx, &run, pol); err != nil {
		return o.failRun(ctx, &run, err)
	}

	run.Status = model.RunStatusReflecting
	o.persist(ctx, run)

	invocations, invErr := o.store.ListInvocations(ctx, run.ID)
	if invErr != nil {
		o.logger.Warn("list invocations for reflection failed", "run_id", run.ID, "error", invErr)
	}
	reflection, runLessons, suggestions := o.reflector.Reflect(&run, invocations)
	run.Reflection = &reflection
	run.Lessons = runLessons
	run.NextSteps = suggestions
	run.Status = model.RunStatusCompleted
	completed := o.now().UTC()
	run.CompletedAt = &completed
	o.persist(ctx, run)

	o.logger.Info("run completed",
		"run_id", run.ID,
		"mode", run.Mode,
		"steps", len(run.Steps),
		"outcome_score", reflection.OutcomeScore,
		"rating", reflection.Rating)

	return model.RunAgentResult{
		RunID:      run.ID,
		Plan:       validated.Plan,
		Steps:      run.Steps,
		Reflection: run.Reflection,
		Lessons:    run.Lessons,
		NextSteps:  run.NextSteps,
		Status:     run.Status,
	}, nil
}

// GetRunStatus loads the run with its invocation history.
func (o *Orchestrator) GetRunStatus(ctx context.Context, id uuid.UUID) (model.Run, []model.ToolInvocation, error) {
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return model.Run{}, nil, err
	}
	invocations, err := o.store.ListInvocations(ctx, id)
	if err != nil {
		return model.Run{}, nil, err
	}
	return run, invocations, nil
}

// resolveBudgets fills request gaps from the policy.
func (o *Orchestrator) resolveBudgets(b model.Budgets, pol model.Policy) model.Budgets {
	if b.MaxSteps <= 0 || (pol.MaxSteps > 0 && b.MaxSteps > pol.MaxSteps) {
		b.MaxSteps = pol.MaxSteps
	}
	if b.WallClock <= 0 || (pol.WallClock > 0 && b.WallClock > pol.WallClock) {
		b.WallClock = pol.WallClock
	}
	if b.WallClock <= 0 {
		b.WallClock = 2 * time.Minute
	}
	if b.ToolRetryMax <= 0 {
		b.ToolRetryMax = defaultRetryMax
	}
	return b
}

// applyApprovals marks steps approved where the supplied token verifies.
func (o *Orchestrator) applyApprovals(ctx context.Context, run *model.Run, token string) {
	if token == "" {
		return
	}
	for i := range run.Steps {
		step := &run.Steps[i]
		if !step.RequiresApproval {
			continue
		}
		if _, err := o.guard.VerifyApproval(ctx, run.ID, step.Index, token); err == nil {
			step.Status = model.StepStatusApproved
		}
	}
}

func (o *Orchestrator) failRun(ctx context.Context, run *model.Run, cause error) (model.RunAgentResult, error) {
	msg := cause.Error()
	run.Status = model.RunStatusFailed
	run.Error = &msg
	completed := o.now().UTC()
	run.CompletedAt = &completed
	o.persist(ctx, *run)
	o.logger.Warn("run failed", "run_id", run.ID, "status", run.Status, "error", msg)
	return model.RunAgentResult{RunID: run.ID, Status: run.Status}, cause
}

func (o *Orchestrator) persist(ctx context.Context, run model.Run) {
	// State transitions are best-effort writes; losing one must not take
	// down the run itself.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.UpdateRun(writeCtx, run); err != nil {
		o.logger.Error("persist run failed", "run_id", run.ID, "status", run.Status, "error", err)
	}
}

// validationFailure surfaces the first hard error, which names its rule.
func validationFailure(errs []*model.ValidationError) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return errors.New(strings.Join(msgs, "; "))
}
