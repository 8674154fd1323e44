// Package service is the application facade: it ties the orchestrator,
// policy guard, evaluator, and autopilot scheduler into the operations a
// transport (CLI, HTTP, MCP) exposes.
package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/auth"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/eval"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/orchestrator"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/policy"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/preset"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/safety"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/scheduler"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/telemetry"
)

// ApprovalStore persists human approval decisions.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, a model.Approval) error
}

// ApproveStepRequest records a human verdict on one mutating step.
type ApproveStepRequest struct {
	RunID      uuid.UUID              `json:"run_id"`
	StepIndex  int                    `json:"step_index"`
	ApproverID string                 `json:"approver_id"`
	Decision   model.ApprovalDecision `json:"decision"`
	// TTL bounds the returned token's lifetime; capped server-side.
	TTL time.Duration `json:"ttl,omitempty"`
}

// ApproveStepResult carries the step-up token back to the approver. The
// token is shown exactly once; only its hash is stored.
type ApproveStepResult struct {
	ApprovalID uuid.UUID `json:"approval_id"`
	Token      string    `json:"token,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Agent is the service facade.
type Agent struct {
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	evaluator    *eval.Evaluator
	guard        *policy.Guard
	presets      *preset.Store
	approvals    ApprovalStore
	recorder     *safety.Recorder
	logger       *slog.Logger
	now          func() time.Time

	runDuration  metric.Float64Histogram
	evalDuration metric.Float64Histogram
}

// New wires the facade and registers its instruments.
func New(orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, evaluator *eval.Evaluator, guard *policy.Guard, presets *preset.Store, approvals ApprovalStore, recorder *safety.Recorder, logger *slog.Logger) (*Agent, error) {
	meter := telemetry.Meter("sentia/service")
	runDuration, err := meter.Float64Histogram("agent.run.duration",
		metric.WithDescription("End-to-end agent run duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("service: create run histogram: %w", err)
	}
	evalDuration, err := meter.Float64Histogram("agent.eval.duration",
		metric.WithDescription("Goal evaluation duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("service: create eval histogram: %w", err)
	}

	return &Agent{
		orchestrator: orch,
		scheduler:    sched,
		evaluator:    evaluator,
		guard:        guard,
		presets:      presets,
		approvals:    approvals,
		recorder:     recorder,
		logger:       logger,
		now:          time.Now,
		runDuration:  runDuration,
		evalDuration: evalDuration,
	}, nil
}

// RunAgent plans (and, mode permitting, executes) a goal.
func (a *Agent) RunAgent(ctx context.Context, req model.RunAgentRequest) (model.RunAgentResult, error) {
	start := a.now()
	result, err := a.orchestrator.Run(ctx, req)
	a.runDuration.Record(ctx, a.now().Sub(start).Seconds(),
		metric.WithAttributes(
			attribute.String("mode", string(req.Mode)),
			attribute.String("status", string(result.Status)),
			attribute.Bool("error", err != nil),
		))
	return result, err
}

// GetRunStatus returns the stored run and its tool invocation audit trail.
func (a *Agent) GetRunStatus(ctx context.Context, id uuid.UUID) (model.Run, []model.ToolInvocation, error) {
	return a.orchestrator.GetRunStatus(ctx, id)
}

// ApproveStep records a human decision on a mutating step. A granted
// decision mints a step-up token bound to the approver; the caller passes
// it back on the EXECUTE request.
func (a *Agent) ApproveStep(ctx context.Context, req ApproveStepRequest) (ApproveStepResult, error) {
	if req.ApproverID == "" {
		return ApproveStepResult{}, fmt.Errorf("service: approver id must not be empty")
	}
	if req.StepIndex < 0 {
		return ApproveStepResult{}, fmt.Errorf("service: step index must not be negative")
	}
	if req.Decision == "" {
		req.Decision = model.ApprovalGranted
	}
	if req.Decision != model.ApprovalGranted && req.Decision != model.ApprovalRejected {
		return ApproveStepResult{}, fmt.Errorf("service: unknown decision %q", req.Decision)
	}

	now := a.now().UTC()
	approval := model.Approval{
		ID:         uuid.New(),
		RunID:      req.RunID,
		StepIndex:  req.StepIndex,
		ApproverID: req.ApproverID,
		Decision:   req.Decision,
		ExpiresAt:  now.Add(auth.MaxStepUpTTL),
		CreatedAt:  now,
	}

	var token string
	if req.Decision == model.ApprovalGranted {
		signed, expiresAt, err := a.guard.CreateStepUpToken(ctx, req.ApproverID, req.TTL)
		if err != nil {
			return ApproveStepResult{}, err
		}
		hash, err := auth.HashToken(signed)
		if err != nil {
			return ApproveStepResult{}, err
		}
		token = signed
		approval.TokenHash = hash
		approval.ExpiresAt = expiresAt
	}

	if err := a.approvals.CreateApproval(ctx, approval); err != nil {
		return ApproveStepResult{}, err
	}
	if a.recorder != nil {
		if req.Decision == model.ApprovalGranted {
			a.recorder.Record(ctx, model.CounterApprovalsGranted)
		} else {
			a.recorder.Record(ctx, model.CounterApprovalsRejected)
		}
	}
	a.logger.Info("step approval recorded",
		"run_id", req.RunID,
		"step_index", req.StepIndex,
		"approver_id", req.ApproverID,
		"decision", req.Decision)

	return ApproveStepResult{
		ApprovalID: approval.ID,
		Token:      token,
		ExpiresAt:  approval.ExpiresAt,
	}, nil
}

// Evaluate runs a deterministic simulation of a goal against a dataset.
// A preset supplies goal, dataset, and thresholds; explicit request fields
// override it.
func (a *Agent) Evaluate(ctx context.Context, req model.EvaluateRequest) (model.EvaluateResult, error) {
	goal := req.Goal
	datasetKey := req.DatasetKey
	thresholds := model.DefaultThresholds()

	if req.PresetKey != "" {
		p, err := a.presets.Load(req.PresetKey)
		if err != nil {
			return model.EvaluateResult{}, err
		}
		if goal == "" {
			goal = p.Goal
		}
		if datasetKey == "" {
			datasetKey = p.DatasetKey
		}
		if p.Thresholds != nil {
			thresholds = *p.Thresholds
		}
	}
	if req.Thresholds != nil {
		thresholds = *req.Thresholds
	}
	if goal == "" {
		return model.EvaluateResult{}, fmt.Errorf("service: evaluate needs a goal or a preset")
	}

	seed := req.Seed
	if seed == 0 {
		seed = deriveSeed(goal, datasetKey)
	}

	start := a.now()
	evalRun, err := a.evaluator.Evaluate(ctx, goal, datasetKey, seed, thresholds)
	a.evalDuration.Record(ctx, a.now().Sub(start).Seconds(),
		metric.WithAttributes(attribute.Bool("error", err != nil)))
	if err != nil {
		return model.EvaluateResult{}, err
	}

	return model.EvaluateResult{
		EvalID:    evalRun.ID,
		Scorecard: evalRun.Scorecard,
		Passed:    evalRun.Scorecard.Passed,
		Artifacts: evalRun.Cases,
	}, nil
}

// CreateSchedule registers a new autopilot schedule.
func (a *Agent) CreateSchedule(ctx context.Context, req model.CreateScheduleRequest) (model.Schedule, error) {
	return a.scheduler.Create(ctx, req)
}

// UpdateSchedule patches an existing schedule.
func (a *Agent) UpdateSchedule(ctx context.Context, id uuid.UUID, patch model.SchedulePatch) (model.Schedule, error) {
	return a.scheduler.Update(ctx, id, patch)
}

// RunScheduleNow triggers one immediate firing, clamped to PROPOSE.
func (a *Agent) RunScheduleNow(ctx context.Context, id uuid.UUID) (model.RunAgentResult, error) {
	return a.scheduler.RunNow(ctx, id)
}

// Presets lists the available preset keys.
func (a *Agent) Presets() []string {
	return a.presets.Keys()
}

// deriveSeed gives unseeded evaluations a stable default so repeated calls
// with the same goal and dataset stay comparable.
func deriveSeed(goal, datasetKey string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(goal))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(datasetKey))
	return int64(h.Sum64() & (1<<63 - 1))
}
