package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/auth"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/plan"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/policy"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/storage"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]model.Run
	invocations []model.ToolInvocation
	policies    map[model.Role]model.Policy
	approvals   map[string]model.Approval
}

func newMemStore() *memStore {
	return &memStore{
		runs:      make(map[uuid.UUID]model.Run),
		policies:  make(map[model.Role]model.Policy),
		approvals: make(map[string]model.Approval),
	}
}

func (m *memStore) CreateRun(_ context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memStore) UpdateRun(_ context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memStore) GetRun(_ context.Context, id uuid.UUID) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return model.Run{}, storage.ErrNotFound
	}
	return run, nil
}

func (m *memStore) CreateInvocation(_ context.Context, inv model.ToolInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations = append(m.invocations, inv)
	return nil
}

func (m *memStore) ListInvocations(_ context.Context, runID uuid.UUID) ([]model.ToolInvocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ToolInvocation
	for _, inv := range m.invocations {
		if inv.RunID == runID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) GetPolicy(_ context.Context, role model.Role) (model.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[role]
	if !ok {
		return model.Policy{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetApproval(_ context.Context, runID uuid.UUID, stepIndex int) (model.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[approvalKey(runID, stepIndex)]
	if !ok {
		return model.Approval{}, storage.ErrNotFound
	}
	return a, nil
}

func approvalKey(runID uuid.UUID, stepIndex int) string {
	return runID.String() + "/" + string(rune('a'+stepIndex))
}

func testOperatorPolicy() model.Policy {
	return model.Policy{
		Role: model.RoleOperator,
		AllowedTools: []string{
			tool.ToolForecastRun, tool.ToolStockOptimize, tool.ToolWCProject,
			tool.ToolFXScenario, tool.ToolFXExposure, tool.ToolDiagAccuracy,
			tool.ToolDiagDrift, tool.ToolReportGenerate,
		},
		DefaultMode: model.ModePropose,
		MaxSteps:    10,
		WallClock:   10 * time.Minute,
		Clamps:      model.DefaultClamps(),
	}
}

func newTestOrchestrator(t *testing.T, store *memStore) (*Orchestrator, *policy.Guard) {
	t.Helper()
	stepUp, err := auth.NewStepUpManager("", "")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	guard, err := policy.NewGuard(store, stepUp, nil, policy.Overrides{}, nil, logger)
	require.NoError(t, err)
	guard.SetClock(func() time.Time { return time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC) })

	catalog := tool.NewBuiltinRegistry()
	validator := plan.NewValidator(catalog, guard)
	return New(catalog, guard, validator, nil, store, nil, logger), guard
}

func TestDryRunProtectServiceScenario(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.policies[model.RoleOperator] = testOperatorPolicy()
	o, _ := newTestOrchestrator(t, store)

	res, err := o.Run(ctx, model.RunAgentRequest{
		Goal:   "Protect service with ≤£1,000,000 WC (90 days)",
		Mode:   model.ModeDryRun,
		UserID: "ops",
		Role:   model.RoleOperator,
	})
	require.NoError(t, err)

	require.Len(t, res.Plan.Steps, 3, "protect-service template is exactly three steps")
	assert.Equal(t, tool.ToolForecastRun, res.Plan.Steps[0].ToolID)
	assert.Equal(t, tool.ToolStockOptimize, res.Plan.Steps[1].ToolID)
	assert.Equal(t, tool.ToolWCProject, res.Plan.Steps[2].ToolID)

	assert.Equal(t, 90, res.Plan.Steps[0].Params["horizon_days"], "horizon parsed from the goal")
	assert.Equal(t, 1_000_000.0, res.Plan.Steps[2].Params["wc_cap"], "cap parsed from the goal")

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.NotEmpty(t, res.Projected, "dry run returns projected outcomes")
	assert.Empty(t, store.invocations, "dry run must not invoke a single tool")
}

func TestExecuteMutatingWithoutApprovalRejected(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.policies[model.RoleOperator] = testOperatorPolicy()
	o, _ := newTestOrchestrator(t, store)

	res, err := o.Run(ctx, model.RunAgentRequest{
		Goal:   "Protect service (30 days)",
		Mode:   model.ModeExecute,
		UserID: "ops",
		Role:   model.RoleOperator,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), plan.RuleMutatingWithoutApproval)

	stored, getErr := store.GetRun(ctx, res.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, model.RunStatusPlanning, stored.Status, "run must not transition past planning")
	assert.Empty(t, store.invocations)
}

func TestExecuteSkipsUnapprovedMutatingStep(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.policies[model.RoleOperator] = testOperatorPolicy()
	o, guard := newTestOrchestrator(t, store)

	// A valid step-up token satisfies validation, but with no approval
	// record the mutating step is skipped rather than executed.
	token, _, err := guard.CreateStepUpToken(ctx, "approver-1", 10*time.Minute)
	require.NoError(t, err)

	res, err := o.Run(ctx, model.RunAgentRequest{
		Goal:          "Protect service (30 days)",
		Mode:          model.ModeExecute,
		UserID:        "ops",
		Role:          model.RoleOperator,
		ApprovalToken: token,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, res.Status)

	byTool := make(map[string]model.Step)
	for _, s := range res.Steps {
		byTool[s.ToolID] = s
	}
	assert.Equal(t, model.StepStatusCompleted, byTool[tool.ToolForecastRun].Status)
	assert.Equal(t, model.StepStatusSkipped, byTool[tool.ToolStockOptimize].Status, "unapproved mutating step is skipped, not failed")
	assert.NotNil(t, res.Reflection)
	assert.NotEmpty(t, res.NextSteps, "a skipped step produces an approval suggestion")
}

func TestApplyApprovalsMarksGrantedStep(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.policies[model.RoleOperator] = testOperatorPolicy()
	o, guard := newTestOrchestrator(t, store)

	token, expiresAt, err := guard.CreateStepUpToken(ctx, "approver-1", 10*time.Minute)
	require.NoError(t, err)
	hash, err := auth.HashToken(token)
	require.NoError(t, err)

	run := model.Run{
		ID:   uuid.New(),
		Mode: model.ModeExecute,
		Steps: []model.Step{
			{Index: 0, ToolID: tool.ToolForecastRun, Status: model.StepStatusPending},
			{Index: 1, ToolID: tool.ToolStockOptimize, RequiresApproval: true, Status: model.StepStatusPending},
		},
	}
	store.mu.Lock()
	store.approvals[approvalKey(run.ID, 1)] = model.Approval{
		ID:         uuid.New(),
		RunID:      run.ID,
		StepIndex:  1,
		ApproverID: "approver-1",
		Decision:   model.ApprovalGranted,
		TokenHash:  hash,
		ExpiresAt:  expiresAt,
	}
	store.mu.Unlock()

	o.applyApprovals(ctx, &run, token)
	assert.Equal(t, model.StepStatusApproved, run.Steps[1].Status)
	assert.Equal(t, model.StepStatusPending, run.Steps[0].Status, "non-mutating steps are untouched")
}

func TestRunEmptyGoalRejected(t *testing.T) {
	store := newMemStore()
	o, _ := newTestOrchestrator(t, store)
	_, err := o.Run(context.Background(), model.RunAgentRequest{Goal: "   ", Mode: model.ModeDryRun})
	require.Error(t, err)
	assert.Empty(t, store.runs, "nothing persisted for an empty goal")
}

func TestRunDefaultsModeFromPolicy(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	o, _ := newTestOrchestrator(t, store)

	// No stored policy: conservative default, DRY_RUN.
	res, err := o.Run(ctx, model.RunAgentRequest{
		Goal:   "forecast demand for the quarter",
		UserID: "viewer",
		Role:   model.RoleViewer,
	})
	require.NoError(t, err)
	stored, err := store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeDryRun, stored.Mode)
	assert.Empty(t, store.invocations)
}

func TestGetRunStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.policies[model.RoleOperator] = testOperatorPolicy()
	o, _ := newTestOrchestrator(t, store)

	res, err := o.Run(ctx, model.RunAgentRequest{
		Goal:   "watch for drift in forecast accuracy (30 days)",
		Mode:   model.ModeExecute,
		UserID: "ops",
		Role:   model.RoleOperator,
	})
	require.NoError(t, err)

	run, invocations, err := o.GetRunStatus(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.NotEmpty(t, invocations, "diagnostics steps executed and were audited")
}
