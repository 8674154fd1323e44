package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/auth"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/eval"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/policy"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/preset"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/safety"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/storage"
)

type memApprovals struct {
	mu      sync.Mutex
	records []model.Approval
}

func (m *memApprovals) CreateApproval(_ context.Context, a model.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, a)
	return nil
}

func (m *memApprovals) last() model.Approval {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[len(m.records)-1]
}

type emptyPolicyStore struct{}

func (emptyPolicyStore) GetPolicy(context.Context, model.Role) (model.Policy, error) {
	return model.Policy{}, storage.ErrNotFound
}

func (emptyPolicyStore) GetApproval(context.Context, uuid.UUID, int) (model.Approval, error) {
	return model.Approval{}, storage.ErrNotFound
}

type memEvalStore struct{}

func (memEvalStore) CreateEvalRun(context.Context, model.EvalRun) error { return nil }

type memSafetyStore struct {
	mu     sync.Mutex
	counts map[model.SafetyCounter]int64
}

func (m *memSafetyStore) IncrementSafetyCounter(_ context.Context, _ string, counter model.SafetyCounter, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[model.SafetyCounter]int64)
	}
	m.counts[counter] += delta
	return nil
}

func (m *memSafetyStore) GetSafetyMetrics(_ context.Context, period string) (model.SafetyMetrics, error) {
	return model.SafetyMetrics{Period: period}, nil
}

func (m *memSafetyStore) count(counter model.SafetyCounter) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[counter]
}

func newTestAgent(t *testing.T) (*Agent, *memApprovals, *memSafetyStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	metrics := &memSafetyStore{}
	recorder := safety.NewRecorder(metrics, logger)

	stepUp, err := auth.NewStepUpManager("", "")
	require.NoError(t, err)
	guard, err := policy.NewGuard(emptyPolicyStore{}, stepUp, recorder, policy.Overrides{}, nil, logger)
	require.NoError(t, err)

	evaluator := eval.New(eval.NewDatasetStore(""), memEvalStore{}, logger)
	approvals := &memApprovals{}

	agent, err := New(nil, nil, evaluator, guard, preset.NewStore(""), approvals, recorder, logger)
	require.NoError(t, err)
	return agent, approvals, metrics
}

func TestApproveStepGrantsVerifiableToken(t *testing.T) {
	agent, approvals, _ := newTestAgent(t)

	runID := uuid.New()
	result, err := agent.ApproveStep(context.Background(), ApproveStepRequest{
		RunID:      runID,
		StepIndex:  1,
		ApproverID: "cfo@example.com",
		Decision:   model.ApprovalGranted,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	assert.False(t, result.ExpiresAt.IsZero())

	stored := approvals.last()
	assert.Equal(t, runID, stored.RunID)
	assert.Equal(t, 1, stored.StepIndex)
	assert.Equal(t, model.ApprovalGranted, stored.Decision)

	// Only the hash is stored, and it verifies the returned token.
	assert.NotEqual(t, result.Token, stored.TokenHash)
	ok, err := auth.VerifyTokenHash(result.Token, stored.TokenHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApproveStepRejectionMintsNoToken(t *testing.T) {
	agent, approvals, _ := newTestAgent(t)

	result, err := agent.ApproveStep(context.Background(), ApproveStepRequest{
		RunID:      uuid.New(),
		StepIndex:  0,
		ApproverID: "cfo@example.com",
		Decision:   model.ApprovalRejected,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Token)

	stored := approvals.last()
	assert.Equal(t, model.ApprovalRejected, stored.Decision)
	assert.Empty(t, stored.TokenHash)
}

func TestApproveStepRecordsDecisionCounters(t *testing.T) {
	agent, _, metrics := newTestAgent(t)
	ctx := context.Background()

	_, err := agent.ApproveStep(ctx, ApproveStepRequest{
		RunID:      uuid.New(),
		StepIndex:  0,
		ApproverID: "cfo@example.com",
		Decision:   model.ApprovalGranted,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, metrics.count(model.CounterApprovalsRequested), "granting mints a token, which counts as a request")
	assert.EqualValues(t, 1, metrics.count(model.CounterApprovalsGranted))
	assert.EqualValues(t, 0, metrics.count(model.CounterApprovalsRejected))

	_, err = agent.ApproveStep(ctx, ApproveStepRequest{
		RunID:      uuid.New(),
		StepIndex:  0,
		ApproverID: "cfo@example.com",
		Decision:   model.ApprovalRejected,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, metrics.count(model.CounterApprovalsGranted))
	assert.EqualValues(t, 1, metrics.count(model.CounterApprovalsRejected))
}

func TestApproveStepValidation(t *testing.T) {
	agent, _, _ := newTestAgent(t)
	ctx := context.Background()

	_, err := agent.ApproveStep(ctx, ApproveStepRequest{StepIndex: 0, Decision: model.ApprovalGranted})
	assert.ErrorContains(t, err, "approver id")

	_, err = agent.ApproveStep(ctx, ApproveStepRequest{ApproverID: "a", StepIndex: -1})
	assert.ErrorContains(t, err, "step index")

	_, err = agent.ApproveStep(ctx, ApproveStepRequest{ApproverID: "a", StepIndex: 0, Decision: "maybe"})
	assert.ErrorContains(t, err, "unknown decision")
}

func TestEvaluateResolvesPreset(t *testing.T) {
	agent, _, _ := newTestAgent(t)

	result, err := agent.Evaluate(context.Background(), model.EvaluateRequest{
		PresetKey: "protect-service",
		Seed:      42,
	})
	require.NoError(t, err)
	assert.NotZero(t, result.EvalID)
	assert.NotEmpty(t, result.Artifacts)
	assert.NotEmpty(t, result.Scorecard.Categories)
}

func TestEvaluateThresholdOverrideWins(t *testing.T) {
	agent, _, _ := newTestAgent(t)

	// An impossible forecast bar guarantees a failed criterion regardless
	// of the simulated outcome.
	impossible := model.Thresholds{ForecastMinAccuracyDelta: 0.99}
	result, err := agent.Evaluate(context.Background(), model.EvaluateRequest{
		Goal:       "Improve the demand forecast",
		Thresholds: &impossible,
		Seed:       42,
	})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Scorecard.FailedCriteria)
	assert.Equal(t, 0.99, result.Scorecard.FailedCriteria[0].Required)
}

func TestEvaluateWithoutGoalOrPresetRejected(t *testing.T) {
	agent, _, _ := newTestAgent(t)
	_, err := agent.Evaluate(context.Background(), model.EvaluateRequest{})
	assert.ErrorContains(t, err, "needs a goal or a preset")
}

func TestEvaluateDefaultSeedIsStable(t *testing.T) {
	agent, _, _ := newTestAgent(t)
	req := model.EvaluateRequest{Goal: "Improve the demand forecast"}

	first, err := agent.Evaluate(context.Background(), req)
	require.NoError(t, err)
	second, err := agent.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Scorecard, second.Scorecard, "unseeded evaluations of the same goal must agree")
}
