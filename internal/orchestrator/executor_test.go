package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/auth"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/policy"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

func newTestExecutor(t *testing.T, catalog tool.Catalog, store InvocationStore) *Executor {
	t.Helper()
	stepUp, err := auth.NewStepUpManager("", "")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	guard, err := policy.NewGuard(newMemStore(), stepUp, nil, policy.Overrides{}, nil, logger)
	require.NoError(t, err)

	e := NewExecutor(catalog, guard, store, logger)
	e.retryBase = time.Millisecond
	return e
}

func flakyCatalog(t *testing.T, failures int) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	calls := 0
	err := r.Register(
		tool.Descriptor{ID: "flaky.tool", Category: model.CategoryDiagnostics},
		tool.HandlerFunc(func(context.Context, map[string]any, tool.InvokeContext) (map[string]any, error) {
			calls++
			if calls <= failures {
				return nil, errors.New("upstream down")
			}
			return map[string]any{"ok": true}, nil
		}))
	require.NoError(t, err)
	return r
}

func TestExecutorRetriesUntilSuccess(t *testing.T) {
	store := newMemStore()
	e := newTestExecutor(t, flakyCatalog(t, 2), store)

	run := model.Run{
		ID:      uuid.New(),
		Budgets: model.Budgets{ToolRetryMax: 3},
		Steps: []model.Step{
			{Index: 0, ToolID: "flaky.tool", Params: map[string]any{"x": 1}, Status: model.StepStatusPending},
		},
	}
	require.NoError(t, e.Execute(context.Background(), &run, model.Policy{}))

	assert.Equal(t, model.StepStatusCompleted, run.Steps[0].Status)
	require.Len(t, store.invocations, 3, "every attempt is audited")
	assert.Equal(t, model.InvocationStatusFailed, store.invocations[0].Status)
	assert.Equal(t, model.InvocationStatusFailed, store.invocations[1].Status)
	assert.Equal(t, model.InvocationStatusSucceeded, store.invocations[2].Status)
	assert.Equal(t, 3, store.invocations[2].Attempt)
}

func TestExecutorSurfacesExhaustedRetries(t *testing.T) {
	store := newMemStore()
	e := newTestExecutor(t, flakyCatalog(t, 10), store)

	run := model.Run{
		ID:      uuid.New(),
		Budgets: model.Budgets{ToolRetryMax: 2},
		Steps: []model.Step{
			{Index: 0, ToolID: "flaky.tool", Params: map[string]any{"x": 1}, Status: model.StepStatusPending},
		},
	}
	require.NoError(t, e.Execute(context.Background(), &run, model.Policy{}), "step failures are step-scoped")

	assert.Equal(t, model.StepStatusFailed, run.Steps[0].Status)
	require.NotNil(t, run.Steps[0].Error)
	assert.Contains(t, *run.Steps[0].Error, "failed after 2 attempts")
	assert.Len(t, store.invocations, 2)
}

func TestExecutorBlocksDependentsOfFailedStep(t *testing.T) {
	store := newMemStore()
	r := flakyCatalog(t, 10)
	err := r.Register(
		tool.Descriptor{ID: "steady.tool", Category: model.CategoryReporting},
		tool.HandlerFunc(func(context.Context, map[string]any, tool.InvokeContext) (map[string]any, error) {
			return map[string]any{"done": true}, nil
		}))
	require.NoError(t, err)
	e := newTestExecutor(t, r, store)

	run := model.Run{
		ID:      uuid.New(),
		Budgets: model.Budgets{ToolRetryMax: 1},
		Steps: []model.Step{
			{Index: 0, ToolID: "flaky.tool", Params: map[string]any{"x": 1}, Status: model.StepStatusPending},
			{Index: 1, ToolID: "steady.tool", Params: map[string]any{"x": 1}, DependsOn: []int{0}, Status: model.StepStatusPending},
			{Index: 2, ToolID: "steady.tool", Params: map[string]any{"x": 2}, Status: model.StepStatusPending},
		},
	}
	require.NoError(t, e.Execute(context.Background(), &run, model.Policy{}))

	assert.Equal(t, model.StepStatusFailed, run.Steps[0].Status)
	assert.Equal(t, model.StepStatusFailed, run.Steps[1].Status, "dependent of a failed step is blocked")
	require.NotNil(t, run.Steps[1].Error)
	assert.Contains(t, *run.Steps[1].Error, "dependency not satisfied")
	assert.Equal(t, model.StepStatusCompleted, run.Steps[2].Status, "independent step still runs")
}

func TestExecutorEnforcesToolBudget(t *testing.T) {
	store := newMemStore()
	r := tool.NewRegistry()
	err := r.Register(
		tool.Descriptor{ID: "cheap.tool", Category: model.CategoryDiagnostics},
		tool.HandlerFunc(func(context.Context, map[string]any, tool.InvokeContext) (map[string]any, error) {
			return map[string]any{"done": true}, nil
		}))
	require.NoError(t, err)
	e := newTestExecutor(t, r, store)

	run := model.Run{
		ID:      uuid.New(),
		Budgets: model.Budgets{ToolRetryMax: 1},
		Steps: []model.Step{
			{Index: 0, ToolID: "cheap.tool", Params: map[string]any{"x": 1}, Status: model.StepStatusPending},
			{Index: 1, ToolID: "cheap.tool", Params: map[string]any{"x": 2}, Status: model.StepStatusPending},
			{Index: 2, ToolID: "cheap.tool", Params: map[string]any{"x": 3}, Status: model.StepStatusPending},
		},
	}
	pol := model.Policy{ToolBudgets: map[string]int{"cheap.tool": 2}}
	require.NoError(t, e.Execute(context.Background(), &run, pol))

	assert.Equal(t, model.StepStatusCompleted, run.Steps[0].Status)
	assert.Equal(t, model.StepStatusCompleted, run.Steps[1].Status)
	assert.Equal(t, model.StepStatusFailed, run.Steps[2].Status)
	require.NotNil(t, run.Steps[2].Error)
	assert.Contains(t, *run.Steps[2].Error, "budget_exceeded")
}

func TestExecutorWallClockDeadline(t *testing.T) {
	store := newMemStore()
	r := tool.NewRegistry()
	err := r.Register(
		tool.Descriptor{ID: "slow.tool", Category: model.CategoryForecasting},
		tool.HandlerFunc(func(ctx context.Context, _ map[string]any, _ tool.InvokeContext) (map[string]any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return map[string]any{"done": true}, nil
			}
		}))
	require.NoError(t, err)
	e := newTestExecutor(t, r, store)

	run := model.Run{
		ID:      uuid.New(),
		Budgets: model.Budgets{ToolRetryMax: 1},
		Steps: []model.Step{
			{Index: 0, ToolID: "slow.tool", Params: map[string]any{"x": 1}, Status: model.StepStatusPending},
			{Index: 1, ToolID: "slow.tool", Params: map[string]any{"x": 2}, Status: model.StepStatusPending},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	execErr := e.Execute(ctx, &run, model.Policy{})
	require.Error(t, execErr)
	assert.ErrorIs(t, execErr, model.ErrRunTimeout)

	for _, s := range run.Steps {
		assert.Equal(t, model.StepStatusFailed, s.Status, "remaining steps fail with the timeout cause")
	}
}
