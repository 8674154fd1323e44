package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

func TestKeywordAnalyzer(t *testing.T) {
	a := KeywordAnalyzer{}

	cases := []struct {
		goal string
		want []model.ToolCategory
	}{
		{"forecast demand for Q4", []model.ToolCategory{model.CategoryForecasting}},
		{"reduce working capital", []model.ToolCategory{model.CategoryFinance}},
		{"FX shock on GBP", []model.ToolCategory{model.CategoryFinance, model.CategoryPlanning}},
		{"board report on stock", []model.ToolCategory{model.CategoryOptimization, model.CategoryReporting}},
		{"nothing matches here", nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, a.Analyze(tc.goal), tc.goal)
	}
}

func TestBuildPlanDriftTemplate(t *testing.T) {
	p := NewPlanner(tool.NewBuiltinRegistry(), nil)
	built, err := p.BuildPlan("drift watch over 60 days", model.Scope{}, testOperatorPolicy())
	require.NoError(t, err)
	require.Len(t, built.Steps, 2)
	assert.Equal(t, tool.ToolDiagDrift, built.Steps[0].ToolID)
	assert.Equal(t, tool.ToolDiagAccuracy, built.Steps[1].ToolID)
	assert.Equal(t, []int{0}, built.Steps[1].DependsOn)
	assert.Equal(t, 60, built.Steps[0].Params["lookback_days"])
}

func TestBuildPlanFXTemplate(t *testing.T) {
	p := NewPlanner(tool.NewBuiltinRegistry(), nil)
	built, err := p.BuildPlan("FX shock scenario for USD exposure", model.Scope{}, testOperatorPolicy())
	require.NoError(t, err)
	require.Len(t, built.Steps, 2)
	assert.Equal(t, tool.ToolFXScenario, built.Steps[0].ToolID)
	assert.Equal(t, tool.ToolFXExposure, built.Steps[1].ToolID)
}

func TestBuildPlanAppendsReportWhenAsked(t *testing.T) {
	p := NewPlanner(tool.NewBuiltinRegistry(), nil)
	built, err := p.BuildPlan("drift watch with a board report", model.Scope{}, testOperatorPolicy())
	require.NoError(t, err)
	last := built.Steps[len(built.Steps)-1]
	assert.Equal(t, tool.ToolReportGenerate, last.ToolID)
}

func TestBuildPlanFailsFastOverMaxSteps(t *testing.T) {
	p := NewPlanner(tool.NewBuiltinRegistry(), nil)
	pol := testOperatorPolicy()
	pol.MaxSteps = 1

	_, err := p.BuildPlan("Protect service (30 days)", model.Scope{}, pol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy allows 1")
}

func TestBuildPlanFailsFastOverDurationBudget(t *testing.T) {
	p := NewPlanner(tool.NewBuiltinRegistry(), nil)
	pol := testOperatorPolicy()
	pol.WallClock = 10 * time.Second

	_, err := p.BuildPlan("Protect service (30 days)", model.Scope{}, pol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wall-clock budget")
}

func TestBuildPlanDependenciesPointBackward(t *testing.T) {
	p := NewPlanner(tool.NewBuiltinRegistry(), nil)
	built, err := p.BuildPlan("Protect service with ≤£500,000 WC (90 days)", model.Scope{}, testOperatorPolicy())
	require.NoError(t, err)
	for _, s := range built.Steps {
		for _, dep := range s.DependsOn {
			assert.Less(t, dep, s.Index, "step %d", s.Index)
			assert.GreaterOrEqual(t, dep, 0)
		}
	}
}

func TestTopoSortKeepsIndependentOrder(t *testing.T) {
	steps := []model.Step{
		{ToolID: "a", Params: map[string]any{"n": 1}},
		{ToolID: "b", Params: map[string]any{"n": 2}, DependsOn: []int{0}},
		{ToolID: "c", Params: map[string]any{"n": 3}},
	}
	sorted := topoSort(steps)
	require.Len(t, sorted, 3)
	assert.Equal(t, "a", sorted[0].ToolID)
	assert.Equal(t, "b", sorted[1].ToolID)
	assert.Equal(t, "c", sorted[2].ToolID)
}

func TestTopoSortReordersForwardDeclaration(t *testing.T) {
	// Step 0 depends on step 1: the sort must put 1 first and remap.
	steps := []model.Step{
		{ToolID: "dependent", Params: map[string]any{"n": 1}, DependsOn: []int{1}},
		{ToolID: "upstream", Params: map[string]any{"n": 2}},
	}
	sorted := topoSort(steps)
	require.Len(t, sorted, 2)
	assert.Equal(t, "upstream", sorted[0].ToolID)
	assert.Equal(t, "dependent", sorted[1].ToolID)
	assert.Equal(t, []int{0}, sorted[1].DependsOn)
}

func TestDedupeSteps(t *testing.T) {
	steps := []model.Step{
		{ToolID: "a", Params: map[string]any{"x": 1}},
		{ToolID: "a", Params: map[string]any{"x": 1}},
		{ToolID: "a", Params: map[string]any{"x": 2}},
	}
	out := dedupeSteps(steps)
	assert.Len(t, out, 2, "identical (tool, params) pairs collapse")
}

func TestParseGoalNumbers(t *testing.T) {
	assert.Equal(t, 90, parseHorizonDays("Protect service (90 days)"))
	assert.Equal(t, 90, parseHorizonDays("no horizon mentioned"))
	assert.Equal(t, 1_000_000.0, parseAmount("keep WC under £1,000,000 please"))
	assert.Equal(t, 0.0, parseAmount("no amount"))
}

func TestProjectOutcomesCoversPlanCategories(t *testing.T) {
	p := NewPlanner(tool.NewBuiltinRegistry(), nil)
	built, err := p.BuildPlan("Protect service (90 days)", model.Scope{}, testOperatorPolicy())
	require.NoError(t, err)

	projected := p.ProjectOutcomes(built)
	assert.Contains(t, projected, "forecast")
	assert.Contains(t, projected, "stock")
	assert.Contains(t, projected, "working_capital")
}
