package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

func TestClampHorizonToNearestBound(t *testing.T) {
	clamps := model.DefaultClamps()

	out, notes, err := ClampParams(tool.ToolForecastRun, map[string]any{"horizon_days": 400}, clamps)
	require.NoError(t, err)
	assert.Equal(t, 180, out["horizon_days"])
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "clamped from 400 to 180")
}

func TestClampIdempotent(t *testing.T) {
	clamps := model.DefaultClamps()
	params := map[string]any{"horizon_days": 90}

	once, notes, err := ClampParams(tool.ToolForecastRun, params, clamps)
	require.NoError(t, err)
	assert.Empty(t, notes, "in-range value must pass through unchanged")
	assert.Equal(t, 90, once["horizon_days"])

	twice, notes, err := ClampParams(tool.ToolForecastRun, once, clamps)
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, once, twice)
}

func TestClampClampedValueIsStable(t *testing.T) {
	clamps := model.DefaultClamps()

	once, _, err := ClampParams(tool.ToolForecastRun, map[string]any{"horizon_days": 400}, clamps)
	require.NoError(t, err)
	twice, notes, err := ClampParams(tool.ToolForecastRun, once, clamps)
	require.NoError(t, err)
	assert.Empty(t, notes, "clamping twice must be a no-op")
	assert.Equal(t, once, twice)
}

func TestClampPercentageBounds(t *testing.T) {
	clamps := model.DefaultClamps()

	out, _, err := ClampParams(tool.ToolStockOptimize, map[string]any{"service_level": 1.4}, clamps)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out["service_level"])

	out, _, err = ClampParams(tool.ToolStockOptimize, map[string]any{"service_level": -0.2}, clamps)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out["service_level"])
}

func TestClampWCCapAndCashFloor(t *testing.T) {
	clamps := model.DefaultClamps()

	out, _, err := ClampParams(tool.ToolWCProject, map[string]any{
		"wc_cap":   5_000_000.0,
		"min_cash": 10_000.0,
	}, clamps)
	require.NoError(t, err)
	assert.Equal(t, 2_000_000.0, out["wc_cap"], "cap clamps down to the policy max")
	assert.Equal(t, 50_000.0, out["min_cash"], "floor clamps up to the policy minimum")
}

func TestClampRejectsNonNumeric(t *testing.T) {
	clamps := model.DefaultClamps()

	_, _, err := ClampParams(tool.ToolForecastRun, map[string]any{"horizon_days": "ninety"}, clamps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be numeric")
}

func TestClampIgnoresUnknownToolsAndParams(t *testing.T) {
	clamps := model.DefaultClamps()

	params := map[string]any{"whatever": "free-form"}
	out, notes, err := ClampParams(tool.ToolReportGenerate, params, clamps)
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, params, out)
}

func TestClampDoesNotMutateInput(t *testing.T) {
	clamps := model.DefaultClamps()
	params := map[string]any{"horizon_days": 400}

	_, _, err := ClampParams(tool.ToolForecastRun, params, clamps)
	require.NoError(t, err)
	assert.Equal(t, 400, params["horizon_days"], "caller's map stays untouched")
}
