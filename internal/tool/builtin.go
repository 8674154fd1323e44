package tool

import (
	"context"
	"fmt"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

// Builtin tool ids. The real accounting/e-commerce/AI integrations are
// external collaborators; these handlers produce deterministic projected
// outputs so the engine runs end to end without them.
const (
	ToolForecastRun    = "forecast.run"
	ToolStockOptimize  = "stock.optimize"
	ToolWCProject      = "wc.project"
	ToolFXScenario     = "fx.scenario"
	ToolFXExposure     = "fx.exposure"
	ToolDiagAccuracy   = "diag.accuracy"
	ToolDiagDrift      = "diag.drift"
	ToolReportGenerate = "report.generate"
)

// NewBuiltinRegistry returns a registry populated with the stand-in
// manufacturing/finance connectors. The table is static, so a registration
// failure is a programming error and panics at startup.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()

	builtins := []struct {
		desc Descriptor
		h    HandlerFunc
	}{
		{
			Descriptor{ID: ToolForecastRun, Category: model.CategoryForecasting, Description: "Run a demand forecast over the configured horizon."},
			forecastRun,
		},
		{
			Descriptor{ID: ToolStockOptimize, Category: model.CategoryOptimization, Mutating: true, Description: "Optimize stock levels and propose replenishment orders."},
			stockOptimize,
		},
		{
			Descriptor{ID: ToolWCProject, Category: model.CategoryFinance, Description: "Project working capital against the configured cap."},
			wcProject,
		},
		{
			Descriptor{ID: ToolFXScenario, Category: model.CategoryPlanning, Description: "Generate FX shock scenarios."},
			fxScenario,
		},
		{
			Descriptor{ID: ToolFXExposure, Category: model.CategoryFinance, Description: "Quantify FX exposure under the generated scenarios."},
			fxExposure,
		},
		{
			Descriptor{ID: ToolDiagAccuracy, Category: model.CategoryDiagnostics, Description: "Report forecast accuracy trend."},
			diagAccuracy,
		},
		{
			Descriptor{ID: ToolDiagDrift, Category: model.CategoryDiagnostics, Description: "Detect demand drift against the trained baseline."},
			diagDrift,
		},
		{
			Descriptor{ID: ToolReportGenerate, Category: model.CategoryReporting, Description: "Assemble a summary report from earlier step outputs."},
			reportGenerate,
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.desc, b.h); err != nil {
			panic(fmt.Sprintf("tool: builtin registration: %v", err))
		}
	}
	return r
}

func numParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

func forecastRun(_ context.Context, params map[string]any, _ InvokeContext) (map[string]any, error) {
	horizon := numParam(params, "horizon_days", 90)
	// Longer horizons dilute accuracy gains.
	improvement := 0.08 - horizon/10000
	if improvement < 0.01 {
		improvement = 0.01
	}
	return map[string]any{
		"horizon_days":     horizon,
		"mape_improvement": improvement,
		"recommendations": []string{
			fmt.Sprintf("refresh the %d-day forecast weekly", int(horizon)),
		},
	}, nil
}

func stockOptimize(_ context.Context, params map[string]any, _ InvokeContext) (map[string]any, error) {
	target := numParam(params, "service_level", 0.95)
	return map[string]any{
		"service_level":     target + 0.01,
		"stockouts_avoided": 12.0,
		"order_qty":         numParam(params, "order_qty", 10_000),
		"recommendations": []string{
			"increase safety stock on top-decile SKUs",
		},
	}, nil
}

func wcProject(_ context.Context, params map[string]any, _ InvokeContext) (map[string]any, error) {
	cap := numParam(params, "wc_cap", 1_000_000)
	return map[string]any{
		"wc_cap":         cap,
		"wc_delta":       -0.06 * cap,
		"min_cash_delta": 15_000.0,
		"cap_breach":     0.0,
	}, nil
}

func fxScenario(_ context.Context, params map[string]any, _ InvokeContext) (map[string]any, error) {
	shock := numParam(params, "shock_pct", 0.1)
	return map[string]any{
		"scenario_count": 3.0,
		"shock_pct":      shock,
	}, nil
}

func fxExposure(_ context.Context, _ map[string]any, _ InvokeContext) (map[string]any, error) {
	return map[string]any{
		"exposure_reduction": 0.18,
		"recommendations":    []string{"hedge EUR receivables past 60 days"},
	}, nil
}

func diagAccuracy(_ context.Context, _ map[string]any, _ InvokeContext) (map[string]any, error) {
	return map[string]any{
		"mape_trend":      -0.012,
		"recommendations": []string{"retrain the slow movers segment"},
	}, nil
}

func diagDrift(_ context.Context, _ map[string]any, _ InvokeContext) (map[string]any, error) {
	return map[string]any{
		"drift_detected": 0.0,
		"drift_score":    0.21,
	}, nil
}

func reportGenerate(_ context.Context, params map[string]any, _ InvokeContext) (map[string]any, error) {
	sections := numParam(params, "sections", 4)
	return map[string]any{
		"sections":        sections,
		"recommendations": []string{"share the board pack with finance"},
	}, nil
}
