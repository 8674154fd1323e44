package plan

import (
	"context"
	"fmt"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

// LintResult is a validation result plus improvement suggestions.
type LintResult struct {
	Result
	Suggestions []string
}

// Lint validates the plan and additionally suggests improvements that are
// not violations: ordering hints, missing companion steps, missing exports.
func (v *Validator) Lint(ctx context.Context, req Request) LintResult {
	out := LintResult{Result: v.Validate(ctx, req)}

	firstIndex := make(map[string]int)
	for _, step := range out.Plan.Steps {
		if _, seen := firstIndex[step.ToolID]; !seen {
			firstIndex[step.ToolID] = step.Index
		}
	}

	if opt, ok := firstIndex[tool.ToolStockOptimize]; ok {
		fc, hasForecast := firstIndex[tool.ToolForecastRun]
		if !hasForecast || fc > opt {
			out.Suggestions = append(out.Suggestions,
				"run a forecast before optimization so reorder points reflect projected demand")
		}
		if _, hasWC := firstIndex[tool.ToolWCProject]; !hasWC {
			out.Suggestions = append(out.Suggestions,
				"add a working-capital projection after stock changes to confirm the cash impact")
		}
	}

	if _, ok := firstIndex[tool.ToolFXScenario]; ok {
		if _, hasExposure := firstIndex[tool.ToolFXExposure]; !hasExposure {
			out.Suggestions = append(out.Suggestions,
				"follow the FX scenario with an exposure analysis to quantify the hedging gap")
		}
	}

	if len(out.Plan.Steps) > 2 {
		if _, ok := firstIndex[tool.ToolReportGenerate]; !ok {
			out.Suggestions = append(out.Suggestions, fmt.Sprintf(
				"a %d-step plan benefits from a closing %s step for the audit trail",
				len(out.Plan.Steps), tool.ToolReportGenerate))
		}
	}

	return out
}
