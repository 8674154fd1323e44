// Package plan validates candidate plans against safety policy before any
// tool runs. Validation fails closed: one hard error invalidates the whole
// plan; warnings never block.
package plan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/policy"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

// Rule codes, in the order they are evaluated per step.
const (
	RuleUnknownTool             = "UNKNOWN_TOOL"
	RuleEmptyParams             = "EMPTY_PARAMS"
	RuleHorizonCap              = "HORIZON_CAP"
	RuleWCCap                   = "WC_CAP"
	RulePctBounds               = "PCT_BOUNDS"
	RuleMutatingWithoutApproval = "MUTATING_WITHOUT_APPROVAL"
	RuleEntityScope             = "ENTITY_SCOPE"
	RuleFreezeWindow            = "FREEZE_WINDOW"
	RuleStepSequence            = "STEP_SEQUENCE"
	RuleMaxSteps                = "MAX_STEPS"
	RuleDurationBudget          = "DURATION_BUDGET"
	RuleRepeatedTool            = "REPEATED_TOOL"
	RuleRiskyCombination        = "RISKY_COMBINATION"
)

// stepDurationEstimate is the fixed planning-time cost per tool category.
var stepDurationEstimate = map[model.ToolCategory]time.Duration{
	model.CategoryForecasting:  30 * time.Second,
	model.CategoryOptimization: 45 * time.Second,
	model.CategoryFinance:      20 * time.Second,
	model.CategoryPlanning:     15 * time.Second,
	model.CategoryReporting:    10 * time.Second,
	model.CategoryDiagnostics:  20 * time.Second,
}

// riskyPairs flags tool combinations worth a human look before execution.
var riskyPairs = [][2]string{
	{tool.ToolStockOptimize, tool.ToolFXScenario},
	{tool.ToolStockOptimize, tool.ToolDiagDrift},
}

// Request carries everything validation needs besides the plan itself.
type Request struct {
	Plan             model.Plan
	Scope            model.Scope
	Mode             model.Mode
	Policy           model.Policy
	HasApprovalToken bool
}

// Result is the validation outcome. Plan is the normalized plan: numeric
// parameters clamped, scope injected, steps capped to the policy maximum.
type Result struct {
	Plan     model.Plan
	Errors   []*model.ValidationError
	Warnings []string
}

// Valid reports whether the plan may proceed.
func (r Result) Valid() bool { return len(r.Errors) == 0 }

// Validator runs the ordered rule set over candidate plans.
type Validator struct {
	catalog tool.Catalog
	guard   *policy.Guard
}

// NewValidator wires a validator over the tool catalog and policy guard.
func NewValidator(catalog tool.Catalog, guard *policy.Guard) *Validator {
	return &Validator{catalog: catalog, guard: guard}
}

// Validate applies every step rule in order, then the plan-level checks.
func (v *Validator) Validate(ctx context.Context, req Request) Result {
	res := Result{Plan: req.Plan}
	res.Plan.Steps = append([]model.Step(nil), req.Plan.Steps...)

	// Plan-level normalization first: steps beyond the policy maximum are
	// dropped rather than rejected. Dependencies only point backward, so a
	// truncated suffix never orphans a kept step.
	if max := req.Policy.MaxSteps; max > 0 && len(res.Plan.Steps) > max {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%s: plan had %d steps, truncated to the policy maximum of %d", RuleMaxSteps, len(res.Plan.Steps), max))
		res.Plan.Steps = res.Plan.Steps[:max]
	}

	planMutating := false
	for i := range res.Plan.Steps {
		step := &res.Plan.Steps[i]

		desc, known := v.catalog.Describe(step.ToolID)
		if !known {
			res.fail(RuleUnknownTool, step.Index, fmt.Sprintf("tool %q is not in the catalog", step.ToolID))
			continue
		}
		if err := v.guard.CheckToolAllowed(ctx, req.Policy, step.ToolID); err != nil {
			res.fail(RuleUnknownTool, step.Index, err.Error())
			continue
		}

		if len(step.Params) == 0 {
			res.fail(RuleEmptyParams, step.Index, fmt.Sprintf("step %d (%s) has no parameters", step.Index, step.ToolID))
			continue
		}

		clamped, notes, err := v.guard.ValidateToolParams(step.ToolID, step.Params, req.Policy)
		if err != nil {
			res.fail(ruleForParamError(step.ToolID), step.Index, err.Error())
			continue
		}
		step.Params = clamped
		for _, n := range notes {
			res.Warnings = append(res.Warnings, ruleForClampNote(n)+": "+n)
		}

		if desc.Mutating {
			planMutating = true
			step.RequiresApproval = true
			if !req.HasApprovalToken {
				msg := fmt.Sprintf("step %d (%s) mutates state and no approval token was supplied", step.Index, step.ToolID)
				if req.Mode == model.ModeDryRun {
					res.Warnings = append(res.Warnings, RuleMutatingWithoutApproval+": "+msg)
				} else {
					res.fail(RuleMutatingWithoutApproval, step.Index, msg)
				}
			}
		}

		if err := checkEntityScope(step, req.Scope); err != nil {
			res.fail(RuleEntityScope, step.Index, err.Error())
		}

		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= step.Index {
				res.fail(RuleStepSequence, step.Index, fmt.Sprintf(
					"step %d depends on step %d; dependencies must point at strictly earlier steps", step.Index, dep))
			}
		}
	}

	if planMutating {
		if err := v.guard.CheckFreezeWindow(ctx, true); err != nil {
			res.fail(RuleFreezeWindow, -1, err.Error())
		}
	}

	v.checkCumulative(&res, req)
	res.Plan.Warnings = res.Warnings
	return res
}

// checkCumulative applies the plan-level constraints after per-step rules.
func (v *Validator) checkCumulative(res *Result, req Request) {
	var estimated time.Duration
	seen := make(map[string]int)
	for _, step := range res.Plan.Steps {
		if desc, ok := v.catalog.Describe(step.ToolID); ok {
			if d, ok := stepDurationEstimate[desc.Category]; ok {
				estimated += d
			} else {
				estimated += 20 * time.Second
			}
		}
		seen[step.ToolID]++
	}
	res.Plan.EstimatedDuration = estimated

	if budget := req.Policy.WallClock; budget > 0 && estimated > budget {
		res.fail(RuleDurationBudget, -1, fmt.Sprintf(
			"estimated duration %s exceeds the wall-clock budget %s", estimated, budget))
	}

	for toolID, count := range seen {
		if count > 2 {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"%s: tool %s appears %d times, check the plan for a loop", RuleRepeatedTool, toolID, count))
		}
	}

	for _, pair := range riskyPairs {
		if seen[pair[0]] > 0 && seen[pair[1]] > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"%s: running %s together with %s deserves a human look before execution",
				RuleRiskyCombination, pair[0], pair[1]))
		}
	}
}

// checkEntityScope pins step parameters to the run's scope. A missing
// entity or region parameter inherits the scope value; a conflicting one
// is an error.
func checkEntityScope(step *model.Step, scope model.Scope) error {
	if err := pinScopeParam(step, "entity_id", scope.EntityID); err != nil {
		return err
	}
	return pinScopeParam(step, "region", scope.Region)
}

func pinScopeParam(step *model.Step, key string, want *string) error {
	if want == nil {
		return nil
	}
	got, present := step.Params[key]
	if !present {
		step.Params[key] = *want
		return nil
	}
	s, ok := got.(string)
	if !ok || s != *want {
		return fmt.Errorf("step %d (%s) targets %s=%v outside the run scope %q", step.Index, step.ToolID, key, got, *want)
	}
	return nil
}

func (r *Result) fail(rule string, stepIndex int, msg string) {
	r.Errors = append(r.Errors, &model.ValidationError{Rule: rule, StepIndex: stepIndex, Message: msg})
}

// ruleForParamError picks the rule code naming the violated bound.
func ruleForParamError(toolID string) string {
	switch toolID {
	case tool.ToolWCProject:
		return RuleWCCap
	case tool.ToolStockOptimize, tool.ToolFXScenario, tool.ToolFXExposure:
		return RulePctBounds
	default:
		return RuleHorizonCap
	}
}

func ruleForClampNote(note string) string {
	switch {
	case strings.Contains(note, "horizon_days") || strings.Contains(note, "lookback_days"):
		return RuleHorizonCap
	case strings.Contains(note, "wc_cap") || strings.Contains(note, "min_cash"):
		return RuleWCCap
	default:
		return RulePctBounds
	}
}
