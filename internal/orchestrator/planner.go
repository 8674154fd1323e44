package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

// GoalAnalyzer maps a free-text goal to capability tags. Pluggable so the
// keyword matcher can be swapped for a structured intent classifier without
// touching the planner.
type GoalAnalyzer interface {
	Analyze(goal string) []model.ToolCategory
}

// KeywordAnalyzer is the default analyzer: plain substring matching over a
// lowercase goal.
type KeywordAnalyzer struct{}

var keywordCategories = []struct {
	keywords []string
	category model.ToolCategory
}{
	{[]string{"forecast", "demand", "service"}, model.CategoryForecasting},
	{[]string{"stock", "inventory", "reorder", "service"}, model.CategoryOptimization},
	{[]string{"working capital", "wc", "cash", "fx", "currency"}, model.CategoryFinance},
	{[]string{"fx", "currency", "scenario", "shock"}, model.CategoryPlanning},
	{[]string{"report", "board", "export"}, model.CategoryReporting},
	{[]string{"drift", "accuracy", "diagnos"}, model.CategoryDiagnostics},
}

// Analyze returns the categories whose keywords appear in the goal, in the
// fixed order of the keyword table.
func (KeywordAnalyzer) Analyze(goal string) []model.ToolCategory {
	g := strings.ToLower(goal)
	var caps []model.ToolCategory
	for _, kc := range keywordCategories {
		for _, kw := range kc.keywords {
			if strings.Contains(g, kw) {
				caps = append(caps, kc.category)
				break
			}
		}
	}
	return caps
}

// Planner assembles a dependency-annotated plan from a goal.
type Planner struct {
	catalog  tool.Catalog
	analyzer GoalAnalyzer
}

// NewPlanner wires a planner over the catalog. analyzer may be nil to use
// the keyword default.
func NewPlanner(catalog tool.Catalog, analyzer GoalAnalyzer) *Planner {
	if analyzer == nil {
		analyzer = KeywordAnalyzer{}
	}
	return &Planner{catalog: catalog, analyzer: analyzer}
}

var (
	horizonPattern = regexp.MustCompile(`(\d+)\s*(?:day|d\b)`)
	amountPattern  = regexp.MustCompile(`[£$€]\s?([\d,]+)`)
)

// BuildPlan maps the goal to a step sequence via workflow templates, then
// dedupes, orders, and bounds the result. Validation failures here abort
// before any tool runs.
func (p *Planner) BuildPlan(goal string, scope model.Scope, policy model.Policy) (model.Plan, error) {
	caps := p.analyzer.Analyze(goal)
	allowed := p.allowedTools(policy, caps)

	horizon := parseHorizonDays(goal)
	wcCap := parseAmount(goal)

	steps := templateSteps(goal, horizon, wcCap)
	fromTemplate := len(steps) > 0
	if !fromTemplate {
		steps = p.capabilitySteps(allowed, horizon)
	}

	// Reporting closes out plans that ask for it. Ad-hoc plans that grew
	// past two steps get one too; templates already end where they should.
	g := strings.ToLower(goal)
	wantsReport := strings.Contains(g, "report") || strings.Contains(g, "board")
	if wantsReport || (!fromTemplate && len(steps) > 2) {
		steps = append(steps, model.Step{
			ToolID: tool.ToolReportGenerate,
			Params: map[string]any{"format": "summary"},
			Expect: "run summary for the audit trail",
		})
	}

	steps = dedupeSteps(steps)
	steps = topoSort(steps)
	for i := range steps {
		steps[i].Index = i
		steps[i].Status = model.StepStatusPending
		if desc, ok := p.catalog.Describe(steps[i].ToolID); ok {
			steps[i].RequiresApproval = desc.RequiresApproval
		}
	}

	if policy.MaxSteps > 0 && len(steps) > policy.MaxSteps {
		return model.Plan{}, fmt.Errorf("orchestrator: plan needs %d steps, policy allows %d", len(steps), policy.MaxSteps)
	}

	estimated := estimateDuration(p.catalog, steps)
	if policy.WallClock > 0 && estimated > policy.WallClock {
		return model.Plan{}, fmt.Errorf("orchestrator: plan estimated at %s, wall-clock budget is %s", estimated, policy.WallClock)
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if dep < 0 || dep >= s.Index {
				return model.Plan{}, fmt.Errorf("orchestrator: step %d depends on step %d, dependencies must point backward", s.Index, dep)
			}
		}
	}

	return model.Plan{Goal: goal, Steps: steps, EstimatedDuration: estimated}, nil
}

// templateSteps matches known workflow shapes against goal substrings.
// Dependencies are expressed positionally and renumbered after sorting.
func templateSteps(goal string, horizon int, wcCap float64) []model.Step {
	g := strings.ToLower(goal)

	switch {
	case strings.Contains(g, "protect service"):
		wcParams := map[string]any{"horizon_days": horizon}
		if wcCap > 0 {
			wcParams["wc_cap"] = wcCap
		}
		return []model.Step{
			{ToolID: tool.ToolForecastRun, Params: map[string]any{"horizon_days": horizon}, Expect: "demand forecast over the horizon"},
			{ToolID: tool.ToolStockOptimize, Params: map[string]any{"service_level": 0.95, "horizon_days": horizon}, DependsOn: []int{0}, Expect: "reorder proposal meeting the service target"},
			{ToolID: tool.ToolWCProject, Params: wcParams, DependsOn: []int{1}, Expect: "working-capital projection within the cap"},
		}
	case strings.Contains(g, "drift"):
		return []model.Step{
			{ToolID: tool.ToolDiagDrift, Params: map[string]any{"lookback_days": horizon}, Expect: "drift indicators per series"},
			{ToolID: tool.ToolDiagAccuracy, Params: map[string]any{"lookback_days": horizon}, DependsOn: []int{0}, Expect: "accuracy trend against drift"},
		}
	case strings.Contains(g, "fx") || strings.Contains(g, "currency"):
		return []model.Step{
			{ToolID: tool.ToolFXScenario, Params: map[string]any{"shock_pct": 0.1}, Expect: "revalued positions under the shock"},
			{ToolID: tool.ToolFXExposure, Params: map[string]any{"hedge_ratio": 0.5}, DependsOn: []int{0}, Expect: "net exposure and hedging gap"},
		}
	}
	return nil
}

// capabilitySteps falls back to one step per matched capability when no
// template applies.
func (p *Planner) capabilitySteps(tools []tool.Descriptor, horizon int) []model.Step {
	var steps []model.Step
	seen := make(map[model.ToolCategory]bool)
	for _, d := range tools {
		if seen[d.Category] {
			continue
		}
		seen[d.Category] = true
		params := map[string]any{"horizon_days": horizon}
		if d.Category == model.CategoryReporting {
			params = map[string]any{"format": "summary"}
		}
		steps = append(steps, model.Step{
			ToolID: d.ID,
			Params: params,
			Expect: string(d.Category) + " output",
		})
	}
	return steps
}

// allowedTools filters the catalog to the caller's allowlist and the goal's
// capabilities. Catalog order is stable, so plans are reproducible.
func (p *Planner) allowedTools(policy model.Policy, caps []model.ToolCategory) []tool.Descriptor {
	want := make(map[model.ToolCategory]bool, len(caps))
	for _, c := range caps {
		want[c] = true
	}
	var out []tool.Descriptor
	for _, d := range p.catalog.List() {
		if policy.Allows(d.ID) && (len(want) == 0 || want[d.Category]) {
			out = append(out, d)
		}
	}
	return out
}

// dedupeSteps drops later steps with an identical (tool, params) pair.
func dedupeSteps(steps []model.Step) []model.Step {
	seen := make(map[string]bool, len(steps))
	out := steps[:0]
	for _, s := range steps {
		key := s.ToolID + "|" + fmt.Sprintf("%v", s.Params)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// topoSort orders steps so every dependency precedes its dependents,
// keeping the original order among independent steps. Positional indices in
// DependsOn are remapped to the new positions.
func topoSort(steps []model.Step) []model.Step {
	n := len(steps)
	if n <= 1 {
		return steps
	}

	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			if dep >= 0 && dep < n && dep != i {
				indegree[i]++
				dependents[dep] = append(dependents[dep], i)
			}
		}
	}

	// Always pick the lowest-index ready step so independent steps keep
	// their original relative order.
	var order []int
	processed := make([]bool, n)
	for len(order) < n {
		pick := -1
		for i := 0; i < n; i++ {
			if !processed[i] && indegree[i] == 0 {
				pick = i
				break
			}
		}
		if pick == -1 {
			// A cycle: leave the input order, the dependency rule check
			// fails the plan with a precise message.
			return steps
		}
		processed[pick] = true
		order = append(order, pick)
		for _, d := range dependents[pick] {
			indegree[d]--
		}
	}

	newPos := make(map[int]int, n)
	for pos, old := range order {
		newPos[old] = pos
	}
	out := make([]model.Step, n)
	for pos, old := range order {
		s := steps[old]
		remapped := make([]int, 0, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			remapped = append(remapped, newPos[dep])
		}
		s.DependsOn = remapped
		out[pos] = s
	}
	return out
}

func estimateDuration(catalog tool.Catalog, steps []model.Step) time.Duration {
	var total time.Duration
	for _, s := range steps {
		d := 20 * time.Second
		if desc, ok := catalog.Describe(s.ToolID); ok {
			switch desc.Category {
			case model.CategoryForecasting:
				d = 30 * time.Second
			case model.CategoryOptimization:
				d = 45 * time.Second
			case model.CategoryReporting:
				d = 10 * time.Second
			case model.CategoryPlanning:
				d = 15 * time.Second
			}
		}
		total += d
	}
	return total
}

func parseHorizonDays(goal string) int {
	if m := horizonPattern.FindStringSubmatch(strings.ToLower(goal)); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			return v
		}
	}
	return 90
}

func parseAmount(goal string) float64 {
	if m := amountPattern.FindStringSubmatch(goal); m != nil {
		cleaned := strings.ReplaceAll(m[1], ",", "")
		if v, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return v
		}
	}
	return 0
}

// ProjectOutcomes estimates category-level metric deltas without executing
// anything. This is the DRY_RUN response body.
func (p *Planner) ProjectOutcomes(plan model.Plan) map[string]any {
	projected := make(map[string]any)
	for _, s := range plan.Steps {
		desc, ok := p.catalog.Describe(s.ToolID)
		if !ok {
			continue
		}
		switch desc.Category {
		case model.CategoryForecasting:
			projected["forecast"] = map[string]any{"expected_mape_improvement": 0.04}
		case model.CategoryOptimization:
			projected["stock"] = map[string]any{"expected_service_level": 0.95, "expected_stockouts_avoided": 12}
		case model.CategoryFinance:
			projected["working_capital"] = map[string]any{"expected_wc_delta": -45_000, "expected_cap_breach": 0}
		case model.CategoryPlanning:
			projected["fx"] = map[string]any{"expected_exposure_reduction": 0.2}
		case model.CategoryDiagnostics:
			projected["diagnostics"] = map[string]any{"expected_findings": "accuracy trend and drift report"}
		}
	}
	return projected
}
