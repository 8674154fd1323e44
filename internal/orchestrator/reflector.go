package orchestrator

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

// Outcome-score weights: success rate, goal alignment of recommendations,
// and measured metric improvements.
const (
	weightSuccess   = 0.4
	weightAlignment = 0.3
	weightMetrics   = 0.3
)

// Reflector scores a finished run and extracts lessons and next steps.
type Reflector struct {
	catalog tool.Catalog
}

// NewReflector wires a reflector over the catalog.
func NewReflector(catalog tool.Catalog) *Reflector {
	return &Reflector{catalog: catalog}
}

// Reflect computes the run's quality assessment. Invocations supply
// attempt counts and durations; they may be empty for dry runs.
func (r *Reflector) Reflect(run *model.Run, invocations []model.ToolInvocation) (model.Reflection, []string, []string) {
	planQ := r.planQuality(run)
	execQ := executionQuality(run, invocations)

	alignment := goalAlignment(run)
	metrics := metricIndicators(run)
	score := weightSuccess*execQ.SuccessRate + weightAlignment*alignment + weightMetrics*metrics

	reflection := model.Reflection{
		PlanQuality:      planQ,
		ExecutionQuality: execQ,
		OutcomeScore:     round2(score),
		Rating:           model.RatingFor(score),
	}
	return reflection, lessons(run, execQ), nextSteps(run)
}

func (r *Reflector) planQuality(run *model.Run) model.PlanQuality {
	categories := make(map[model.ToolCategory]bool)
	tools := make(map[string]bool)
	for _, s := range run.Steps {
		tools[s.ToolID] = true
		if desc, ok := r.catalog.Describe(s.ToolID); ok {
			categories[desc.Category] = true
		}
	}

	n := len(run.Steps)
	efficiency := "lean"
	switch {
	case n > 6:
		efficiency = "heavy"
	case n > 3:
		efficiency = "balanced"
	}

	redundancy := 0.0
	if n > 0 {
		redundancy = 1 - float64(len(tools))/float64(n)
	}
	return model.PlanQuality{
		StepCount:       n,
		Efficiency:      efficiency,
		CoverageRatio:   round2(float64(len(categories)) / float64(len(model.KnownCategories))),
		RedundancyRatio: round2(redundancy),
	}
}

func executionQuality(run *model.Run, invocations []model.ToolInvocation) model.ExecutionQuality {
	var attempted, succeeded int
	var failures []string
	for _, s := range run.Steps {
		switch s.Status {
		case model.StepStatusCompleted:
			attempted++
			succeeded++
		case model.StepStatusFailed:
			attempted++
			reason := "unknown"
			if s.Error != nil {
				reason = *s.Error
			}
			failures = append(failures, fmt.Sprintf("step %d (%s): %s", s.Index, s.ToolID, reason))
		}
	}

	q := model.ExecutionQuality{Failures: failures}
	if attempted > 0 {
		q.SuccessRate = round2(float64(succeeded) / float64(attempted))
	}
	if len(invocations) > 0 {
		var total time.Duration
		var counted int
		for _, inv := range invocations {
			if inv.FinishedAt != nil {
				total += inv.FinishedAt.Sub(inv.StartedAt)
				counted++
			}
		}
		if counted > 0 {
			q.AvgDuration = total / time.Duration(counted)
		}
	}
	return q
}

// goalAlignment measures keyword overlap between the goal and the
// recommendations tools returned.
func goalAlignment(run *model.Run) float64 {
	goalWords := significantWords(run.Goal)
	if len(goalWords) == 0 {
		return 0
	}

	var recommendations []string
	for _, s := range run.Steps {
		if s.Output == nil {
			continue
		}
		if recs, ok := s.Output["recommendations"].([]any); ok {
			for _, rec := range recs {
				if str, ok := rec.(string); ok {
					recommendations = append(recommendations, strings.ToLower(str))
				}
			}
		}
	}
	if len(recommendations) == 0 {
		return 0
	}

	joined := strings.Join(recommendations, " ")
	matched := 0
	for word := range goalWords {
		if strings.Contains(joined, word) {
			matched++
		}
	}
	return float64(matched) / float64(len(goalWords))
}

// metricIndicators scores the fraction of improvement signals present in
// step outputs that point the right way.
func metricIndicators(run *model.Run) float64 {
	checks := []struct {
		key  string
		good func(v float64) bool
	}{
		{"mape_improvement", func(v float64) bool { return v > 0 }},
		{"service_level", func(v float64) bool { return v >= 0.95 }},
		{"wc_delta", func(v float64) bool { return v < 0 }},
		{"min_cash_delta", func(v float64) bool { return v > -25_000 }},
		{"exposure_reduction", func(v float64) bool { return v > 0 }},
	}

	var present, good int
	for _, s := range run.Steps {
		if s.Output == nil {
			continue
		}
		for _, c := range checks {
			raw, ok := s.Output[c.key]
			if !ok {
				continue
			}
			v, ok := toFloat(raw)
			if !ok {
				continue
			}
			present++
			if c.good(v) {
				good++
			}
		}
	}
	if present == 0 {
		return 0.5 // no signal either way
	}
	return float64(good) / float64(present)
}

// lessons extracts failure and success patterns worth remembering.
func lessons(run *model.Run, execQ model.ExecutionQuality) []string {
	var out []string
	for _, f := range execQ.Failures {
		out = append(out, "failure: "+f)
	}
	if execQ.SuccessRate == 1 && len(run.Steps) > 0 {
		out = append(out, fmt.Sprintf("all %d steps completed for goal pattern %q", len(run.Steps), firstWords(run.Goal, 5)))
	}
	for _, s := range run.Steps {
		if s.Output == nil {
			continue
		}
		if v, ok := toFloat(s.Output["mape_improvement"]); ok && v >= 0.05 {
			out = append(out, fmt.Sprintf("%s delivered a strong accuracy gain (%.1f%%)", s.ToolID, v*100))
		}
		if v, ok := toFloat(s.Output["wc_delta"]); ok && v <= -50_000 {
			out = append(out, fmt.Sprintf("%s freed significant working capital (%.0f)", s.ToolID, -v))
		}
	}
	return out
}

// nextSteps ranks follow-up suggestions from output metrics: highest
// severity first.
func nextSteps(run *model.Run) []string {
	type suggestion struct {
		priority int
		text     string
	}
	var suggestions []suggestion

	for _, s := range run.Steps {
		if s.Status == model.StepStatusSkipped {
			suggestions = append(suggestions, suggestion{1, fmt.Sprintf(
				"approve step %d (%s) and re-run to apply the proposed change", s.Index, s.ToolID)})
		}
		if s.Output == nil {
			continue
		}
		if v, ok := toFloat(s.Output["mape_improvement"]); ok && v < 0.03 {
			suggestions = append(suggestions, suggestion{2,
				"forecast improvement is below target, re-run diagnostics to find drifting series"})
		}
		if v, ok := toFloat(s.Output["service_level"]); ok && v < 0.95 {
			suggestions = append(suggestions, suggestion{1,
				"service level is below target, increase safety stock on the critical lines"})
		}
		if v, ok := toFloat(s.Output["cap_breach"]); ok && v > 0 {
			suggestions = append(suggestions, suggestion{0,
				"projected working capital breaches the cap, tighten order quantities before executing"})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool { return suggestions[i].priority < suggestions[j].priority })
	seen := make(map[string]bool)
	var out []string
	for _, s := range suggestions {
		if !seen[s.text] {
			seen[s.text] = true
			out = append(out, s.text)
		}
	}
	return out
}

func significantWords(goal string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(goal)) {
		w = strings.Trim(w, ".,!?()£$€≤")
		if len(w) >= 4 {
			words[w] = true
		}
	}
	return words
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
