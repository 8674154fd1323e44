// Package eval answers "would this plan, if executed, likely meet minimum
// bars?" without mutating real state. Simulations are seed-driven: the same
// seed and dataset always produce the same scorecard.
package eval

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

// Store persists completed evaluation runs. Nil-safe for tests.
type Store interface {
	CreateEvalRun(ctx context.Context, e model.EvalRun) error
}

// Evaluator runs deterministic simulations against golden or synthetic data.
type Evaluator struct {
	datasets *DatasetStore
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an evaluator. store may be nil when persistence is unwanted.
func New(datasets *DatasetStore, store Store, logger *slog.Logger) *Evaluator {
	return &Evaluator{datasets: datasets, store: store, logger: logger, now: time.Now}
}

// Evaluate simulates the goal's implied capabilities. datasetKey selects a
// golden dataset; when empty, a synthetic dataset is derived from the seed.
func (e *Evaluator) Evaluate(ctx context.Context, goal, datasetKey string, seed int64, th model.Thresholds) (model.EvalRun, error) {
	var (
		ds  Dataset
		err error
	)
	if datasetKey == "" {
		ds = Synthesize(seed)
	} else {
		ds, err = e.datasets.Load(datasetKey)
		if err != nil {
			return model.EvalRun{}, err
		}
	}

	rng := rand.New(rand.NewSource(seed))
	var cases []model.EvalCase
	for _, capability := range capabilitiesForGoal(goal) {
		switch capability {
		case model.CategoryForecasting:
			cases = append(cases, simulateForecast(ds, rng))
		case model.CategoryOptimization:
			cases = append(cases, simulateStock(ds, rng))
		case model.CategoryFinance:
			cases = append(cases, simulateWorkingCapital(ds, rng))
		}
	}

	run := model.EvalRun{
		ID:         uuid.New(),
		Goal:       goal,
		DatasetKey: ds.Key,
		Seed:       seed,
		Cases:      cases,
		Scorecard:  Score(cases, th),
		CreatedAt:  e.now().UTC(),
	}

	if e.store != nil {
		if err := e.store.CreateEvalRun(ctx, run); err != nil {
			// Persistence failure must not turn a completed simulation
			// into a caller-visible error.
			e.logger.Warn("eval: persist run failed", "eval_id", run.ID, "error", err)
		}
	}
	e.logger.Info("evaluation complete",
		"eval_id", run.ID,
		"dataset", run.DatasetKey,
		"seed", seed,
		"overall", run.Scorecard.Overall,
		"passed", run.Scorecard.Passed)
	return run, nil
}

// Score applies thresholds to simulated cases. A scorecard passes only if
// every must-have category present (forecast accuracy, working-capital
// breach and cash deltas) individually clears its bar; the overall average
// is informative, never sufficient.
func Score(cases []model.EvalCase, th model.Thresholds) model.Scorecard {
	var card model.Scorecard
	var total float64

	for _, c := range cases {
		cs := model.CategoryScore{Category: c.Category, Metrics: c.Metrics}
		switch c.Category {
		case model.CategoryForecasting:
			actual := c.Metrics["mape_improvement"]
			cs.Score = ratioScore(actual, th.ForecastMinAccuracyDelta)
			if th.ForecastMinAccuracyDelta > 0 && actual < th.ForecastMinAccuracyDelta {
				card.FailedCriteria = append(card.FailedCriteria, model.FailedCriterion{
					Category: c.Category,
					Metric:   "mape_improvement",
					Required: th.ForecastMinAccuracyDelta,
					Actual:   actual,
				})
			}
		case model.CategoryOptimization:
			cs.Score = ratioScore(c.Metrics["service_level"], th.StockMinServiceLevel)
		case model.CategoryFinance:
			cs.Score = 1
			if breach := c.Metrics["cap_breach"]; breach > th.WCMaxCapBreach {
				cs.Score -= 0.5
				card.FailedCriteria = append(card.FailedCriteria, model.FailedCriterion{
					Category: c.Category,
					Metric:   "cap_breach",
					Required: th.WCMaxCapBreach,
					Actual:   breach,
				})
			}
			if cash := c.Metrics["min_cash_delta"]; cash < th.WCMinCashDelta {
				cs.Score -= 0.5
				card.FailedCriteria = append(card.FailedCriteria, model.FailedCriterion{
					Category: c.Category,
					Metric:   "min_cash_delta",
					Required: th.WCMinCashDelta,
					Actual:   cash,
				})
			}
		}
		cs.Score = clamp01(cs.Score)
		card.Categories = append(card.Categories, cs)
		total += cs.Score
	}

	if len(card.Categories) > 0 {
		card.Overall = total / float64(len(card.Categories))
	}
	card.Passed = len(card.FailedCriteria) == 0
	return card
}

// GatePlan downgrades mode to DRY_RUN when the scorecard failed. Evaluator
// gating never errors: a failed bar changes the mode, nothing else.
func GatePlan(card model.Scorecard, mode model.Mode) (model.Mode, []model.FailedCriterion) {
	if card.Passed || mode == model.ModeDryRun {
		return mode, card.FailedCriteria
	}
	return model.ModeDryRun, card.FailedCriteria
}

// capabilitiesForGoal maps goal keywords to the capabilities worth
// simulating, in a fixed order so scoring is reproducible. A goal with no
// recognized keywords simulates everything.
func capabilitiesForGoal(goal string) []model.ToolCategory {
	g := strings.ToLower(goal)
	var caps []model.ToolCategory
	if strings.Contains(g, "forecast") || strings.Contains(g, "demand") || strings.Contains(g, "service") {
		caps = append(caps, model.CategoryForecasting)
	}
	if strings.Contains(g, "stock") || strings.Contains(g, "inventory") || strings.Contains(g, "service") {
		caps = append(caps, model.CategoryOptimization)
	}
	if strings.Contains(g, "working capital") || strings.Contains(g, "wc") || strings.Contains(g, "cash") {
		caps = append(caps, model.CategoryFinance)
	}
	if len(caps) == 0 {
		caps = []model.ToolCategory{model.CategoryForecasting, model.CategoryOptimization, model.CategoryFinance}
	}
	return caps
}

func simulateForecast(ds Dataset, rng *rand.Rand) model.EvalCase {
	baseline := 0.12 + 0.5*ds.Demand.Noise
	improvement := (0.2*ds.Demand.Seasonality + 0.3*ds.Demand.Trend + 0.03) * (0.5 + rng.Float64())
	return model.EvalCase{
		Category: model.CategoryForecasting,
		ToolID:   tool.ToolForecastRun,
		Metrics: map[string]float64{
			"mape_baseline":    round4(baseline),
			"mape_improvement": round4(improvement),
		},
	}
}

func simulateStock(ds Dataset, rng *rand.Rand) model.EvalCase {
	service := 0.9 + 0.08*rng.Float64() + 0.02*(1-ds.Demand.Noise)
	if service > 0.999 {
		service = 0.999
	}
	return model.EvalCase{
		Category: model.CategoryOptimization,
		ToolID:   tool.ToolStockOptimize,
		Metrics: map[string]float64{
			"service_level":     round4(service),
			"stockouts_avoided": math.Round(rng.Float64() * ds.Demand.Base * 0.01),
		},
	}
}

func simulateWorkingCapital(ds Dataset, rng *rand.Rand) model.EvalCase {
	wcDelta := -ds.Finance.WCBase * (0.02 + 0.05*rng.Float64())
	projected := ds.Finance.WCBase + wcDelta
	breach := projected - ds.Finance.WCCap
	if breach < 0 {
		breach = 0
	}
	return model.EvalCase{
		Category: model.CategoryFinance,
		ToolID:   tool.ToolWCProject,
		Metrics: map[string]float64{
			"wc_delta":       math.Round(wcDelta),
			"cap_breach":     math.Round(breach),
			"min_cash_delta": math.Round(-ds.Finance.CashBase * 0.1 * rng.Float64()),
			"ccc_delta":      round4(-rng.Float64() * 5),
		},
	}
}

func ratioScore(actual, required float64) float64 {
	if required <= 0 {
		return clamp01(actual)
	}
	return clamp01(actual / required)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10_000) / 10_000
}
