package model

import (
	"time"

	"github.com/google/uuid"
)

// Thresholds are the minimum bars a simulated plan must clear.
// Zero values disable the corresponding check.
type Thresholds struct {
	ForecastMinAccuracyDelta float64 `json:"forecast_min_accuracy_delta" yaml:"forecast_min_accuracy_delta"`
	StockMinServiceLevel     float64 `json:"stock_min_service_level" yaml:"stock_min_service_level"`
	WCMaxCapBreach           float64 `json:"wc_max_cap_breach" yaml:"wc_max_cap_breach"`
	WCMinCashDelta           float64 `json:"wc_min_cash_delta" yaml:"wc_min_cash_delta"`
}

// DefaultThresholds are the bars used when a preset supplies none.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ForecastMinAccuracyDelta: 0.03,
		StockMinServiceLevel:     0.95,
		WCMaxCapBreach:           0,
		WCMinCashDelta:           -25_000,
	}
}

// EvalCase is one simulated tool outcome against the dataset.
type EvalCase struct {
	Category ToolCategory       `json:"category"`
	ToolID   string             `json:"tool_id"`
	Metrics  map[string]float64 `json:"metrics"`
}

// CategoryScore is the [0,1] score for one tool category.
type CategoryScore struct {
	Category ToolCategory       `json:"category"`
	Score    float64            `json:"score"`
	Metrics  map[string]float64 `json:"metrics"`
}

// FailedCriterion names one threshold a simulation failed to meet.
type FailedCriterion struct {
	Category ToolCategory `json:"category"`
	Metric   string       `json:"metric"`
	Required float64      `json:"required"`
	Actual   float64      `json:"actual"`
}

// Scorecard combines per-category scores into an overall verdict.
//
// Passed requires every must-have category present in the simulation to
// individually meet its threshold; the overall average is informative only.
type Scorecard struct {
	Overall        float64           `json:"overall"`
	Categories     []CategoryScore   `json:"categories"`
	Passed         bool              `json:"passed"`
	FailedCriteria []FailedCriterion `json:"failed_criteria,omitempty"`
}

// EvalRun records one deterministic simulation of a goal.
type EvalRun struct {
	ID         uuid.UUID  `json:"id"`
	Goal       string     `json:"goal"`
	DatasetKey string     `json:"dataset_key"`
	Seed       int64      `json:"seed"`
	Cases      []EvalCase `json:"cases"`
	Scorecard  Scorecard  `json:"scorecard"`
	CreatedAt  time.Time  `json:"created_at"`
}
