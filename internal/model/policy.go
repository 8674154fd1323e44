package model

import "time"

// Role is the caller's role, used to resolve an effective policy.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ToolCategory tags a tool's capability for planning and scoring.
type ToolCategory string

const (
	CategoryForecasting  ToolCategory = "forecasting"
	CategoryOptimization ToolCategory = "optimization"
	CategoryFinance      ToolCategory = "finance"
	CategoryPlanning     ToolCategory = "planning"
	CategoryReporting    ToolCategory = "reporting"
	CategoryDiagnostics  ToolCategory = "diagnostics"
)

// KnownCategories is the fixed capability space used for coverage scoring.
var KnownCategories = []ToolCategory{
	CategoryForecasting,
	CategoryOptimization,
	CategoryFinance,
	CategoryPlanning,
	CategoryReporting,
	CategoryDiagnostics,
}

// Clamps are the numeric safety bounds a policy imposes on tool parameters.
// Out-of-range values are silently bounded, never rejected.
type Clamps struct {
	HorizonDaysMax int     `json:"horizon_days_max"`
	OrderQtyMax    float64 `json:"order_qty_max"`
	PctMin         float64 `json:"pct_min"`
	PctMax         float64 `json:"pct_max"`
	WCCapMax       float64 `json:"wc_cap_max"`
	MinCashFloor   float64 `json:"min_cash_floor"`
}

// Policy is the per-role configuration the guard enforces.
type Policy struct {
	Role          Role           `json:"role"`
	AllowedTools  []string       `json:"allowed_tools"`
	DefaultMode   Mode           `json:"default_mode"`
	MaxSteps      int            `json:"max_steps"`
	WallClock     time.Duration  `json:"wall_clock"`
	ToolBudgets   map[string]int `json:"tool_budgets"`
	Clamps        Clamps         `json:"clamps"`
	RequireStepUp bool           `json:"require_step_up"`
}

// Allows reports whether toolID is in the policy allowlist.
func (p Policy) Allows(toolID string) bool {
	for _, id := range p.AllowedTools {
		if id == toolID {
			return true
		}
	}
	return false
}

// BudgetFor returns the per-run invocation budget for toolID,
// falling back to defaultBudget when the policy has no entry.
func (p Policy) BudgetFor(toolID string, defaultBudget int) int {
	if b, ok := p.ToolBudgets[toolID]; ok {
		return b
	}
	return defaultBudget
}

// DefaultClamps are conservative bounds applied when no policy is stored.
func DefaultClamps() Clamps {
	return Clamps{
		HorizonDaysMax: 180,
		OrderQtyMax:    100_000,
		PctMin:         0,
		PctMax:         1,
		WCCapMax:       2_000_000,
		MinCashFloor:   50_000,
	}
}

// ConservativeDefaultPolicy is the fallback when no policy is stored for a
// role: read-only tools, dry-run only, tight budgets.
func ConservativeDefaultPolicy(role Role) Policy {
	return Policy{
		Role:          role,
		AllowedTools:  []string{"forecast.run", "wc.project", "diag.accuracy", "report.generate"},
		DefaultMode:   ModeDryRun,
		MaxSteps:      5,
		WallClock:     2 * time.Minute,
		ToolBudgets:   map[string]int{},
		Clamps:        DefaultClamps(),
		RequireStepUp: true,
	}
}
