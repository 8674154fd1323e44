package model

// SafetyMetrics are daily aggregate counters keyed by period (YYYY-MM-DD).
// Incremented by the policy guard, rate limiter, and scheduler; never reset.
type SafetyMetrics struct {
	Period             string `json:"period"`
	BlockedPlans       int64  `json:"blocked_plans"`
	ExceededBudgets    int64  `json:"exceeded_budgets"`
	ApprovalsRequested int64  `json:"approvals_requested"`
	ApprovalsGranted   int64  `json:"approvals_granted"`
	ApprovalsRejected  int64  `json:"approvals_rejected"`
	RateLimitHits      int64  `json:"rate_limit_hits"`
	FreezeWindowBlocks int64  `json:"freeze_window_blocks"`
}

// SafetyCounter names one SafetyMetrics column for increments.
type SafetyCounter string

const (
	CounterBlockedPlans       SafetyCounter = "blocked_plans"
	CounterExceededBudgets    SafetyCounter = "exceeded_budgets"
	CounterApprovalsRequested SafetyCounter = "approvals_requested"
	CounterApprovalsGranted   SafetyCounter = "approvals_granted"
	CounterApprovalsRejected  SafetyCounter = "approvals_rejected"
	CounterRateLimitHits      SafetyCounter = "rate_limit_hits"
	CounterFreezeWindowBlocks SafetyCounter = "freeze_window_blocks"
)
