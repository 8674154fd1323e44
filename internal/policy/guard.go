package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/auth"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/safety"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/storage"
)

// policyCacheTTL bounds how stale a resolved policy may be.
const policyCacheTTL = 60 * time.Second

// defaultToolBudget applies when a policy has no per-tool entry.
const defaultToolBudget = 3

// Store is the persistence the guard needs.
type Store interface {
	GetPolicy(ctx context.Context, role model.Role) (model.Policy, error)
	GetApproval(ctx context.Context, runID uuid.UUID, stepIndex int) (model.Approval, error)
}

// Overrides are environment-level policy overrides. They win over any
// stored policy; nil fields leave the stored value in place.
type Overrides struct {
	DefaultMode    *model.Mode
	MaxSteps       *int
	WallClock      *time.Duration
	HorizonDaysMax *int
	OrderQtyMax    *float64
	WCCapMax       *float64
	MinCashFloor   *float64
}

type cachedPolicy struct {
	policy    model.Policy
	expiresAt time.Time
}

// Guard resolves effective policies and enforces allowlists, parameter
// clamps, per-run tool budgets, freeze windows, and step-up approvals.
// Its cache and budget counters are process-local; a multi-instance
// deployment needs a shared store behind the same interface.
type Guard struct {
	store     Store
	stepUp    *auth.StepUpManager
	recorder  *safety.Recorder
	overrides Overrides
	freeze    *FreezeWindow
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache map[model.Role]cachedPolicy
	sf    singleflight.Group

	budgetMu sync.Mutex
	budgets  map[string]int // "runID/toolID" -> invocations consumed
}

// NewGuard wires the guard. The freeze window defaults to month-end close
// when freezeCron is nil.
func NewGuard(store Store, stepUp *auth.StepUpManager, recorder *safety.Recorder, overrides Overrides, freezeCron *string, logger *slog.Logger) (*Guard, error) {
	freeze, err := NewFreezeWindow(freezeCron)
	if err != nil {
		return nil, err
	}
	return &Guard{
		store:     store,
		stepUp:    stepUp,
		recorder:  recorder,
		overrides: overrides,
		freeze:    freeze,
		logger:    logger,
		now:       time.Now,
		cache:     make(map[model.Role]cachedPolicy),
		budgets:   make(map[string]int),
	}, nil
}

// EffectivePolicy returns the policy for role, cached for up to a minute.
// A role with no stored policy gets the conservative read-only default.
// Environment overrides are applied last and always win.
func (g *Guard) EffectivePolicy(ctx context.Context, role model.Role) (model.Policy, error) {
	g.mu.Lock()
	if c, ok := g.cache[role]; ok && g.now().Before(c.expiresAt) {
		g.mu.Unlock()
		return c.policy, nil
	}
	g.mu.Unlock()

	v, err, _ := g.sf.Do(string(role), func() (any, error) {
		p, err := g.store.GetPolicy(ctx, role)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			g.logger.Info("no stored policy for role, using conservative default", "role", role)
			p = model.ConservativeDefaultPolicy(role)
		case err != nil:
			return model.Policy{}, fmt.Errorf("policy: resolve for role %q: %w", role, err)
		}
		p = g.applyOverrides(p)

		g.mu.Lock()
		g.cache[role] = cachedPolicy{policy: p, expiresAt: g.now().Add(policyCacheTTL)}
		g.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return model.Policy{}, err
	}
	return v.(model.Policy), nil
}

func (g *Guard) applyOverrides(p model.Policy) model.Policy {
	o := g.overrides
	if o.DefaultMode != nil {
		p.DefaultMode = *o.DefaultMode
	}
	if o.MaxSteps != nil {
		p.MaxSteps = *o.MaxSteps
	}
	if o.WallClock != nil {
		p.WallClock = *o.WallClock
	}
	if o.HorizonDaysMax != nil {
		p.Clamps.HorizonDaysMax = *o.HorizonDaysMax
	}
	if o.OrderQtyMax != nil {
		p.Clamps.OrderQtyMax = *o.OrderQtyMax
	}
	if o.WCCapMax != nil {
		p.Clamps.WCCapMax = *o.WCCapMax
	}
	if o.MinCashFloor != nil {
		p.Clamps.MinCashFloor = *o.MinCashFloor
	}
	return p
}

// SetClock overrides the guard's time source, used by tests to pin freeze
// windows and expiry checks to a known instant.
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// InvalidateCache drops all cached policies. Used after a policy upsert.
func (g *Guard) InvalidateCache() {
	g.mu.Lock()
	g.cache = make(map[model.Role]cachedPolicy)
	g.mu.Unlock()
}

// CheckToolAllowed rejects tools outside the resolved allowlist.
func (g *Guard) CheckToolAllowed(ctx context.Context, p model.Policy, toolID string) error {
	if p.Allows(toolID) {
		return nil
	}
	g.record(ctx, model.CounterBlockedPlans)
	return &model.DisallowedToolError{ToolID: toolID, Role: p.Role}
}

// ValidateToolParams clamps numeric parameters into policy bounds and
// returns the normalized params plus a note per adjustment.
func (g *Guard) ValidateToolParams(toolID string, params map[string]any, p model.Policy) (map[string]any, []string, error) {
	return ClampParams(toolID, params, p.Clamps)
}

// CheckToolBudget consumes one invocation from the (run, tool) budget,
// failing once the policy's per-tool limit is reached.
func (g *Guard) CheckToolBudget(ctx context.Context, runID uuid.UUID, toolID string, p model.Policy) error {
	budget := p.BudgetFor(toolID, defaultToolBudget)
	key := runID.String() + "/" + toolID

	g.budgetMu.Lock()
	used := g.budgets[key]
	if used >= budget {
		g.budgetMu.Unlock()
		g.record(ctx, model.CounterExceededBudgets)
		return &model.BudgetExceededError{RunID: runID, ToolID: toolID, Budget: budget}
	}
	g.budgets[key] = used + 1
	g.budgetMu.Unlock()
	return nil
}

// ReleaseRunBudgets forgets all counters for a finished run.
func (g *Guard) ReleaseRunBudgets(runID uuid.UUID) {
	prefix := runID.String() + "/"
	g.budgetMu.Lock()
	for key := range g.budgets {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(g.budgets, key)
		}
	}
	g.budgetMu.Unlock()
}

// CheckFreezeWindow rejects mutating plans while a freeze window is active,
// in every mode.
func (g *Guard) CheckFreezeWindow(ctx context.Context, mutating bool) error {
	if !mutating || !g.freeze.Active(g.now()) {
		return nil
	}
	g.record(ctx, model.CounterFreezeWindowBlocks)
	return &model.FreezeWindowError{Window: g.freeze.Describe()}
}

// FreezeActive reports whether the configured freeze window covers now.
func (g *Guard) FreezeActive() bool {
	return g.freeze.Active(g.now())
}

// CreateStepUpToken issues a short-lived approval token for approverID.
func (g *Guard) CreateStepUpToken(ctx context.Context, approverID string, ttl time.Duration) (string, time.Time, error) {
	token, expiresAt, err := g.stepUp.IssueToken(approverID, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	g.record(ctx, model.CounterApprovalsRequested)
	return token, expiresAt, nil
}

// VerifyApproval checks that token is a live step-up token whose stored
// approval grants exactly this (run, step) pair.
func (g *Guard) VerifyApproval(ctx context.Context, runID uuid.UUID, stepIndex int, token string) (model.Approval, error) {
	claims, err := g.stepUp.Verify(token)
	if err != nil {
		return model.Approval{}, fmt.Errorf("policy: step-up token rejected: %w", err)
	}

	approval, err := g.store.GetApproval(ctx, runID, stepIndex)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Approval{}, &model.ApprovalRequiredError{RunID: runID, StepIndex: stepIndex}
	}
	if err != nil {
		return model.Approval{}, fmt.Errorf("policy: load approval: %w", err)
	}

	if approval.Decision != model.ApprovalGranted {
		return model.Approval{}, fmt.Errorf("policy: approval for run %s step %d was %s", runID, stepIndex, approval.Decision)
	}
	if approval.Expired(g.now()) {
		return model.Approval{}, fmt.Errorf("policy: approval for run %s step %d expired at %s", runID, stepIndex, approval.ExpiresAt.Format(time.RFC3339))
	}
	if approval.ApproverID != claims.ApproverID {
		return model.Approval{}, fmt.Errorf("policy: token holder %q does not match approver %q", claims.ApproverID, approval.ApproverID)
	}
	ok, err := auth.VerifyTokenHash(token, approval.TokenHash)
	if err != nil {
		return model.Approval{}, fmt.Errorf("policy: verify approval token: %w", err)
	}
	if !ok {
		return model.Approval{}, fmt.Errorf("policy: token does not match the approval granted for run %s step %d", runID, stepIndex)
	}
	return approval, nil
}

func (g *Guard) record(ctx context.Context, counter model.SafetyCounter) {
	if g.recorder != nil {
		g.recorder.Record(ctx, counter)
	}
}
