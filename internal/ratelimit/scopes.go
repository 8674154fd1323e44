package ratelimit

import (
	"context"
	"time"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/safety"
)

// Scopes bundles the four limiter scopes the engine enforces on every
// run request. Execute-mode requests get an additional, much stricter
// window regardless of the other limits.
type Scopes struct {
	limiter  Limiter
	recorder *safety.Recorder

	IP       Rule
	User     Rule
	Endpoint Rule
	Execute  Rule
}

// DefaultScopes returns the production limits.
func DefaultScopes(limiter Limiter, recorder *safety.Recorder) *Scopes {
	return &Scopes{
		limiter:  limiter,
		recorder: recorder,
		IP:       Rule{Prefix: "ip", Limit: 10, Window: time.Minute},
		User:     Rule{Prefix: "user", Limit: 30, Window: time.Minute},
		Endpoint: Rule{Prefix: "endpoint", Limit: 100, Window: time.Minute},
		Execute:  Rule{Prefix: "execute", Limit: 1, Window: 5 * time.Minute},
	}
}

// Check applies every applicable scope and returns a RateLimitError for the
// first one that denies. Each hit is recorded to the safety metrics.
func (s *Scopes) Check(ctx context.Context, callerIP, userID, endpoint string, mode model.Mode) *model.RateLimitError {
	checks := []struct {
		rule Rule
		key  string
	}{
		{s.IP, callerIP},
		{s.User, userID},
		{s.Endpoint, endpoint},
	}
	if mode == model.ModeExecute {
		checks = append(checks, struct {
			rule Rule
			key  string
		}{s.Execute, userID})
	}

	for _, c := range checks {
		if c.key == "" {
			continue
		}
		res := s.limiter.Allow(ctx, c.rule, c.key)
		if !res.Allowed {
			if s.recorder != nil {
				s.recorder.Record(ctx, model.CounterRateLimitHits)
			}
			return &model.RateLimitError{
				Scope:      c.rule.Prefix,
				Remaining:  res.Remaining,
				RetryAfter: res.RetryAfter,
			}
		}
	}
	return nil
}
