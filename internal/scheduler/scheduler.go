// Package scheduler runs autopilot: cron-driven, unattended invocations of
// the orchestrator with debounce, freeze-window suppression, a global
// concurrency cap, evaluation gating, and failure-based auto-disable.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/eval"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/policy"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/preset"
)

// autopilotUser identifies scheduled runs in the audit trail.
const autopilotUser = "autopilot"

// failureWindow and failureLimit control auto-disable: a schedule failing
// failureLimit times inside failureWindow is switched off.
const (
	failureWindow = 24 * time.Hour
	failureLimit  = 3
)

// Store is the schedule persistence the scheduler needs.
type Store interface {
	CreateSchedule(ctx context.Context, s model.Schedule) error
	UpdateSchedule(ctx context.Context, s model.Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (model.Schedule, error)
	ListEnabledSchedules(ctx context.Context) ([]model.Schedule, error)
}

// Runner is the orchestrator surface the scheduler drives.
type Runner interface {
	Run(ctx context.Context, req model.RunAgentRequest) (model.RunAgentResult, error)
}

// Gate is the evaluator surface used to downgrade failing plans.
type Gate interface {
	Evaluate(ctx context.Context, goal, datasetKey string, seed int64, th model.Thresholds) (model.EvalRun, error)
}

// Options tune scheduler behavior.
type Options struct {
	// Debounce is the minimum elapsed time since a schedule last started.
	Debounce time.Duration
	// MaxConcurrent caps simultaneously running autopilot runs.
	MaxConcurrent int
	// Production clamps every schedule to PROPOSE regardless of its
	// stored mode.
	Production bool
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 5 * time.Minute
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	return o
}

// Scheduler owns the live cron jobs, one per enabled schedule.
type Scheduler struct {
	store    Store
	runner   Runner
	gate     Gate
	presets  *preset.Store
	guard    *policy.Guard
	notifier Notifier
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	cron *cron.Cron

	mu           sync.Mutex
	entries      map[uuid.UUID]cron.EntryID
	lastStarted  map[uuid.UUID]time.Time
	failures     map[uuid.UUID][]time.Time
	runningCount int
}

// New wires the scheduler. gate may be nil to disable evaluation gating.
func New(store Store, runner Runner, gate Gate, presets *preset.Store, guard *policy.Guard, notifier Notifier, opts Options, logger *slog.Logger) *Scheduler {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Scheduler{
		store:       store,
		runner:      runner,
		gate:        gate,
		presets:     presets,
		guard:       guard,
		notifier:    notifier,
		logger:      logger,
		opts:        opts.withDefaults(),
		now:         time.Now,
		cron:        cron.New(),
		entries:     make(map[uuid.UUID]cron.EntryID),
		lastStarted: make(map[uuid.UUID]time.Time),
		failures:    make(map[uuid.UUID][]time.Time),
	}
}

// Start loads enabled schedules, registers their cron jobs, and starts the
// cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load schedules: %w", err)
	}
	for _, sched := range schedules {
		if err := s.addJob(sched); err != nil {
			s.logger.Error("skipping schedule with bad cron", "schedule_id", sched.ID, "cron", sched.Cron, "error", err)
		}
	}
	s.cron.Start()
	s.logger.Info("autopilot started", "schedules", len(s.entries))
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Create validates and persists a new schedule, registering its job when
// enabled.
func (s *Scheduler) Create(ctx context.Context, req model.CreateScheduleRequest) (model.Schedule, error) {
	if req.Name == "" {
		return model.Schedule{}, fmt.Errorf("scheduler: schedule name must not be empty")
	}
	if req.Goal == "" && req.PresetKey == nil {
		return model.Schedule{}, fmt.Errorf("scheduler: schedule needs a goal or a preset")
	}
	if _, err := cron.ParseStandard(cronSpec(req.Cron, req.Timezone)); err != nil {
		return model.Schedule{}, fmt.Errorf("scheduler: invalid cron %q: %w", req.Cron, err)
	}
	if req.FreezeWindowCron != nil {
		if _, err := policy.NewFreezeWindow(req.FreezeWindowCron); err != nil {
			return model.Schedule{}, err
		}
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ModeDryRun
	}
	if !mode.Valid() {
		return model.Schedule{}, fmt.Errorf("scheduler: unknown mode %q", mode)
	}

	now := s.now().UTC()
	sched := model.Schedule{
		ID:               uuid.New(),
		Name:             req.Name,
		Goal:             req.Goal,
		Cron:             req.Cron,
		Timezone:         req.Timezone,
		Mode:             mode,
		EntityID:         req.EntityID,
		Region:           req.Region,
		PresetKey:        req.PresetKey,
		FreezeWindowCron: req.FreezeWindowCron,
		Enabled:          req.Enabled,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return model.Schedule{}, fmt.Errorf("scheduler: persist schedule: %w", err)
	}
	if sched.Enabled {
		if err := s.addJob(sched); err != nil {
			return model.Schedule{}, err
		}
	}
	return sched, nil
}

// Update applies a partial patch and reconciles the live job.
func (s *Scheduler) Update(ctx context.Context, id uuid.UUID, patch model.SchedulePatch) (model.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return model.Schedule{}, err
	}
	applyPatch(&sched, patch)

	if _, err := cron.ParseStandard(cronSpec(sched.Cron, sched.Timezone)); err != nil {
		return model.Schedule{}, fmt.Errorf("scheduler: invalid cron %q: %w", sched.Cron, err)
	}
	if sched.FreezeWindowCron != nil {
		if _, err := policy.NewFreezeWindow(sched.FreezeWindowCron); err != nil {
			return model.Schedule{}, err
		}
	}
	sched.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return model.Schedule{}, fmt.Errorf("scheduler: persist schedule: %w", err)
	}

	s.removeJob(sched.ID)
	if sched.Enabled {
		if err := s.addJob(sched); err != nil {
			return model.Schedule{}, err
		}
	}
	return sched, nil
}

// RunNow fires the schedule immediately, bypassing debounce. EXECUTE is
// forced down to PROPOSE so a manual poke can never mutate state
// unattended.
func (s *Scheduler) RunNow(ctx context.Context, id uuid.UUID) (model.RunAgentResult, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return model.RunAgentResult{}, err
	}
	return s.execute(ctx, sched, true)
}

func (s *Scheduler) addJob(sched model.Schedule) error {
	id := sched.ID
	entryID, err := s.cron.AddFunc(cronSpec(sched.Cron, sched.Timezone), func() {
		s.fire(id)
	})
	if err != nil {
		return fmt.Errorf("scheduler: register cron for %s: %w", sched.ID, err)
	}
	s.mu.Lock()
	s.entries[sched.ID] = entryID
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) removeJob(id uuid.UUID) {
	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

// fire is the cron callback. It reloads the schedule so edits between
// firings take effect, then executes.
func (s *Scheduler) fire(id uuid.UUID) {
	ctx := context.Background()
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		s.logger.Error("autopilot firing lost its schedule", "schedule_id", id, "error", err)
		return
	}
	if !sched.Enabled {
		s.removeJob(id)
		return
	}
	if _, err := s.execute(ctx, sched, false); err != nil {
		s.logger.Warn("autopilot run failed", "schedule_id", id, "error", err)
	}
}

// execute runs one firing end to end. Skips (debounce, freeze, capacity)
// return a zero result with no error.
func (s *Scheduler) execute(ctx context.Context, sched model.Schedule, manual bool) (model.RunAgentResult, error) {
	now := s.now()

	if !manual {
		s.mu.Lock()
		last, ran := s.lastStarted[sched.ID]
		s.mu.Unlock()
		if ran && now.Sub(last) < s.opts.Debounce {
			s.logger.Info("autopilot debounced", "schedule_id", sched.ID, "since_last", now.Sub(last))
			return model.RunAgentResult{}, nil
		}
	}

	if s.frozen(sched, now) {
		s.logger.Info("autopilot suppressed by freeze window", "schedule_id", sched.ID)
		return model.RunAgentResult{}, nil
	}

	s.mu.Lock()
	if s.runningCount >= s.opts.MaxConcurrent {
		s.mu.Unlock()
		s.logger.Warn("autopilot at capacity, skipping firing",
			"schedule_id", sched.ID, "max_concurrent", s.opts.MaxConcurrent)
		return model.RunAgentResult{}, nil
	}
	s.runningCount++
	s.lastStarted[sched.ID] = now
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.runningCount--
		s.mu.Unlock()
	}()

	goal := sched.Goal
	mode := sched.Mode
	budgets := model.Budgets{}
	datasetKey := ""
	thresholds := model.DefaultThresholds()

	if sched.PresetKey != nil && s.presets != nil {
		p, err := s.presets.Load(*sched.PresetKey)
		if err != nil {
			return model.RunAgentResult{}, s.recordFailure(ctx, sched, err)
		}
		if goal == "" {
			goal = p.Goal
		}
		if mode == "" {
			mode = p.Mode
		}
		budgets = p.Budgets()
		datasetKey = p.DatasetKey
		if p.Thresholds != nil {
			thresholds = *p.Thresholds
		}
	}

	if manual && mode == model.ModeExecute {
		s.logger.Info("manual run-now clamped to PROPOSE", "schedule_id", sched.ID)
		mode = model.ModePropose
	}
	if s.opts.Production && mode == model.ModeExecute {
		s.logger.Info("production environment clamped schedule to PROPOSE", "schedule_id", sched.ID)
		mode = model.ModePropose
	}

	var scorecard *model.Scorecard
	if s.gate != nil && sched.PresetKey != nil {
		evalRun, err := s.gate.Evaluate(ctx, goal, datasetKey, now.UnixNano(), thresholds)
		if err != nil {
			return model.RunAgentResult{}, s.recordFailure(ctx, sched, err)
		}
		scorecard = &evalRun.Scorecard
		if gated, failed := eval.GatePlan(evalRun.Scorecard, mode); gated != mode {
			s.logger.Info("evaluation gate downgraded schedule run",
				"schedule_id", sched.ID, "from", mode, "to", gated, "failed_criteria", len(failed))
			mode = gated
		}
	}

	result, err := s.runner.Run(ctx, model.RunAgentRequest{
		Goal:    goal,
		Mode:    mode,
		Scope:   model.Scope{EntityID: sched.EntityID, Region: sched.Region},
		Budgets: budgets,
		UserID:  autopilotUser,
		Role:    model.RoleOperator,
	})

	s.recordLastRun(ctx, &sched, now)

	notification := Notification{
		Title:            fmt.Sprintf("Autopilot: %s", sched.Name),
		ScheduleID:       sched.ID,
		ScheduleName:     sched.Name,
		RunID:            result.RunID,
		Mode:             mode,
		Status:           result.Status,
		Scorecard:        scorecard,
		Projected:        result.Projected,
		RequiresApproval: len(result.Plan.StepsRequiringApproval()) > 0,
	}
	if err != nil {
		notification.Error = err.Error()
	}
	if nErr := s.notifier.Notify(ctx, notification); nErr != nil {
		s.logger.Warn("autopilot notification failed", "schedule_id", sched.ID, "error", nErr)
	}

	if err != nil {
		return result, s.recordFailure(ctx, sched, err)
	}
	s.mu.Lock()
	delete(s.failures, sched.ID)
	s.mu.Unlock()
	return result, nil
}

// frozen checks the schedule-specific freeze cron, falling back to the
// global freeze window.
func (s *Scheduler) frozen(sched model.Schedule, now time.Time) bool {
	if sched.FreezeWindowCron != nil {
		fw, err := policy.NewFreezeWindow(sched.FreezeWindowCron)
		if err == nil {
			return fw.Active(now)
		}
		s.logger.Warn("bad freeze window cron, using global window",
			"schedule_id", sched.ID, "error", err)
	}
	return s.guard != nil && s.guard.FreezeActive()
}

// recordFailure tracks failures inside the rolling window and auto-disables
// the schedule once the limit is reached.
func (s *Scheduler) recordFailure(ctx context.Context, sched model.Schedule, cause error) error {
	now := s.now()

	s.mu.Lock()
	recent := s.failures[sched.ID][:0]
	for _, at := range s.failures[sched.ID] {
		if now.Sub(at) < failureWindow {
			recent = append(recent, at)
		}
	}
	recent = append(recent, now)
	s.failures[sched.ID] = recent
	count := len(recent)
	s.mu.Unlock()

	if count < failureLimit {
		return cause
	}

	s.removeJob(sched.ID)
	sched.Enabled = false
	sched.UpdatedAt = now.UTC()
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Error("failed to persist auto-disable", "schedule_id", sched.ID, "error", err)
	}
	s.logger.Error("schedule auto-disabled after repeated failures",
		"schedule_id", sched.ID, "failures", count, "window", failureWindow)

	if nErr := s.notifier.Notify(ctx, Notification{
		Title:        fmt.Sprintf("Autopilot disabled: %s", sched.Name),
		ScheduleID:   sched.ID,
		ScheduleName: sched.Name,
		Mode:         sched.Mode,
		Error:        model.ErrScheduleAutoDisabled.Error(),
	}); nErr != nil {
		s.logger.Warn("auto-disable notification failed", "schedule_id", sched.ID, "error", nErr)
	}
	return fmt.Errorf("scheduler: %w: %v", model.ErrScheduleAutoDisabled, cause)
}

func (s *Scheduler) recordLastRun(ctx context.Context, sched *model.Schedule, at time.Time) {
	at = at.UTC()
	sched.LastRunAt = &at
	sched.UpdatedAt = at
	if err := s.store.UpdateSchedule(ctx, *sched); err != nil {
		s.logger.Warn("failed to record last run", "schedule_id", sched.ID, "error", err)
	}
}

func cronSpec(expr, timezone string) string {
	if timezone != "" {
		return "CRON_TZ=" + timezone + " " + expr
	}
	return expr
}

func applyPatch(sched *model.Schedule, patch model.SchedulePatch) {
	if patch.Name != nil {
		sched.Name = *patch.Name
	}
	if patch.Goal != nil {
		sched.Goal = *patch.Goal
	}
	if patch.Cron != nil {
		sched.Cron = *patch.Cron
	}
	if patch.Timezone != nil {
		sched.Timezone = *patch.Timezone
	}
	if patch.Mode != nil {
		sched.Mode = *patch.Mode
	}
	if patch.EntityID != nil {
		sched.EntityID = patch.EntityID
	}
	if patch.Region != nil {
		sched.Region = patch.Region
	}
	if patch.PresetKey != nil {
		sched.PresetKey = patch.PresetKey
	}
	if patch.FreezeWindowCron != nil {
		sched.FreezeWindowCron = patch.FreezeWindowCron
	}
	if patch.Enabled != nil {
		sched.Enabled = *patch.Enabled
	}
}
