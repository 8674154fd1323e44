// Command sentiad runs the agent engine. With no arguments it starts the
// autopilot daemon; subcommands drive one-off operations against the same
// wiring:
//
//	sentiad run -goal "Protect service levels" -mode DRY_RUN
//	sentiad status -id <run-id>
//	sentiad approve -run <run-id> -step 1 -approver cfo@example.com
//	sentiad eval -preset protect-service -seed 42
//	sentiad schedule-now -id <schedule-id>
//	sentiad presets
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/auth"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/config"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/eval"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/orchestrator"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/plan"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/policy"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/preset"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/ratelimit"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/safety"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/scheduler"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/service"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/storage"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/telemetry"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("SENTIA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	command := "daemon"
	args := os.Args[1:]
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	slog.Info("sentiad starting", "version", version, "command", command)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	recorder := safety.NewRecorder(db, logger)

	limiter := newLimiter(ctx, cfg, logger)
	defer func() { _ = limiter.Close() }()
	scopes := ratelimit.DefaultScopes(limiter, recorder)

	stepUp, err := auth.NewStepUpManager(cfg.ApprovalPrivateKeyPath, cfg.ApprovalPublicKeyPath)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	guard, err := policy.NewGuard(db, stepUp, recorder, cfg.PolicyOverrides(), cfg.FreezeCron(), logger)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	catalog, closeCatalog, err := newCatalog(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	defer closeCatalog()

	validator := plan.NewValidator(catalog, guard)
	evaluator := eval.New(eval.NewDatasetStore(cfg.DatasetDir), db, logger)
	presets := preset.NewStore(cfg.PresetDir)
	orch := orchestrator.New(catalog, guard, validator, scopes, db, nil, logger)

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer func() { _ = notifier.Close() }()

	sched := scheduler.New(db, orch, evaluator, presets, guard, notifier, cfg.SchedulerOptions(), logger)

	agent, err := service.New(orch, sched, evaluator, guard, presets, db, recorder, logger)
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}

	switch command {
	case "daemon":
		return runDaemon(ctx, sched)
	case "run":
		return cmdRun(ctx, agent, args)
	case "status":
		return cmdStatus(ctx, agent, args)
	case "approve":
		return cmdApprove(ctx, agent, args)
	case "eval":
		return cmdEval(ctx, agent, args)
	case "schedule-now":
		return cmdScheduleNow(ctx, agent, args)
	case "presets":
		return printJSON(agent.Presets())
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runDaemon(ctx context.Context, sched *scheduler.Scheduler) error {
	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("sentiad shutting down")

	// The cron loop stops first so no new runs start; Stop blocks until
	// in-flight runs return.
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("shutdown timed out waiting for in-flight runs")
	}

	slog.Info("sentiad stopped")
	return nil
}

func cmdRun(ctx context.Context, agent *service.Agent, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	goal := fs.String("goal", "", "goal statement")
	mode := fs.String("mode", "", "DRY_RUN, PROPOSE, or EXECUTE (default from policy)")
	role := fs.String("role", string(model.RoleOperator), "caller role")
	user := fs.String("user", "cli", "caller identity")
	entity := fs.String("entity", "", "entity scope")
	region := fs.String("region", "", "region scope")
	token := fs.String("token", "", "step-up approval token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := agent.RunAgent(ctx, model.RunAgentRequest{
		Goal:          *goal,
		Mode:          model.Mode(*mode),
		Scope:         model.Scope{EntityID: optional(*entity), Region: optional(*region)},
		UserID:        *user,
		Role:          model.Role(*role),
		ApprovalToken: *token,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdStatus(ctx context.Context, agent *service.Agent, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	id := fs.String("id", "", "run id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	runID, err := uuid.Parse(*id)
	if err != nil {
		return fmt.Errorf("parse run id: %w", err)
	}

	run, invocations, err := agent.GetRunStatus(ctx, runID)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"run": run, "invocations": invocations})
}

func cmdApprove(ctx context.Context, agent *service.Agent, args []string) error {
	fs := flag.NewFlagSet("approve", flag.ContinueOnError)
	runStr := fs.String("run", "", "run id")
	step := fs.Int("step", 0, "step index")
	approver := fs.String("approver", "", "approver identity")
	decision := fs.String("decision", string(model.ApprovalGranted), "granted or rejected")
	if err := fs.Parse(args); err != nil {
		return err
	}
	runID, err := uuid.Parse(*runStr)
	if err != nil {
		return fmt.Errorf("parse run id: %w", err)
	}

	result, err := agent.ApproveStep(ctx, service.ApproveStepRequest{
		RunID:      runID,
		StepIndex:  *step,
		ApproverID: *approver,
		Decision:   model.ApprovalDecision(*decision),
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdEval(ctx context.Context, agent *service.Agent, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	goal := fs.String("goal", "", "goal statement")
	presetKey := fs.String("preset", "", "preset key")
	dataset := fs.String("dataset", "", "golden dataset key")
	seed := fs.Int64("seed", 0, "simulation seed (0 derives one from the goal)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := agent.Evaluate(ctx, model.EvaluateRequest{
		Goal:       *goal,
		PresetKey:  *presetKey,
		DatasetKey: *dataset,
		Seed:       *seed,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdScheduleNow(ctx context.Context, agent *service.Agent, args []string) error {
	fs := flag.NewFlagSet("schedule-now", flag.ContinueOnError)
	id := fs.String("id", "", "schedule id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	scheduleID, err := uuid.Parse(*id)
	if err != nil {
		return fmt.Errorf("parse schedule id: %w", err)
	}

	result, err := agent.RunScheduleNow(ctx, scheduleID)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// newLimiter prefers Redis so limits hold across restarts; without Redis the
// in-process limiter still enforces them for this instance.
func newLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) ratelimit.Limiter {
	if cfg.RedisURL == "" {
		logger.Info("rate limiting: in-process (no REDIS_URL)")
		return ratelimit.NewMemoryLimiter()
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("rate limiting: bad REDIS_URL, falling back to in-process", "error", err)
		return ratelimit.NewMemoryLimiter()
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("rate limiting: redis unreachable at startup, limiter will retry per request", "error", err)
	}
	logger.Info("rate limiting: redis sliding window", "addr", opt.Addr)
	return ratelimit.NewRedisLimiter(client, logger)
}

// newCatalog connects to the MCP tool server when configured, otherwise
// serves the builtin simulated tools.
func newCatalog(ctx context.Context, cfg config.Config, logger *slog.Logger) (tool.Catalog, func(), error) {
	if cfg.MCPBaseURL == "" {
		logger.Info("tools: builtin registry")
		return tool.NewBuiltinRegistry(), func() {}, nil
	}

	mcpCatalog, err := tool.ConnectMCP(ctx, cfg.MCPBaseURL, cfg.MCPToken)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("tools: mcp", "url", cfg.MCPBaseURL)
	return mcpCatalog, func() { _ = mcpCatalog.Close() }, nil
}

func newNotifier(cfg config.Config, logger *slog.Logger) (scheduler.Notifier, error) {
	if cfg.AMQPURL == "" {
		logger.Info("notifications: log only (no AMQP_URL)")
		return scheduler.NewLogNotifier(logger), nil
	}
	n, err := scheduler.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPQueue, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("notifications: amqp", "queue", cfg.AMQPQueue)
	return n, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
