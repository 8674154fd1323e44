// Package safety records governance counters: every blocked plan, exceeded
// budget, approval decision, rate-limit hit, and freeze-window rejection.
//
// Counters go to two places: OTEL (for dashboards/alerts) and a daily
// Postgres aggregate (for audit). Recording is best-effort; a metrics
// failure never blocks the guarded operation.
package safety

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/telemetry"
)

// Store is the persistence surface the recorder needs.
type Store interface {
	IncrementSafetyCounter(ctx context.Context, period string, counter model.SafetyCounter, delta int64) error
	GetSafetyMetrics(ctx context.Context, period string) (model.SafetyMetrics, error)
}

// Recorder increments safety counters. Safe for concurrent use.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	counter metric.Int64Counter
}

// NewRecorder creates a Recorder backed by store. store may be nil in tests,
// in which case only OTEL counters are emitted.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	meter := telemetry.Meter("sentia/safety")
	c, _ := meter.Int64Counter("sentia.safety.events",
		metric.WithDescription("Safety governance events by counter type"),
	)
	return &Recorder{store: store, logger: logger, counter: c}
}

// Record increments one counter for today's period.
func (r *Recorder) Record(ctx context.Context, counter model.SafetyCounter) {
	r.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("counter", string(counter)),
	))
	if r.store == nil {
		return
	}
	period := time.Now().UTC().Format("2006-01-02")
	if err := r.store.IncrementSafetyCounter(ctx, period, counter, 1); err != nil {
		r.logger.Warn("safety: counter increment failed", "counter", counter, "error", err)
	}
}

// Today returns the persisted aggregate for the current UTC day.
func (r *Recorder) Today(ctx context.Context) (model.SafetyMetrics, error) {
	period := time.Now().UTC().Format("2006-01-02")
	if r.store == nil {
		return model.SafetyMetrics{Period: period}, nil
	}
	return r.store.GetSafetyMetrics(ctx, period)
}
