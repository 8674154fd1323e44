package scheduler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

// Notification summarizes one autopilot firing for downstream consumers.
type Notification struct {
	Title            string           `json:"title"`
	ScheduleID       uuid.UUID        `json:"schedule_id"`
	ScheduleName     string           `json:"schedule_name"`
	RunID            uuid.UUID        `json:"run_id,omitempty"`
	Mode             model.Mode       `json:"mode"`
	Status           model.RunStatus  `json:"status,omitempty"`
	Scorecard        *model.Scorecard `json:"scorecard,omitempty"`
	Projected        map[string]any   `json:"projected_outcomes,omitempty"`
	RequiresApproval bool             `json:"requires_approval"`
	Error            string           `json:"error,omitempty"`
}

// Notifier dispatches run summaries. Implementations must tolerate failure:
// a lost notification never fails the run it describes.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Close() error
}

// LogNotifier writes notifications to the structured log. The default when
// no message broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("autopilot notification",
		"title", n.Title,
		"schedule_id", n.ScheduleID,
		"schedule", n.ScheduleName,
		"run_id", n.RunID,
		"mode", n.Mode,
		"status", n.Status,
		"requires_approval", n.RequiresApproval,
		"error", n.Error)
	return nil
}

// Close implements Notifier.
func (l *LogNotifier) Close() error { return nil }
