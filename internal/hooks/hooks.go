// Package hooks exposes non-blocking entry points for upstream completion flows.
// Accounting failures are logged and counted, never returned to the caller, so
// the upstream action that triggered them always goes through.
package hooks

import (
	"context"
	"time"

	prommetrics "github.com/aimd54/gem-progression/internal/metrics"
	"github.com/aimd54/gem-progression/internal/service/engine"
	"github.com/aimd54/gem-progression/pkg/logger"
)

// Hook names used in logs and metrics.
const (
	HookTaskCompleted     = "task_completed"
	HookPomodoroCompleted = "pomodoro_completed"
	HookEndOfDay          = "end_of_day"
)

const defaultTimeout = 10 * time.Second

// Engine is the subset of the reward engine the hooks drive.
type Engine interface {
	OnTaskCompleted(ctx context.Context, userID string, taskID uint) (*engine.IngestResult, error)
	OnPomodoroCompleted(ctx context.Context, userID string, sessionID uint) (*engine.IngestResult, error)
	OnEndOfDay(ctx context.Context, userID string, date time.Time) (*engine.IngestResult, error)
}

// Hooks wraps the engine for upstream callers.
type Hooks struct {
	engine  Engine
	timeout time.Duration
	log     *logger.Logger
}

// New creates hooks around an engine.
func New(e Engine, log *logger.Logger) *Hooks {
	return &Hooks{engine: e, timeout: defaultTimeout, log: log.Component("hooks")}
}

// TaskCompleted credits a completed task. It returns nil when accounting failed.
func (h *Hooks) TaskCompleted(ctx context.Context, userID string, taskID uint) *engine.IngestResult {
	return h.run(ctx, HookTaskCompleted, userID, taskID, func(ctx context.Context) (*engine.IngestResult, error) {
		return h.engine.OnTaskCompleted(ctx, userID, taskID)
	})
}

// PomodoroCompleted credits a finished focus session. It returns nil when accounting failed.
func (h *Hooks) PomodoroCompleted(ctx context.Context, userID string, sessionID uint) *engine.IngestResult {
	return h.run(ctx, HookPomodoroCompleted, userID, sessionID, func(ctx context.Context) (*engine.IngestResult, error) {
		return h.engine.OnPomodoroCompleted(ctx, userID, sessionID)
	})
}

// EndOfDay applies the end-of-day bonus. It returns nil when accounting failed.
func (h *Hooks) EndOfDay(ctx context.Context, userID string, date time.Time) *engine.IngestResult {
	return h.run(ctx, HookEndOfDay, userID, 0, func(ctx context.Context) (*engine.IngestResult, error) {
		return h.engine.OnEndOfDay(ctx, userID, date)
	})
}

// TaskCompletedAsync runs TaskCompleted in the background. The returned
// channel yields the result (nil on failure) and is then closed.
func (h *Hooks) TaskCompletedAsync(ctx context.Context, userID string, taskID uint) <-chan *engine.IngestResult {
	return async(func() *engine.IngestResult { return h.TaskCompleted(ctx, userID, taskID) })
}

// PomodoroCompletedAsync runs PomodoroCompleted in the background.
func (h *Hooks) PomodoroCompletedAsync(ctx context.Context, userID string, sessionID uint) <-chan *engine.IngestResult {
	return async(func() *engine.IngestResult { return h.PomodoroCompleted(ctx, userID, sessionID) })
}

// EndOfDayAsync runs EndOfDay in the background.
func (h *Hooks) EndOfDayAsync(ctx context.Context, userID string, date time.Time) <-chan *engine.IngestResult {
	return async(func() *engine.IngestResult { return h.EndOfDay(ctx, userID, date) })
}

// async buffers the single result so callers may drop the channel.
func async(fn func() *engine.IngestResult) <-chan *engine.IngestResult {
	out := make(chan *engine.IngestResult, 1)
	go func() {
		defer close(out)
		out <- fn()
	}()
	return out
}

// run detaches from the caller's cancellation so an upstream request that
// finishes early does not abort accounting halfway through.
func (h *Hooks) run(ctx context.Context, hook, userID string, ref uint, fn func(context.Context) (*engine.IngestResult, error)) (result *engine.IngestResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			prommetrics.RecordIngestionFailure(hook)
			h.log.Error().
				Interface("panic", r).
				Str("hook", hook).
				Str("user_id", userID).
				Msg("Reward hook panicked")
			result = nil
		}
	}()

	res, err := fn(ctx)
	if err != nil {
		prommetrics.RecordIngestionFailure(hook)
		h.log.Error().
			Err(err).
			Str("hook", hook).
			Str("user_id", userID).
			Uint("ref_id", ref).
			Msg("Reward accounting failed")
		return nil
	}
	return res
}
