package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kagan-dev/kagan/internal/task"
)

// Janitor reconciles ExecutionRun bookkeeping against process restarts.
// A startup pass marks every run still
// "running" from a previous process as orphaned, since resuming agent
// lifecycle management on restart implies reconciling whatever the last
// process left running, and a periodic pass marks a run "stale" once it
// has been running longer than MaxRunDuration and bounces the owning
// task back to BACKLOG.
type Janitor struct {
	Store          task.Store
	Logger         *slog.Logger
	MaxRunDuration time.Duration
}

// ReconcileOnStartup marks every ExecutionRun left "running" by an
// unclean prior exit as failed/orphaned.
func (j *Janitor) ReconcileOnStartup(ctx context.Context) error {
	runs, err := j.Store.RunningExecutionRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if err := j.Store.CompleteExecutionRun(ctx, r.ID, "failed", "orphaned"); err != nil {
			j.logger().Warn("janitor: mark orphaned run failed", "run_id", r.ID, "error", err)
			continue
		}
		j.logger().Info("janitor: marked orphaned run failed", "run_id", r.ID, "task_id", r.TaskID)
	}
	return nil
}

// RunPeriodic sweeps stale runs every interval until ctx is cancelled.
func (j *Janitor) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweepStale(ctx)
		}
	}
}

func (j *Janitor) sweepStale(ctx context.Context) {
	runs, err := j.Store.RunningExecutionRuns(ctx)
	if err != nil {
		j.logger().Error("janitor: list running runs", "error", err)
		return
	}
	maxDuration := j.MaxRunDuration
	if maxDuration <= 0 {
		maxDuration = 2 * time.Hour
	}
	now := time.Now()
	for _, r := range runs {
		if now.Sub(r.StartedAt) <= maxDuration {
			continue
		}
		if err := j.Store.CompleteExecutionRun(ctx, r.ID, "failed", "stale"); err != nil {
			j.logger().Warn("janitor: mark stale run failed", "run_id", r.ID, "error", err)
			continue
		}
		if err := j.Store.Move(ctx, r.TaskID, task.StatusBacklog); err != nil {
			j.logger().Warn("janitor: return stale task to backlog", "task_id", r.TaskID, "error", err)
			continue
		}
		j.logger().Warn("janitor: stale run returned task to backlog", "task_id", r.TaskID, "run_id", r.ID)
	}
}

func (j *Janitor) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
