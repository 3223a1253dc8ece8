// Package review implements the review step run on a task once its
// worker iteration loop reports completion: a fresh, read-only,
// auto-approved agent reads the diff and renders a verdict, built from
// title/description/commit-log/diff-stats and an approve/reject signal
// scan, expressed as six explicit steps with driver.Stop guaranteed on
// every exit path.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/kagan-dev/kagan/internal/agentdriver"
	"github.com/kagan-dev/kagan/internal/prompt"
	"github.com/kagan-dev/kagan/internal/signal"
	"github.com/kagan-dev/kagan/internal/task"
	"github.com/kagan-dev/kagan/internal/workspace"
)

// DriverFactory constructs a fresh Driver for one review run. Kept as a
// function value rather than a concrete constructor so tests can inject
// a fake driver without starting a real subprocess.
type DriverFactory func() agentdriver.Driver

// Engine runs the review step for one task at a time; it holds no
// per-task state between calls.
type Engine struct {
	Workspace    *workspace.Manager
	NewDriver    DriverFactory
	ReadyTimeout time.Duration
}

// Result is the review verdict persisted onto the task.
type Result struct {
	Approved bool
	Detail   string
}

// Run executes the six-step review process against t's worktree,
// comparing against baseBranch.
func (e *Engine) Run(ctx context.Context, t *task.Task, baseBranch string) Result {
	worktreePath, ok := e.Workspace.GetPath(t.ID)
	if !ok {
		return Result{Approved: false, Detail: "no worktree for task"}
	}

	commits, _ := e.Workspace.CommitLog(ctx, t.ID, baseBranch)
	diffStats, _ := e.Workspace.DiffStats(ctx, t.ID, baseBranch)

	text, err := prompt.BuildReview(prompt.ReviewData{
		Task:      t,
		CommitLog: commits,
		DiffStats: diffStats,
	})
	if err != nil {
		return Result{Approved: false, Detail: fmt.Sprintf("failed to build review prompt: %v", err)}
	}

	driver := e.NewDriver()
	defer func() { _ = driver.Stop(context.Background()) }()

	if err := driver.Start(ctx, worktreePath, "", true); err != nil {
		return Result{Approved: false, Detail: fmt.Sprintf("review agent error: %v", err)}
	}

	readyTimeout := e.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 60 * time.Second
	}
	if err := driver.WaitReady(ctx, readyTimeout); err != nil {
		return Result{Approved: false, Detail: "review agent timed out"}
	}

	if _, err := driver.SendPrompt(ctx, text); err != nil {
		return Result{Approved: false, Detail: fmt.Sprintf("review agent error: %v", err)}
	}

	sig := signal.ParseReview(driver.ResponseText())
	switch sig.Kind {
	case signal.Approve:
		return Result{Approved: true, Detail: sig.Summary}
	default:
		return Result{Approved: false, Detail: sig.Reason}
	}
}
