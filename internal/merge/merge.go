// Package merge implements the merge coordinator: one process-wide lock
// serializing every merge attempt, plus rebase-conflict recovery. The
// lock itself is a plain sync.Mutex rather than an implicit
// single-loop queue, since an explicit lock makes the "one merge holds
// it for its full duration" guarantee checkable by inspection rather
// than by tracing a goroutine's call graph.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kagan-dev/kagan/internal/kerr"
	"github.com/kagan-dev/kagan/internal/task"
	"github.com/kagan-dev/kagan/internal/workspace"
)

// Outcome is the result of one merge_task call.
type Outcome struct {
	OK             bool
	RebaseConflict bool
	ConflictFiles  []string
	MergeFailed    bool
	Error          string
}

// Coordinator serializes merges across tasks with one process-wide lock.
type Coordinator struct {
	Workspace           *workspace.Manager
	AutoRetryOnConflict bool
	SquashMerge         bool

	mu sync.Mutex
}

// MergeTask runs the four-step merge process for t against baseBranch.
// The lock is released on every exit path via defer.
func (c *Coordinator) MergeTask(ctx context.Context, t *task.Task, baseBranch string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	rebase, err := c.Workspace.RebaseOnto(ctx, t.ID, baseBranch)
	if err != nil {
		return Outcome{OK: false, MergeFailed: true, Error: err.Error()}
	}
	if !rebase.OK {
		if c.AutoRetryOnConflict {
			return Outcome{
				OK:             false,
				RebaseConflict: true,
				ConflictFiles:  rebase.ConflictFiles,
				Error:          rebase.Message,
			}
		}
		return Outcome{OK: false, MergeFailed: true, Error: rebase.Message}
	}

	mode := workspace.MergeCommit
	if c.SquashMerge {
		mode = workspace.Squash
	}

	ok, msg, err := c.Workspace.Merge(ctx, t.ID, baseBranch, mode, t.Title)
	if err != nil {
		return Outcome{OK: false, MergeFailed: true, Error: classifyError(err)}
	}
	if !ok {
		return Outcome{OK: false, MergeFailed: true, Error: msg}
	}

	if err := c.Workspace.Push(ctx, baseBranch); err != nil {
		return Outcome{OK: false, MergeFailed: true, Error: fmt.Sprintf("merged but push failed: %v", err)}
	}

	return Outcome{OK: true}
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, kerr.ErrMergeConflict):
		return "merge conflict: " + err.Error()
	case errors.Is(err, kerr.ErrMergePrecondition):
		return "merge precondition failed: " + err.Error()
	default:
		return err.Error()
	}
}
