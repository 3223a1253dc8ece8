// Package task defines the Task/ExecutionRun data model and the
// task-storage contract the scheduling core consumes. The concrete
// SQLite-backed store lives in sqlitestore.go; its fields track a board
// task through a plain BACKLOG/IN_PROGRESS/REVIEW/DONE lifecycle, not a
// larger negotiation pipeline.
package task

import "time"

// Status is the task's position in its lifecycle .
type Status string

const (
	StatusBacklog    Status = "BACKLOG"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReview     Status = "REVIEW"
	StatusDone       Status = "DONE"
)

// Type distinguishes unsupervised agent-driven tasks from interactive ones.
type Type string

const (
	TypeAuto Type = "AUTO"
	TypePair Type = "PAIR"
)

// Priority is advisory only; it never gates scheduling .
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Task is the unit of work tracked on the board.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      Status
	Type        Type
	Priority    Priority

	// AgentBackend optionally names a preferred agent identity for this
	// task, overriding Configuration.DefaultWorkerAgent.
	AgentBackend string
	// BaseBranch optionally overrides Configuration.DefaultBaseBranch.
	BaseBranch string

	// Set by ReviewEngine.
	ReviewSummary string
	ChecksPassed  bool

	// Set by MergeCoordinator on failure.
	MergeFailed bool
	MergeError  string

	// TotalIterations is the lifetime odometer: incremented once per
	// executed iteration, across every IN_PROGRESS visit .
	TotalIterations int

	// Scratchpad is append-only free text, bounded to a fixed tail
	// window by TaskStore.UpdateScratchpad.
	Scratchpad string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Patch describes a partial update to a Task. Nil fields are left
// unchanged; this mirrors TaskStore.Update's "atomic fields" contract
//  without requiring every caller to round-trip the full Task.
type Patch struct {
	Status        *Status
	ReviewSummary *string
	ChecksPassed  *bool
	MergeFailed   *bool
	MergeError    *string
	Description   *string
}

// StatusChange is the event shape the store emits on every status
// transition, from any code path: a channel of (task_id, old, new)
// tuples rather than an ambient callback registry.
type StatusChange struct {
	TaskID string
	Old    Status // zero value "" means "task just created"
	New    Status // zero value "" means "task deleted"
}

// ExecutionRun is a per-IN_PROGRESS-visit record : the ordered
// agent messages and terminal signal for one visit, persisted so a UI can
// replay history. The iteration loop only appends; the janitor reads
// back runs still marked "running".
type ExecutionRun struct {
	ID        string
	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	// Status is "running", "complete", or "failed" — the last value set
	// by the janitor's orphan/stale sweep (see scheduler/janitor.go) if
	// the process exits mid-run.
	Status string
	// Signal is the string form of the terminal signal.Kind this run
	// ended with, "max_iterations" when the loop ran out of iterations,
	// "orphaned" or "stale" when the janitor closed it, or "" while
	// still running.
	Signal string
	// Messages is the ordered log of agent output for this visit: final
	// text chunks, tool-call summaries, and errors. Append-only.
	Messages []RunMessage
}

// RunMessage is one entry in an ExecutionRun's message log.
type RunMessage struct {
	At   time.Time
	Kind string // "text", "tool_call", "error", ...
	Text string
}
