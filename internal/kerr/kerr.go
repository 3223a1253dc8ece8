// Package kerr names the error taxonomy shared across the task execution
// subsystem . These are sentinel kinds, not concrete types: callers
// match with errors.Is against the wrapped sentinel, and the human detail
// travels in the wrapping error's message.
package kerr

import "errors"

var (
	// ErrAgentStartupFailure covers a missing executable, a failed
	// initialize handshake, or a wait_ready timeout.
	ErrAgentStartupFailure = errors.New("agent startup failure")

	// ErrAgentRuntimeError covers an RPC error or a subprocess crash
	// while a prompt is in flight.
	ErrAgentRuntimeError = errors.New("agent runtime error")

	// ErrRebaseConflict is returned by WorkspaceManager.RebaseOnto when
	// the rebase fails but no conflicting paths can be listed; a conflict
	// with known paths is reported in RebaseResult instead.
	ErrRebaseConflict = errors.New("rebase conflict")

	// ErrMergeConflict is returned when the merge itself (after a clean
	// rebase) leaves conflict markers.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrMergePrecondition is returned when the base working copy has
	// foreign (non-allowlisted) uncommitted changes.
	ErrMergePrecondition = errors.New("merge precondition failure")

	// ErrCancelled names cooperative cancellation. No package here
	// returns it; the scheduler detects cancellation through context
	// errors and skips failure reporting for it.
	ErrCancelled = errors.New("cancelled")
)
