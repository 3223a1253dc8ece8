package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kagan-dev/kagan/internal/agentdriver"
	"github.com/kagan-dev/kagan/internal/config"
	"github.com/kagan-dev/kagan/internal/merge"
	"github.com/kagan-dev/kagan/internal/notify"
	"github.com/kagan-dev/kagan/internal/review"
	"github.com/kagan-dev/kagan/internal/scheduler"
	"github.com/kagan-dev/kagan/internal/task"
	"github.com/kagan-dev/kagan/internal/workspace"
)

// newLogger builds the process-wide slog.Logger: a text handler to
// stderr, parameterized by --log-level instead of a fixed verbosity.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// loadConfig loads configuration from --config layered over defaults and
// KAGAN_-prefixed environment variables.
func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

// defaultCommandResolver maps an agent identity to its launch command,
// in the same fixed-flag-set shape used for spawning
// a single coding-agent CLI, extended to the three supported backends
// (Claude Code, OpenCode, Codex) instead of only one.
func defaultCommandResolver(identity string) ([]string, error) {
	switch identity {
	case "claude":
		return []string{"claude", "--experimental-acp"}, nil
	case "opencode":
		return []string{"opencode", "--acp"}, nil
	case "codex":
		return []string{"codex", "acp"}, nil
	default:
		return nil, fmt.Errorf("unknown agent identity %q", identity)
	}
}

// buildScheduler wires every component the Scheduler depends on: the
// SQLite-backed TaskStore, the git-worktree WorkspaceManager, a fresh
// ReviewEngine, the MergeCoordinator, and a file-backed Notifier.
func buildScheduler(store *task.SQLiteStore, cfg *config.Config, logger *slog.Logger) *scheduler.Scheduler {
	ws := workspace.New(flagRepoRoot, ".kagan/worktrees")

	newDriver := func(driverCfg agentdriver.Config) agentdriver.Driver {
		return agentdriver.New(driverCfg)
	}

	reviewEngine := &review.Engine{
		Workspace: ws,
		NewDriver: func() agentdriver.Driver {
			command, _ := defaultCommandResolver(cfg.DefaultReviewAgent)
			return agentdriver.New(agentdriver.Config{
				Command:     command,
				AutoApprove: agentdriver.AutoApproveOn,
			})
		},
		ReadyTimeout: cfg.AgentReadyTimeout,
	}

	mergeCoordinator := &merge.Coordinator{
		Workspace:           ws,
		AutoRetryOnConflict: cfg.AutoRetryOnMergeConflict,
		SquashMerge:         cfg.SquashMerge,
	}

	notifier := notify.NewFileNotifier(".kagan/notifications.log")

	return scheduler.New(store, ws, reviewEngine, mergeCoordinator, notifier, newDriver, defaultCommandResolver, cfg, logger)
}

// newJanitor builds the background reconciliation/stale-run sweeper.
func newJanitor(store *task.SQLiteStore, cfg *config.Config, logger *slog.Logger) *scheduler.Janitor {
	return &scheduler.Janitor{Store: store, Logger: logger, MaxRunDuration: cfg.MaxRunDuration}
}

// janitorSweepInterval is how often the background janitor checks for
// stale ExecutionRuns once the process is up.
const janitorSweepInterval = 5 * time.Minute
