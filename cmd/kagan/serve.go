package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kagan-dev/kagan/internal/task"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, reacting to board state changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(flagLogLevel)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := task.Open(flagDBPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	janitor := newJanitor(store, cfg, logger)
	if err := janitor.ReconcileOnStartup(ctx); err != nil {
		logger.Warn("startup reconciliation failed", "error", err)
	}
	go janitor.RunPeriodic(ctx, janitorSweepInterval)

	sched := buildScheduler(store, cfg, logger)

	if flagConfig != "" {
		stopWatch, err := watchConfigInto(flagConfig, sched)
		if err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}

	sched.Start(ctx)
	if err := sched.InitializeExisting(ctx); err != nil {
		logger.Warn("initialize_existing failed", "error", err)
	}

	logger.Info("kagan: serving", "db", flagDBPath, "repo", flagRepoRoot, "max_concurrent_agents", cfg.MaxConcurrentAgents)

	<-ctx.Done()
	logger.Info("kagan: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return sched.Shutdown(shutdownCtx)
}
