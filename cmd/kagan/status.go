package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kagan-dev/kagan/internal/task"
)

// newStatusCmd prints per-status task counts and a humanized view of
// what's currently in progress, adapted to this system's plain
// four-state lifecycle.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-status task counts and currently running agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	store, err := task.Open(flagDBPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	fmt.Println("=== Kagan Status ===")
	fmt.Println()

	statuses := []task.Status{task.StatusBacklog, task.StatusInProgress, task.StatusReview, task.StatusDone}
	for _, st := range statuses {
		tasks, err := store.ListByStatus(ctx, st)
		if err != nil {
			return fmt.Errorf("list %s: %w", st, err)
		}
		fmt.Printf("%-12s %d\n", st, len(tasks))
	}

	fmt.Println()
	fmt.Println("In progress:")
	inProgress, err := store.ListByStatus(ctx, task.StatusInProgress)
	if err != nil {
		return err
	}
	if len(inProgress) == 0 {
		fmt.Println("  (none)")
	}
	for _, t := range inProgress {
		fmt.Printf("  %-36s %-30s iter=%d updated %s\n",
			t.ID, t.Title, t.TotalIterations, humanize.Time(t.UpdatedAt))
	}
	return nil
}
