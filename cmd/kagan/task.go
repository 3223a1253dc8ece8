package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kagan-dev/kagan/internal/task"
)

// newTaskCmd is a minimal stand-in for the out-of-scope board UI: enough
// to create and inspect tasks so `kagan serve` has something to react
// to, not a replacement for the Kanban board itself. These commands open
// their own store, so a `kagan serve` already running sees no events from
// them; it picks up IN_PROGRESS AUTO tasks when it next starts with
// auto_start enabled.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and inspect tasks",
	}
	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskMoveCmd())
	return cmd
}

func newTaskCreateCmd() *cobra.Command {
	var (
		description  string
		taskType     string
		priority     string
		agentBackend string
		baseBranch   string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a new task in BACKLOG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := task.Open(flagDBPath)
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			defer store.Close()

			t := &task.Task{
				Title:        args[0],
				Description:  description,
				Type:         task.Type(taskType),
				Priority:     task.Priority(priority),
				AgentBackend: agentBackend,
				BaseBranch:   baseBranch,
			}
			if t.Type == "" {
				t.Type = task.TypeAuto
			}
			if err := store.Create(cmd.Context(), t); err != nil {
				return fmt.Errorf("create task: %w", err)
			}
			fmt.Println(t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&taskType, "type", string(task.TypeAuto), "AUTO or PAIR")
	cmd.Flags().StringVar(&priority, "priority", string(task.PriorityMedium), "LOW, MEDIUM, or HIGH")
	cmd.Flags().StringVar(&agentBackend, "agent", "", "preferred agent identity")
	cmd.Flags().StringVar(&baseBranch, "base-branch", "", "override the default base branch")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var statusFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskList(cmd.Context(), statusFilter)
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by BACKLOG, IN_PROGRESS, REVIEW, or DONE")
	return cmd
}

func runTaskList(ctx context.Context, statusFilter string) error {
	store, err := task.Open(flagDBPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	statuses := []task.Status{task.StatusBacklog, task.StatusInProgress, task.StatusReview, task.StatusDone}
	if statusFilter != "" {
		statuses = []task.Status{task.Status(statusFilter)}
	}

	for _, st := range statuses {
		tasks, err := store.ListByStatus(ctx, st)
		if err != nil {
			return fmt.Errorf("list %s: %w", st, err)
		}
		for _, t := range tasks {
			fmt.Printf("%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Type, t.Title)
		}
	}
	return nil
}

func newTaskMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <task-id> <status>",
		Short: "Move a task to a new status, e.g. to trigger IN_PROGRESS",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := task.Open(flagDBPath)
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			defer store.Close()
			return store.Move(cmd.Context(), args[0], task.Status(args[1]))
		},
	}
}
