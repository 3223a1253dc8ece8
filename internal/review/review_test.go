package review_test

import (
	"context"
	"testing"

	"github.com/kagan-dev/kagan/internal/agentdriver"
	"github.com/kagan-dev/kagan/internal/agentdrivertest"
	"github.com/kagan-dev/kagan/internal/review"
	"github.com/kagan-dev/kagan/internal/task"
	"github.com/kagan-dev/kagan/internal/workspacetest"
)

func newTask(t *testing.T) *task.Task {
	return &task.Task{ID: "t1", Title: "Add widget", Description: "Adds a widget."}
}

func TestReviewApprove(t *testing.T) {
	fx := workspacetest.New(t)
	ctx := context.Background()
	if _, err := fx.Manager.Create(ctx, "t1", "Add widget", "main"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fake := &agentdrivertest.FakeDriver{Responses: []string{`Looks good. <approve summary="ships clean"/>`}}
	engine := &review.Engine{
		Workspace: fx.Manager,
		NewDriver: func() agentdriver.Driver { return fake },
	}

	result := engine.Run(ctx, newTask(t), "main")
	if !result.Approved {
		t.Fatalf("Run() = %+v, want Approved", result)
	}
	if result.Detail != "ships clean" {
		t.Errorf("Run().Detail = %q, want %q", result.Detail, "ships clean")
	}
	if !fake.Stopped() {
		t.Errorf("review driver was not stopped")
	}
}

func TestReviewRejectOnNoSignal(t *testing.T) {
	fx := workspacetest.New(t)
	ctx := context.Background()
	if _, err := fx.Manager.Create(ctx, "t2", "Add widget", "main"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fake := &agentdrivertest.FakeDriver{Responses: []string{"This needs more work, no clear verdict."}}
	engine := &review.Engine{
		Workspace: fx.Manager,
		NewDriver: func() agentdriver.Driver { return fake },
	}

	task2 := newTask(t)
	task2.ID = "t2"
	result := engine.Run(ctx, task2, "main")
	if result.Approved {
		t.Fatalf("Run() = %+v, want not Approved", result)
	}
	if result.Detail != "no review signal" {
		t.Errorf("Run().Detail = %q, want %q", result.Detail, "no review signal")
	}
}

func TestReviewNoWorktree(t *testing.T) {
	fx := workspacetest.New(t)
	engine := &review.Engine{
		Workspace: fx.Manager,
		NewDriver: func() agentdriver.Driver { return &agentdrivertest.FakeDriver{} },
	}

	result := engine.Run(context.Background(), newTask(t), "main")
	if result.Approved {
		t.Fatalf("Run() = %+v, want not Approved when no worktree exists", result)
	}
}
