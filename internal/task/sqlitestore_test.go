package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	submitted := &Task{Title: "Add X", Description: "adds x", Type: TypeAuto, Priority: PriorityHigh}
	if err := s.Create(ctx, submitted); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := s.Get(ctx, submitted.ID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}

	want := &Task{
		ID:          submitted.ID,
		Title:       "Add X",
		Description: "adds x",
		Status:      StatusBacklog,
		Type:        TypeAuto,
		Priority:    PriorityHigh,
	}
	diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Task{}, "CreatedAt", "UpdatedAt"))
	if diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
}

func TestMoveEmitsStatusChange(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := &Task{Title: "T", Type: TypeAuto}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	events := s.Subscribe(ctx)

	if err := s.Move(ctx, tk.ID, StatusInProgress); err != nil {
		t.Fatalf("Move: %v", err)
	}

	select {
	case ev := <-events:
		if ev.TaskID != tk.ID || ev.Old != StatusBacklog || ev.New != StatusInProgress {
			t.Errorf("got %+v, want BACKLOG->IN_PROGRESS for %s", ev, tk.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status-change event")
	}
}

func TestMoveNoOpDoesNotEmit(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := &Task{Title: "T", Type: TypeAuto}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	events := s.Subscribe(ctx)

	if err := s.Move(ctx, tk.ID, StatusBacklog); err != nil {
		t.Fatalf("Move: %v", err)
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for no-op move: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIncrementTotalIterations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := &Task{Title: "T", Type: TypeAuto}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrementTotalIterations(ctx, tk.ID); err != nil {
			t.Fatalf("IncrementTotalIterations: %v", err)
		}
	}

	got, _, _ := s.Get(ctx, tk.ID)
	if got.TotalIterations != 3 {
		t.Errorf("TotalIterations = %d, want 3", got.TotalIterations)
	}
}

func TestScratchpadTruncation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := &Task{Title: "T", Type: TypeAuto}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	big := make([]byte, ScratchpadTailBytes+500)
	for i := range big {
		big[i] = 'x'
	}
	if err := s.UpdateScratchpad(ctx, tk.ID, string(big)); err != nil {
		t.Fatalf("UpdateScratchpad: %v", err)
	}

	got, err := s.GetScratchpad(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetScratchpad: %v", err)
	}
	if len(got) != ScratchpadTailBytes {
		t.Errorf("scratchpad len = %d, want %d", len(got), ScratchpadTailBytes)
	}
}

func TestExecutionRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := &Task{Title: "T", Type: TypeAuto}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	run := &ExecutionRun{TaskID: tk.ID}
	if err := s.CreateExecutionRun(ctx, run); err != nil {
		t.Fatalf("CreateExecutionRun: %v", err)
	}
	if err := s.AppendRunMessage(ctx, run.ID, RunMessage{Kind: "text", Text: "working..."}); err != nil {
		t.Fatalf("AppendRunMessage: %v", err)
	}

	running, err := s.RunningExecutionRuns(ctx)
	if err != nil || len(running) != 1 {
		t.Fatalf("RunningExecutionRuns: %v, len=%d", err, len(running))
	}

	if err := s.CompleteExecutionRun(ctx, run.ID, "complete", "complete"); err != nil {
		t.Fatalf("CompleteExecutionRun: %v", err)
	}

	running, err = s.RunningExecutionRuns(ctx)
	if err != nil || len(running) != 0 {
		t.Fatalf("expected no running runs after completion, got %d (err=%v)", len(running), err)
	}
}
