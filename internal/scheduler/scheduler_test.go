package scheduler_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kagan-dev/kagan/internal/agentdriver"
	"github.com/kagan-dev/kagan/internal/agentdrivertest"
	"github.com/kagan-dev/kagan/internal/config"
	"github.com/kagan-dev/kagan/internal/merge"
	"github.com/kagan-dev/kagan/internal/review"
	"github.com/kagan-dev/kagan/internal/scheduler"
	"github.com/kagan-dev/kagan/internal/task"
	"github.com/kagan-dev/kagan/internal/workspacetest"
)

// testHarness wires a Scheduler over an in-memory store and a real git
// fixture, with every driver scripted by agentdrivertest.FakeDriver.
type testHarness struct {
	store  *task.SQLiteStore
	sched  *scheduler.Scheduler
	driver *agentdrivertest.FakeDriver
}

func newHarness(t *testing.T, cfg *config.Config, responses []string) *testHarness {
	t.Helper()

	fx := workspacetest.New(t)
	store, err := task.Open(":memory:")
	if err != nil {
		t.Fatalf("task.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	driver := &agentdrivertest.FakeDriver{Responses: responses}
	newDriver := func(agentdriver.Config) agentdriver.Driver { return driver }

	reviewEngine := &review.Engine{
		Workspace: fx.Manager,
		NewDriver: func() agentdriver.Driver { return &agentdrivertest.FakeDriver{Responses: []string{`<approve summary="ok"/>`}} },
	}
	mergeCoordinator := &merge.Coordinator{Workspace: fx.Manager, SquashMerge: true}

	resolver := func(string) ([]string, error) { return []string{"fake-agent"}, nil }

	sched := scheduler.New(store, fx.Manager, reviewEngine, mergeCoordinator, nil, newDriver, resolver, cfg, nil)
	return &testHarness{store: store, sched: sched, driver: driver}
}

func baseConfig() *config.Config {
	cfg, _ := config.Load("")
	cfg.IterationDelay = time.Millisecond
	cfg.AgentReadyTimeout = time.Second
	cfg.AutoMerge = true
	return cfg
}

func createAutoTask(t *testing.T, store *task.SQLiteStore, id, title string) *task.Task {
	t.Helper()
	tk := &task.Task{ID: id, Title: title, Description: "desc", Type: task.TypeAuto, BaseBranch: "main"}
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tk
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestSchedulerCompletesAndMerges(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg, []string{`Done. <complete/>`})

	tk := createAutoTask(t, h.store, "t1", "Add widget")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sched.Start(ctx)
	defer func() { _ = h.sched.Shutdown(context.Background()) }()

	ok, err := h.sched.SpawnFor(tk)
	if err != nil || !ok {
		t.Fatalf("SpawnFor() = (%v, %v), want (true, nil)", ok, err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, found, _ := h.store.Get(ctx, "t1")
		return found && got.Status == task.StatusDone
	})

	got, _, _ := h.store.Get(ctx, "t1")
	if !got.ChecksPassed {
		t.Errorf("ChecksPassed = false, want true after approved review")
	}
}

func TestSchedulerBlocksOnFirstIteration(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg, []string{`Can't proceed. <blocked reason="missing credentials"/>`})

	tk := createAutoTask(t, h.store, "t2", "Add widget")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sched.Start(ctx)
	defer func() { _ = h.sched.Shutdown(context.Background()) }()

	if _, err := h.sched.SpawnFor(tk); err != nil {
		t.Fatalf("SpawnFor: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, found, _ := h.store.Get(ctx, "t2")
		return found && got.Status == task.StatusBacklog &&
			strings.Contains(got.Scratchpad, "--- BLOCKED --- reason: missing credentials")
	})
}

func TestSchedulerMaxIterationsWithoutSignal(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxIterations = 2
	h := newHarness(t, cfg, []string{"still working", "still working"})

	tk := createAutoTask(t, h.store, "t3", "Add widget")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sched.Start(ctx)
	defer func() { _ = h.sched.Shutdown(context.Background()) }()

	if _, err := h.sched.SpawnFor(tk); err != nil {
		t.Fatalf("SpawnFor: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, found, _ := h.store.Get(ctx, "t3")
		return found && got.Status == task.StatusBacklog &&
			strings.Contains(got.Scratchpad, "--- MAX ITERATIONS ---")
	})
	if h.driver.CallCount() != 2 {
		t.Errorf("CallCount() = %d, want 2 (exactly max_iterations sends)", h.driver.CallCount())
	}
}

func TestSchedulerConcurrencyCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentAgents = 2
	cfg.IterationDelay = 200 * time.Millisecond
	h := newHarness(t, cfg, []string{"still working"})

	tasks := []*task.Task{
		createAutoTask(t, h.store, "a", "Add a"),
		createAutoTask(t, h.store, "b", "Add b"),
		createAutoTask(t, h.store, "c", "Add c"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sched.Start(ctx)
	defer func() { _ = h.sched.Shutdown(context.Background()) }()

	for _, tk := range tasks {
		if _, err := h.sched.SpawnFor(tk); err != nil {
			t.Fatalf("SpawnFor(%s): %v", tk.ID, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return h.sched.RunningCount() > 0 })
	if n := h.sched.RunningCount(); n > 2 {
		t.Errorf("RunningCount() = %d, want <= 2 (max_concurrent_agents)", n)
	}
}

func TestSchedulerStopTaskCancelsRun(t *testing.T) {
	cfg := baseConfig()
	cfg.IterationDelay = 5 * time.Second
	h := newHarness(t, cfg, []string{"still working"})

	tk := createAutoTask(t, h.store, "t5", "Add widget")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sched.Start(ctx)
	defer func() { _ = h.sched.Shutdown(context.Background()) }()

	if _, err := h.sched.SpawnFor(tk); err != nil {
		t.Fatalf("SpawnFor: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return h.sched.IsRunning("t5") })

	wasRunning := h.sched.StopTask("t5")
	if !wasRunning {
		t.Errorf("StopTask() = false, want true (agent was running)")
	}

	waitFor(t, 2*time.Second, func() bool { return !h.sched.IsRunning("t5") })
}
