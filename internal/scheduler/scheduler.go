// Package scheduler implements the single-consumer event loop that turns
// task status changes into agent spawn/stop decisions: one struct
// holding all mutable state explicitly, driven by a genuine FIFO event
// queue rather than a fixed-interval poll, since status changes arrive
// as discrete events, not on a ticker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kagan-dev/kagan/internal/agentdriver"
	"github.com/kagan-dev/kagan/internal/config"
	"github.com/kagan-dev/kagan/internal/kerr"
	"github.com/kagan-dev/kagan/internal/merge"
	"github.com/kagan-dev/kagan/internal/notify"
	"github.com/kagan-dev/kagan/internal/prompt"
	"github.com/kagan-dev/kagan/internal/review"
	"github.com/kagan-dev/kagan/internal/signal"
	"github.com/kagan-dev/kagan/internal/task"
	"github.com/kagan-dev/kagan/internal/workspace"
)

// capacityBackoff is how long ensureRunning waits before requeuing a
// task whose spawn was deferred by the concurrency cap.
const capacityBackoff = 500 * time.Millisecond

// eventQueueSize bounds the scheduler's FIFO; a slow consumer is not
// expected here since there is exactly one consumer (the worker loop)
// and producers only ever add a handful of synthetic events at once.
const eventQueueSize = 4096

// scratchpadTailChars bounds how much of one iteration's response text
// is appended to the scratchpad banner.
const scratchpadTailChars = 2000

// DriverFactory constructs a fresh agentdriver.Driver for one agent
// identity. Kept as a function value, not a concrete constructor, so
// tests can inject a fake driver without spawning a real subprocess.
type DriverFactory func(cfg agentdriver.Config) agentdriver.Driver

// CommandResolver maps an agent identity (e.g. "claude", "opencode") to
// the command line used to launch it.
type CommandResolver func(agentIdentity string) ([]string, error)

// Scheduler is the single thread of truth for agent lifecycle. All
// mutations of the running set happen on the worker goroutine or under
// mu; nothing here is safe to call concurrently with itself except the
// thread-safe entry points documented below.
type Scheduler struct {
	store     task.Store
	workspace *workspace.Manager
	review    *review.Engine
	merge     *merge.Coordinator
	notifier  notify.Notifier
	newDriver DriverFactory
	command   CommandResolver
	logger    *slog.Logger

	cfg atomicConfig

	sem *semaphore.Weighted

	mu      sync.Mutex
	running map[string]*runningTask

	events chan task.StatusChange

	startOnce  sync.Once
	workerCtx  context.Context
	workerStop context.CancelFunc
	wg         sync.WaitGroup

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// runningTask is RunningTaskState: ephemeral, Scheduler-owned, touched
// only under Scheduler.mu.
type runningTask struct {
	cancel           context.CancelFunc
	done             chan struct{}
	agent            agentdriver.Driver
	sessionIteration int
}

// atomicConfig is a tiny swap-on-write holder so config.Watch's hot
// reload can update knobs the worker loop reads without a lock on every
// access.
type atomicConfig struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func (a *atomicConfig) Load() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *atomicConfig) Store(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

// New constructs a Scheduler. cfg is the initial configuration; call
// SetConfig to apply a hot-reloaded one later.
func New(
	store task.Store,
	ws *workspace.Manager,
	reviewEngine *review.Engine,
	mergeCoordinator *merge.Coordinator,
	notifier notify.Notifier,
	newDriver DriverFactory,
	command CommandResolver,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:     store,
		workspace: ws,
		review:    reviewEngine,
		merge:     mergeCoordinator,
		notifier:  notifier,
		newDriver: newDriver,
		command:   command,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentAgents)),
		running:   make(map[string]*runningTask),
		events:    make(chan task.StatusChange, eventQueueSize),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
	s.cfg.Store(cfg)
	return s
}

// SetConfig applies a freshly loaded configuration. The concurrency
// semaphore is sized once in New and is not resized here: a changed
// MaxConcurrentAgents takes effect only when a new Scheduler is
// constructed (a process restart).
func (s *Scheduler) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// Start launches the worker loop and the store-event forwarder.
// Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.workerCtx, s.workerStop = context.WithCancel(ctx)

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.forwardStoreEvents(s.workerCtx)
		}()
		go func() {
			defer s.wg.Done()
			s.run(s.workerCtx)
		}()
	})
}

// forwardStoreEvents bridges TaskStore's own notification channel into
// the scheduler's event queue, so status changes written through the
// store converge through the same FIFO as synthetic events.
func (s *Scheduler) forwardStoreEvents(ctx context.Context) {
	ch := s.store.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.enqueue(ev)
		}
	}
}

func (s *Scheduler) enqueue(ev task.StatusChange) {
	select {
	case s.events <- ev:
	case <-s.workerCtxOrBackground().Done():
	}
}

func (s *Scheduler) workerCtxOrBackground() context.Context {
	if s.workerCtx != nil {
		return s.workerCtx
	}
	return context.Background()
}

// HandleStatusChange is the thread-safe entry point TaskStore's
// notification mechanism calls on every status transition.
func (s *Scheduler) HandleStatusChange(taskID string, old, new task.Status) {
	s.enqueue(task.StatusChange{TaskID: taskID, Old: old, New: new})
}

// InitializeExisting enqueues a synthetic IN_PROGRESS event for every
// AUTO task already IN_PROGRESS at startup, if auto_start is enabled.
func (s *Scheduler) InitializeExisting(ctx context.Context) error {
	cfg := s.cfg.Load()
	if !cfg.AutoStart {
		return nil
	}
	tasks, err := s.store.ListByStatus(ctx, task.StatusInProgress)
	if err != nil {
		return fmt.Errorf("scheduler: initialize_existing: %w", err)
	}
	for _, t := range tasks {
		if t.Type != task.TypeAuto {
			continue
		}
		s.enqueue(task.StatusChange{TaskID: t.ID, Old: "", New: task.StatusInProgress})
	}
	return nil
}

// StopTask enqueues a synthetic teardown event for taskID and reports
// whether an agent was running at the moment of the call (the actual
// teardown happens asynchronously through the event loop).
func (s *Scheduler) StopTask(taskID string) bool {
	s.mu.Lock()
	_, wasRunning := s.running[taskID]
	s.mu.Unlock()
	s.enqueue(task.StatusChange{TaskID: taskID, Old: task.StatusInProgress, New: task.StatusBacklog})
	return wasRunning
}

// SpawnFor is a manual override that enqueues a synthetic IN_PROGRESS
// event; rejected for non-AUTO tasks.
func (s *Scheduler) SpawnFor(t *task.Task) (bool, error) {
	if t.Type != task.TypeAuto {
		return false, fmt.Errorf("scheduler: task %s is not AUTO", t.ID)
	}
	s.enqueue(task.StatusChange{TaskID: t.ID, Old: "", New: task.StatusInProgress})
	return true, nil
}

// Shutdown cancels the worker loop, stops every running agent in
// parallel, then drains and clears state.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.workerStop == nil {
		return nil
	}
	s.workerStop()

	s.mu.Lock()
	var g errgroup.Group
	for _, rt := range s.running {
		rt := rt
		rt.cancel()
		if rt.agent != nil {
			agent := rt.agent
			g.Go(func() error { return agent.Stop(ctx) })
		}
	}
	s.mu.Unlock()

	err := g.Wait()
	s.wg.Wait()

	s.mu.Lock()
	s.running = make(map[string]*runningTask)
	s.mu.Unlock()
	return err
}

// run is the single consumer of s.events.
func (s *Scheduler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

// handleEvent implements the scheduler's five-step dispatch.
func (s *Scheduler) handleEvent(ctx context.Context, ev task.StatusChange) {
	if ev.New == "" {
		s.stopIfRunning(ev.TaskID)
		return
	}

	t, ok, err := s.store.Get(ctx, ev.TaskID)
	if err != nil {
		s.logger.Error("scheduler: get task", "task_id", ev.TaskID, "error", err)
		return
	}
	if !ok || t.Type != task.TypeAuto {
		s.stopIfRunning(ev.TaskID)
		return
	}

	switch {
	case ev.New == task.StatusInProgress:
		s.ensureRunning(ctx, t)
	case ev.Old == task.StatusInProgress && ev.New != task.StatusInProgress:
		s.stopIfRunning(ev.TaskID)
	}
}

// ensureRunning is an idempotent insert-and-spawn, with
// cooperative capacity backoff when the concurrency cap is saturated.
func (s *Scheduler) ensureRunning(ctx context.Context, t *task.Task) {
	s.mu.Lock()
	if _, already := s.running[t.ID]; already {
		s.mu.Unlock()
		return
	}
	if !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		s.logger.Info("scheduler: at capacity, deferring", "task_id", t.ID)
		go func() {
			select {
			case <-time.After(capacityBackoff):
				s.enqueue(task.StatusChange{TaskID: t.ID, Old: "", New: task.StatusInProgress})
			case <-ctx.Done():
			}
		}()
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	rt := &runningTask{cancel: cancel, done: make(chan struct{})}
	s.running[t.ID] = rt
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer close(rt.done)
		s.runTaskLoop(taskCtx, t.ID, rt)

		s.mu.Lock()
		delete(s.running, t.ID)
		s.mu.Unlock()
	}()

	s.logger.Info("scheduler: spawned agent", "task_id", t.ID)
}

// stopIfRunning cancels the worker's token and blocks until the loop
// goroutine has observed cancellation and removed itself. It does not
// itself call driver.Stop: that guarantee lives in runTaskLoop, which
// stops the agent on every one of its own exit paths before rt.done
// closes, so by the time stopIfRunning returns the agent is already
// down.
func (s *Scheduler) stopIfRunning(taskID string) {
	s.mu.Lock()
	rt, ok := s.running[taskID]
	s.mu.Unlock()
	if !ok {
		return
	}
	rt.cancel()
	<-rt.done
}

// RunningCount exposes the current running-set size; used by tests
// asserting the concurrency cap.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// IsRunning reports whether taskID currently has a live agent tracked
// by the scheduler.
func (s *Scheduler) IsRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[taskID]
	return ok
}

// runTaskLoop is the per-task cooperative iteration loop.
func (s *Scheduler) runTaskLoop(ctx context.Context, taskID string, rt *runningTask) {
	falseVal, emptyStr := false, ""
	_ = s.store.Update(ctx, taskID, task.Patch{
		ChecksPassed:  &falseVal,
		ReviewSummary: &emptyStr,
		MergeFailed:   &falseVal,
		MergeError:    &emptyStr,
	})

	t, ok, err := s.store.Get(ctx, taskID)
	if err != nil || !ok {
		s.logger.Error("scheduler: runTaskLoop: task vanished", "task_id", taskID, "error", err)
		return
	}

	cfg := s.cfg.Load()
	baseBranch := t.BaseBranch
	if baseBranch == "" {
		baseBranch = cfg.DefaultBaseBranch
	}

	worktreePath, err := s.workspace.Create(ctx, t.ID, t.Title, baseBranch)
	if err != nil {
		s.blockAndReturn(ctx, taskID, fmt.Sprintf("failed to create worktree: %v", err))
		return
	}

	agentIdentity := t.AgentBackend
	if agentIdentity == "" {
		agentIdentity = cfg.DefaultWorkerAgent
	}
	modelOverride := cfg.DefaultModel[agentIdentity]

	run := &task.ExecutionRun{
		ID:        "",
		TaskID:    t.ID,
		StartedAt: time.Now(),
		Status:    "running",
	}
	_ = s.store.CreateExecutionRun(ctx, run)

	var driver agentdriver.Driver
	endRun := func(status, sig string) {
		run.EndedAt = time.Now()
		_ = s.store.CompleteExecutionRun(ctx, run.ID, status, sig)
	}

	maxIterations := cfg.MaxIterations
	for iteration := 1; iteration <= maxIterations; iteration++ {
		if ctx.Err() != nil {
			if driver != nil {
				_ = driver.Stop(context.Background())
			}
			endRun("failed", signal.Continue.String())
			return
		}

		rt.sessionIteration = iteration
		if err := s.store.IncrementTotalIterations(ctx, taskID); err != nil {
			s.logger.Warn("scheduler: increment_total_iterations", "task_id", taskID, "error", err)
		}

		if driver == nil {
			driver, err = s.startAgent(ctx, taskID, agentIdentity, worktreePath, modelOverride, cfg)
			if err != nil {
				reason := "agent failed to start"
				_ = s.store.AppendRunMessage(ctx, run.ID, task.RunMessage{At: time.Now(), Kind: "error", Text: err.Error()})
				endRun("failed", signal.Blocked.String())
				s.blockAndReturn(ctx, taskID, reason)
				return
			}
			s.mu.Lock()
			rt.agent = driver
			s.mu.Unlock()
		}

		scratchpad, _ := s.store.GetScratchpad(ctx, taskID)
		promptText, err := prompt.BuildIteration(prompt.IterationData{
			Task:          t,
			Iteration:     iteration,
			MaxIterations: maxIterations,
			Scratchpad:    scratchpad,
		})
		if err != nil {
			s.blockAndReturn(ctx, taskID, fmt.Sprintf("failed to build prompt: %v", err))
			_ = driver.Stop(context.Background())
			endRun("failed", signal.Blocked.String())
			return
		}

		_, sendErr := driver.SendPrompt(ctx, promptText)
		if sendErr != nil {
			if errors.Is(sendErr, context.Canceled) || ctx.Err() != nil {
				_ = driver.Stop(context.Background())
				endRun("failed", signal.Continue.String())
				return
			}
			reason := fmt.Sprintf("agent error: %v", sendErr)
			_ = s.store.AppendRunMessage(ctx, run.ID, task.RunMessage{At: time.Now(), Kind: "error", Text: sendErr.Error()})
			_ = driver.Stop(context.Background())
			endRun("failed", signal.Blocked.String())
			s.blockAndReturn(ctx, taskID, reason)
			return
		}

		responseText := driver.ResponseText()
		_ = s.store.AppendRunMessage(ctx, run.ID, task.RunMessage{At: time.Now(), Kind: "text", Text: responseText})
		s.appendScratchpadBanner(ctx, taskID, iteration, responseText)

		sig := signal.Parse(responseText)
		switch sig.Kind {
		case signal.Complete:
			_ = driver.Stop(context.Background())
			endRun("complete", sig.Kind.String())
			s.handleComplete(ctx, taskID, baseBranch, cfg)
			return
		case signal.Blocked:
			_ = driver.Stop(context.Background())
			endRun("complete", sig.Kind.String())
			s.handleBlocked(ctx, taskID, sig.Reason)
			return
		}

		select {
		case <-time.After(cfg.IterationDelay):
		case <-ctx.Done():
			_ = driver.Stop(context.Background())
			endRun("failed", signal.Continue.String())
			return
		}
	}

	if driver != nil {
		_ = driver.Stop(context.Background())
	}
	endRun("complete", "max_iterations")
	s.handleMaxIterations(ctx, taskID)
}

// startAgent constructs and starts a fresh Driver, gated by a per-agent-
// identity circuit breaker so a persistently broken executable does not
// hot-loop the iteration every retry.
func (s *Scheduler) startAgent(ctx context.Context, taskID, agentIdentity, worktreePath, modelOverride string, cfg *config.Config) (agentdriver.Driver, error) {
	command, err := s.command(agentIdentity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerr.ErrAgentStartupFailure, err)
	}

	driver := s.newDriver(agentdriver.Config{
		Command:           command,
		AutoApprove:       agentdriver.AutoApprove(cfg.AutoApprove),
		PermissionTimeout: cfg.PermissionTimeout,
		BufferSize:        cfg.MessageBusBufferSize,
	})

	breaker := s.breakerFor(agentIdentity)
	_, err = breaker.Execute(func() (any, error) {
		if err := driver.Start(ctx, worktreePath, modelOverride, false); err != nil {
			return nil, err
		}
		if err := driver.WaitReady(ctx, cfg.AgentReadyTimeout); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		_ = driver.Stop(context.Background())
		return nil, err
	}
	return driver, nil
}

func (s *Scheduler) breakerFor(agentIdentity string) *gobreaker.CircuitBreaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	if b, ok := s.breakers[agentIdentity]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent-startup:" + agentIdentity,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	s.breakers[agentIdentity] = b
	return b
}

func (s *Scheduler) appendScratchpadBanner(ctx context.Context, taskID string, iteration int, responseText string) {
	tail := responseText
	if len(tail) > scratchpadTailChars {
		tail = tail[len(tail)-scratchpadTailChars:]
	}
	existing, _ := s.store.GetScratchpad(ctx, taskID)
	banner := fmt.Sprintf("--- iteration %d ---\n%s\n", iteration, tail)
	_ = s.store.UpdateScratchpad(ctx, taskID, existing+banner)
}

func (s *Scheduler) blockAndReturn(ctx context.Context, taskID, reason string) {
	existing, _ := s.store.GetScratchpad(ctx, taskID)
	banner := fmt.Sprintf("--- BLOCKED --- reason: %s\n", reason)
	_ = s.store.UpdateScratchpad(ctx, taskID, existing+banner)
	_ = s.store.Move(ctx, taskID, task.StatusBacklog)
	s.notify(ctx, taskID, "blocked", reason)
}

// handleComplete runs the review and, if configured, the merge step
// once a task's iteration loop reports completion. It detaches from the
// caller's per-task context before doing any of that work: moving
// the task to REVIEW below is itself a status change the worker loop
// observes and reacts to with stopIfRunning, which cancels that very
// token (the task is still in s.running at this point, since runTaskLoop
// hasn't returned yet). Using it past that point would cancel the review
// agent and the merge's git subprocesses out from under them.
func (s *Scheduler) handleComplete(taskCtx context.Context, taskID, baseBranch string, cfg *config.Config) {
	ctx := context.WithoutCancel(taskCtx)

	t, ok, err := s.store.Get(ctx, taskID)
	if err != nil || !ok {
		return
	}

	result := s.review.Run(ctx, t, baseBranch)
	approved, detail := result.Approved, result.Detail
	_ = s.store.Update(ctx, taskID, task.Patch{ChecksPassed: &approved, ReviewSummary: &detail})
	_ = s.store.Move(ctx, taskID, task.StatusReview)
	s.notify(ctx, taskID, "reviewed", detail)

	if !cfg.AutoMerge || !approved {
		return
	}

	outcome := s.merge.MergeTask(ctx, t, baseBranch)
	switch {
	case outcome.OK:
		_ = s.workspace.Delete(ctx, taskID, true)
		_ = s.store.Move(ctx, taskID, task.StatusDone)
		s.notify(ctx, taskID, "merged", "merged into "+baseBranch)
	case outcome.RebaseConflict:
		desc := t.Description + "\n\n--- CONFLICT --- resolve conflicts in: " + strings.Join(outcome.ConflictFiles, ", ")
		_ = s.store.Update(ctx, taskID, task.Patch{Description: &desc})
		_ = s.store.Move(ctx, taskID, task.StatusInProgress)
		s.notify(ctx, taskID, "rebase_conflict", outcome.Error)
	default:
		mergeErr := outcome.Error
		trueVal := true
		_ = s.store.Update(ctx, taskID, task.Patch{MergeFailed: &trueVal, MergeError: &mergeErr})
		s.notify(ctx, taskID, "merge_failed", mergeErr)
	}
}

// handleBlocked and handleMaxIterations both bounce a task back to
// BACKLOG with a scratchpad banner explaining why.
func (s *Scheduler) handleBlocked(ctx context.Context, taskID, reason string) {
	s.blockAndReturn(ctx, taskID, reason)
}

func (s *Scheduler) handleMaxIterations(ctx context.Context, taskID string) {
	existing, _ := s.store.GetScratchpad(ctx, taskID)
	_ = s.store.UpdateScratchpad(ctx, taskID, existing+"--- MAX ITERATIONS ---\n")
	_ = s.store.Move(ctx, taskID, task.StatusBacklog)
	s.notify(ctx, taskID, "max_iterations", "exhausted max iterations without a terminal signal")
}

func (s *Scheduler) notify(ctx context.Context, taskID, kind, summary string) {
	if s.notifier == nil {
		return
	}
	t, ok, err := s.store.Get(ctx, taskID)
	title := taskID
	if err == nil && ok {
		title = t.Title
	}
	if err := s.notifier.Notify(ctx, notify.Event{
		TaskID:  taskID,
		Title:   title,
		Kind:    kind,
		Summary: summary,
		At:      time.Now(),
	}); err != nil {
		s.logger.Warn("scheduler: notify", "task_id", taskID, "error", err)
	}
}
