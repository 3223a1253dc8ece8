package task

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the one concrete Store implementation shipped with this
// repo: a single modernc.org/sqlite connection, WAL and foreign_keys
// pragmas set at open, and plain database/sql queries throughout rather
// than an ORM.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan StatusChange
	queue  []StatusChange
	cond   *sync.Cond
	closed bool
}

// subscriberQueueLimit bounds the per-subscriber backlog; on overflow the
// oldest unread event is dropped rather than blocking the writer, the same
// fixed-size-buffer-with-eviction policy the agent message bus uses.
const subscriberQueueLimit = 4096

// Open creates or opens a SQLite-backed Store at dbPath, running
// migrations idempotently.
func Open(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection avoids SQLITE_BUSY under WAL without needing
	// busy-timeout retry loops; reads and writes share that connection
	// and so run one at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, subs: make(map[*subscriber]struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	type             TEXT NOT NULL,
	priority         TEXT NOT NULL DEFAULT 'MEDIUM',
	agent_backend    TEXT NOT NULL DEFAULT '',
	base_branch      TEXT NOT NULL DEFAULT '',
	review_summary   TEXT NOT NULL DEFAULT '',
	checks_passed    INTEGER NOT NULL DEFAULT 0,
	merge_failed     INTEGER NOT NULL DEFAULT 0,
	merge_error      TEXT NOT NULL DEFAULT '',
	total_iterations INTEGER NOT NULL DEFAULT 0,
	scratchpad       TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_runs (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL REFERENCES tasks(id),
	started_at DATETIME NOT NULL,
	ended_at   DATETIME,
	status     TEXT NOT NULL,
	signal     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_messages (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id   TEXT NOT NULL REFERENCES execution_runs(id),
	at       DATETIME NOT NULL,
	kind     TEXT NOT NULL,
	text     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_runs_task ON execution_runs(task_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON execution_runs(status);
`

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, taskID string) (*Task, bool, error) {
	row := s.db.QueryRowContext(ctx, selectTaskSQL+" WHERE id = ?", taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status Status) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTaskSQL+" WHERE status = ? ORDER BY created_at", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const selectTaskSQL = `SELECT id, title, description, status, type, priority, agent_backend,
	base_branch, review_summary, checks_passed, merge_failed, merge_error,
	total_iterations, scratchpad, created_at, updated_at FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*Task, error) {
	var t Task
	var checksPassed, mergeFailed int
	if err := r.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Type, &t.Priority,
		&t.AgentBackend, &t.BaseBranch, &t.ReviewSummary, &checksPassed, &mergeFailed,
		&t.MergeError, &t.TotalIterations, &t.Scratchpad, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ChecksPassed = checksPassed != 0
	t.MergeFailed = mergeFailed != 0
	return &t, nil
}

// Create inserts a new task in BACKLOG and emits a creation event
// (Old == ""). Not part of the Store interface, since task creation is
// treated as an external-writer concern, but needed to exercise the
// store end to end in tests and the CLI.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = StatusBacklog
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks
		(id, title, description, status, type, priority, agent_backend, base_branch,
		 review_summary, checks_passed, merge_failed, merge_error, total_iterations,
		 scratchpad, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', 0, 0, '', 0, '', ?, ?)`,
		t.ID, t.Title, t.Description, t.Status, t.Type, t.Priority, t.AgentBackend,
		t.BaseBranch, now, now)
	if err != nil {
		return err
	}

	s.broadcast(StatusChange{TaskID: t.ID, Old: "", New: t.Status})
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, taskID string, patch Patch) error {
	existing, ok, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, sql.ErrNoRows)
	}

	oldStatus := existing.Status
	newStatus := oldStatus
	if patch.Status != nil {
		newStatus = *patch.Status
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []any{newStatus, time.Now()}
	if patch.ReviewSummary != nil {
		set = append(set, "review_summary = ?")
		args = append(args, *patch.ReviewSummary)
	}
	if patch.ChecksPassed != nil {
		set = append(set, "checks_passed = ?")
		args = append(args, boolToInt(*patch.ChecksPassed))
	}
	if patch.MergeFailed != nil {
		set = append(set, "merge_failed = ?")
		args = append(args, boolToInt(*patch.MergeFailed))
	}
	if patch.MergeError != nil {
		set = append(set, "merge_error = ?")
		args = append(args, *patch.MergeError)
	}
	if patch.Description != nil {
		set = append(set, "description = ?")
		args = append(args, *patch.Description)
	}
	args = append(args, taskID)

	query := "UPDATE tasks SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE id = ?"

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	if newStatus != oldStatus {
		s.broadcast(StatusChange{TaskID: taskID, Old: oldStatus, New: newStatus})
	}
	return nil
}

func (s *SQLiteStore) Move(ctx context.Context, taskID string, newStatus Status) error {
	return s.Update(ctx, taskID, Patch{Status: &newStatus})
}

func (s *SQLiteStore) IncrementTotalIterations(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET total_iterations = total_iterations + 1, updated_at = ? WHERE id = ?`,
		time.Now(), taskID)
	return err
}

func (s *SQLiteStore) GetScratchpad(ctx context.Context, taskID string) (string, error) {
	var sp string
	err := s.db.QueryRowContext(ctx, `SELECT scratchpad FROM tasks WHERE id = ?`, taskID).Scan(&sp)
	return sp, err
}

func (s *SQLiteStore) UpdateScratchpad(ctx context.Context, taskID string, text string) error {
	if len(text) > ScratchpadTailBytes {
		text = text[len(text)-ScratchpadTailBytes:]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET scratchpad = ?, updated_at = ? WHERE id = ?`, text, time.Now(), taskID)
	return err
}

func (s *SQLiteStore) CreateExecutionRun(ctx context.Context, run *ExecutionRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = "running"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_runs (id, task_id, started_at, status, signal) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.TaskID, run.StartedAt, run.Status, run.Signal)
	return err
}

func (s *SQLiteStore) AppendRunMessage(ctx context.Context, runID string, msg RunMessage) error {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_messages (run_id, at, kind, text) VALUES (?, ?, ?, ?)`,
		runID, msg.At, msg.Kind, msg.Text)
	return err
}

func (s *SQLiteStore) CompleteExecutionRun(ctx context.Context, runID string, status, sig string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE execution_runs SET status = ?, signal = ?, ended_at = ? WHERE id = ?`,
		status, sig, time.Now(), runID)
	return err
}

func (s *SQLiteStore) RunningExecutionRuns(ctx context.Context) ([]ExecutionRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, started_at, status, signal FROM execution_runs WHERE status = 'running'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRun
	for rows.Next() {
		var r ExecutionRun
		if err := rows.Scan(&r.ID, &r.TaskID, &r.StartedAt, &r.Status, &r.Signal); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- status-change fan-out ---
//
// Plain Go channel pub/sub: each subscriber gets its own buffered queue
// drained by a dedicated delivery goroutine, so registering a new
// subscriber and posting a new event can never race each other.

func (s *SQLiteStore) Subscribe(ctx context.Context) <-chan StatusChange {
	sub := &subscriber{ch: make(chan StatusChange)}
	sub.cond = sync.NewCond(&sync.Mutex{})

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.deliverLoop()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.close()
	}()

	return sub.ch
}

func (s *SQLiteStore) broadcast(ev StatusChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.push(ev)
	}
}

func (sub *subscriber) push(ev StatusChange) {
	sub.cond.L.Lock()
	defer sub.cond.L.Unlock()
	if sub.closed {
		return
	}
	sub.queue = append(sub.queue, ev)
	if len(sub.queue) > subscriberQueueLimit {
		sub.queue = sub.queue[len(sub.queue)-subscriberQueueLimit:]
	}
	sub.cond.Signal()
}

func (sub *subscriber) close() {
	sub.cond.L.Lock()
	sub.closed = true
	sub.cond.L.Unlock()
	sub.cond.Signal()
}

func (sub *subscriber) deliverLoop() {
	defer close(sub.ch)
	for {
		sub.cond.L.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if sub.closed && len(sub.queue) == 0 {
			sub.cond.L.Unlock()
			return
		}
		ev := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.cond.L.Unlock()

		sub.ch <- ev
	}
}
