package workspace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/kagan-dev/kagan/internal/workspace"
	"github.com/kagan-dev/kagan/internal/workspacetest"
)

func TestCreateIsIdempotent(t *testing.T) {
	fx := workspacetest.New(t)
	ctx := context.Background()

	path1, err := fx.Manager.Create(ctx, "task-1", "Add widget", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	path2, err := fx.Manager.Create(ctx, "task-1", "Add widget", "main")
	if err != nil {
		t.Fatalf("Create (second call): %v", err)
	}
	if path1 != path2 {
		t.Errorf("Create() not idempotent: %q != %q", path1, path2)
	}

	got, ok := fx.Manager.GetPath("task-1")
	if !ok || got != path1 {
		t.Errorf("GetPath() = (%q, %v), want (%q, true)", got, ok, path1)
	}
}

func TestHasUncommittedChangesIgnoresAllowlist(t *testing.T) {
	fx := workspacetest.New(t)
	ctx := context.Background()

	path, err := fx.Manager.Create(ctx, "task-2", "Add widget", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if dirty, err := fx.Manager.HasUncommittedChanges(ctx, "task-2"); err != nil || dirty {
		t.Fatalf("HasUncommittedChanges() = (%v, %v), want (false, nil)", dirty, err)
	}

	workspacetest.WriteFile(t, path, ".gitignore", "*.log\n")
	if dirty, err := fx.Manager.HasUncommittedChanges(ctx, "task-2"); err != nil || dirty {
		t.Errorf("HasUncommittedChanges() with only allowlisted file = (%v, %v), want (false, nil)", dirty, err)
	}

	workspacetest.WriteFile(t, path, "main.go", "package main\n")
	if dirty, err := fx.Manager.HasUncommittedChanges(ctx, "task-2"); err != nil || !dirty {
		t.Errorf("HasUncommittedChanges() with a foreign file = (%v, %v), want (true, nil)", dirty, err)
	}
}

func TestCommitLogAndDiffStats(t *testing.T) {
	fx := workspacetest.New(t)
	ctx := context.Background()

	path, err := fx.Manager.Create(ctx, "task-3", "Add widget", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	workspacetest.WriteFile(t, path, "widget.go", "package widget\n")
	workspacetest.Run(t, path, "add", ".")
	workspacetest.Run(t, path, "commit", "-m", "feat: add widget")

	commits, err := fx.Manager.CommitLog(ctx, "task-3", "main")
	if err != nil {
		t.Fatalf("CommitLog: %v", err)
	}
	if len(commits) != 1 || !strings.Contains(commits[0], "add widget") {
		t.Errorf("CommitLog() = %v, want one commit mentioning 'add widget'", commits)
	}

	stats, err := fx.Manager.DiffStats(ctx, "task-3", "main")
	if err != nil {
		t.Fatalf("DiffStats: %v", err)
	}
	if !strings.Contains(stats, "widget.go") {
		t.Errorf("DiffStats() = %q, want mention of widget.go", stats)
	}
}

func TestRebaseOntoConflict(t *testing.T) {
	fx := workspacetest.New(t)
	ctx := context.Background()

	path, err := fx.Manager.Create(ctx, "task-4", "Add widget", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	workspacetest.WriteFile(t, path, "shared.txt", "task version\n")
	workspacetest.Run(t, path, "add", ".")
	workspacetest.Run(t, path, "commit", "-m", "feat: task edits shared.txt")

	// Advance main (via a second clone) with a conflicting edit to the
	// same file and push it.
	other := t.TempDir()
	workspacetest.Run(t, other, "clone", fx.OriginDir, other)
	workspacetest.Run(t, other, "config", "user.email", "kagan-test@example.com")
	workspacetest.Run(t, other, "config", "user.name", "Kagan Test")
	workspacetest.WriteFile(t, other, "shared.txt", "main version\n")
	workspacetest.Run(t, other, "add", ".")
	workspacetest.Run(t, other, "commit", "-m", "chore: main edits shared.txt")
	workspacetest.Run(t, other, "push", "origin", "main")

	result, err := fx.Manager.RebaseOnto(ctx, "task-4", "main")
	if err != nil {
		t.Fatalf("RebaseOnto: %v", err)
	}
	if result.OK {
		t.Fatalf("RebaseOnto() = %+v, want a conflict", result)
	}
	if len(result.ConflictFiles) != 1 || result.ConflictFiles[0] != "shared.txt" {
		t.Errorf("RebaseOnto() ConflictFiles = %v, want [shared.txt]", result.ConflictFiles)
	}
}

func TestMergeSquash(t *testing.T) {
	fx := workspacetest.New(t)
	ctx := context.Background()

	path, err := fx.Manager.Create(ctx, "task-5", "Add widget", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	workspacetest.WriteFile(t, path, "widget.go", "package widget\n")
	workspacetest.Run(t, path, "add", ".")
	workspacetest.Run(t, path, "commit", "-m", "feat: add widget")

	ok, _, err := fx.Manager.Merge(ctx, "task-5", "main", workspace.Squash, "Add widget")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !ok {
		t.Fatalf("Merge() ok = false, want true")
	}

	log := workspacetest.Run(t, fx.RepoRoot, "log", "--oneline", "-1")
	if !strings.Contains(log, "feat(widget)") && !strings.Contains(log, "feat:") {
		t.Errorf("merge commit message = %q, want a conventional-commit feat message", log)
	}
}
