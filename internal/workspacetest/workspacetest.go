// Package workspacetest builds a throwaway git fixture (a bare "origin"
// plus a cloned working copy with a remote configured) so tests of
// internal/workspace, internal/merge, and internal/scheduler can drive
// real git operations without mocking the CLI.
package workspacetest

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/kagan-dev/kagan/internal/workspace"
)

// Fixture is a ready-to-use repo for workspace/merge/scheduler tests.
type Fixture struct {
	T         *testing.T
	OriginDir string
	RepoRoot  string
	Manager   *workspace.Manager
}

// New creates a bare origin repo, clones it into a working copy on
// "main" with an initial commit, and returns a Manager rooted there.
func New(t *testing.T) *Fixture {
	t.Helper()

	origin := t.TempDir()
	Run(t, origin, "init", "--bare", "-b", "main")

	repoRoot := t.TempDir()
	Run(t, filepath.Dir(repoRoot), "clone", origin, repoRoot)
	Run(t, repoRoot, "config", "user.email", "kagan-test@example.com")
	Run(t, repoRoot, "config", "user.name", "Kagan Test")

	WriteFile(t, repoRoot, "README.md", "hello\n")
	Run(t, repoRoot, "add", ".")
	Run(t, repoRoot, "commit", "-m", "chore: initial commit")
	Run(t, repoRoot, "push", "origin", "main")

	return &Fixture{
		T:         t,
		OriginDir: origin,
		RepoRoot:  repoRoot,
		Manager:   workspace.New(repoRoot, ".kagan/worktrees"),
	}
}

// Run executes a git subcommand in dir, failing the test on error.
func Run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v (in %s): %v\n%s", args, dir, err, out)
	}
	return string(out)
}

// WriteFile writes content to name under dir, failing the test on error.
func WriteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := writeFile(path, content); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
