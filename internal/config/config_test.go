package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagan-dev/kagan/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxConcurrentAgents)
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.True(t, cfg.SquashMerge)
	assert.Equal(t, 2.0, cfg.MaxRunDuration.Hours())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kagan.yaml")
	body := []byte(`
max_concurrent_agents: 5
auto_merge: true
default_worker_agent: opencode
default_model:
  claude: claude-opus-4
  opencode: gpt-5
`)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxConcurrentAgents)
	assert.True(t, cfg.AutoMerge)
	assert.Equal(t, "opencode", cfg.DefaultWorkerAgent)
	assert.Equal(t, map[string]string{"claude": "claude-opus-4", "opencode": "gpt-5"}, cfg.DefaultModel)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KAGAN_MAX_ITERATIONS", "25")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.MaxIterations)
}

func TestLoadRejectsInvalidConcurrency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kagan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_agents: 0\n"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidIterations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kagan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_iterations: -1\n"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}
