// Package config loads the runtime Configuration via viper, with
// fsnotify-driven hot reload of the knobs that are safe to change
// without a restart. This enriches the plain flag-parsing style used
// elsewhere in this codebase's CLI entrypoint: the per-agent
// default-model map (default_model_<agent>) doesn't fit cleanly into a
// flat flag set, so viper's nested-key support earns its place here.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full set of recognized options.
type Config struct {
	AutoStart                bool
	AutoMerge                bool
	AutoApprove              bool
	AutoRetryOnMergeConflict bool

	MaxConcurrentAgents int
	MaxIterations       int
	IterationDelay      time.Duration

	DefaultWorkerAgent string
	DefaultReviewAgent string
	DefaultBaseBranch  string

	// DefaultModel maps an agent identity (e.g. "claude", "opencode",
	// "codex") to its model override, default_model_<agent> flattened
	// into a map.
	DefaultModel map[string]string

	// AgentReadyTimeout is the shared wait_ready budget for both the
	// worker agent and the review agent.
	AgentReadyTimeout time.Duration
	// PermissionTimeout bounds an unanswered permission request before
	// the driver auto-selects a reject-class option.
	PermissionTimeout time.Duration

	// MessageBusBufferSize overrides the per-agent replay buffer size;
	// 0 means use agentdriver.DefaultBusBufferSize.
	MessageBusBufferSize int

	// MaxRunDuration bounds how long an ExecutionRun may sit "running"
	// before the background janitor considers it stale and bounces the
	// owning task back to BACKLOG.
	MaxRunDuration time.Duration

	// SquashMerge selects squash-merge over a merge commit for
	// MergeCoordinator.
	SquashMerge bool
}

func defaults() Config {
	return Config{
		AutoStart:                true,
		AutoMerge:                false,
		AutoApprove:              false,
		AutoRetryOnMergeConflict: true,
		MaxConcurrentAgents:      3,
		MaxIterations:            10,
		IterationDelay:           2 * time.Second,
		DefaultWorkerAgent:       "claude",
		DefaultReviewAgent:       "claude",
		DefaultBaseBranch:        "main",
		DefaultModel:             map[string]string{},
		AgentReadyTimeout:        60 * time.Second,
		PermissionTimeout:        30 * time.Second,
		MessageBusBufferSize:     500,
		MaxRunDuration:           2 * time.Hour,
		SquashMerge:              true,
	}
}

// Load reads configuration from path (if non-empty) layered over
// defaults and environment variables prefixed KAGAN_.
func Load(path string) (*Config, error) {
	v := viper.New()
	cfg := defaults()
	bindDefaults(v, cfg)

	v.SetEnvPrefix("kagan")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	out, err := decode(v, cfg)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Watch starts watching path for changes and invokes onChange with the
// freshly decoded Config on every write. The returned stop function is a
// no-op: the underlying viper watcher is not closed and keeps running for
// the life of the process.
func Watch(path string, onChange func(*Config)) (stop func() error, err error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := defaults()
	bindDefaults(v, cfg)

	v.OnConfigChange(func(in fsnotify.Event) {
		if out, err := decode(v, cfg); err == nil {
			onChange(out)
		}
	})
	v.WatchConfig()

	return func() error { return nil }, nil
}

func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("auto_start", cfg.AutoStart)
	v.SetDefault("auto_merge", cfg.AutoMerge)
	v.SetDefault("auto_approve", cfg.AutoApprove)
	v.SetDefault("auto_retry_on_merge_conflict", cfg.AutoRetryOnMergeConflict)
	v.SetDefault("max_concurrent_agents", cfg.MaxConcurrentAgents)
	v.SetDefault("max_iterations", cfg.MaxIterations)
	v.SetDefault("iteration_delay_seconds", cfg.IterationDelay.Seconds())
	v.SetDefault("default_worker_agent", cfg.DefaultWorkerAgent)
	v.SetDefault("default_review_agent", cfg.DefaultReviewAgent)
	v.SetDefault("default_base_branch", cfg.DefaultBaseBranch)
	v.SetDefault("default_model", cfg.DefaultModel)
	v.SetDefault("agent_ready_timeout_seconds", cfg.AgentReadyTimeout.Seconds())
	v.SetDefault("permission_timeout_seconds", cfg.PermissionTimeout.Seconds())
	v.SetDefault("message_bus_buffer_size", cfg.MessageBusBufferSize)
	v.SetDefault("max_run_duration_seconds", cfg.MaxRunDuration.Seconds())
	v.SetDefault("squash_merge", cfg.SquashMerge)
}

func decode(v *viper.Viper, base Config) (*Config, error) {
	out := base
	out.AutoStart = v.GetBool("auto_start")
	out.AutoMerge = v.GetBool("auto_merge")
	out.AutoApprove = v.GetBool("auto_approve")
	out.AutoRetryOnMergeConflict = v.GetBool("auto_retry_on_merge_conflict")
	out.MaxConcurrentAgents = v.GetInt("max_concurrent_agents")
	out.MaxIterations = v.GetInt("max_iterations")
	out.IterationDelay = time.Duration(v.GetFloat64("iteration_delay_seconds") * float64(time.Second))
	out.DefaultWorkerAgent = v.GetString("default_worker_agent")
	out.DefaultReviewAgent = v.GetString("default_review_agent")
	out.DefaultBaseBranch = v.GetString("default_base_branch")
	out.AgentReadyTimeout = time.Duration(v.GetFloat64("agent_ready_timeout_seconds") * float64(time.Second))
	out.PermissionTimeout = time.Duration(v.GetFloat64("permission_timeout_seconds") * float64(time.Second))
	out.MessageBusBufferSize = v.GetInt("message_bus_buffer_size")
	out.MaxRunDuration = time.Duration(v.GetFloat64("max_run_duration_seconds") * float64(time.Second))
	out.SquashMerge = v.GetBool("squash_merge")

	out.DefaultModel = map[string]string{}
	for k, val := range v.GetStringMapString("default_model") {
		out.DefaultModel[k] = val
	}

	if out.MaxConcurrentAgents < 1 {
		return nil, fmt.Errorf("config: max_concurrent_agents must be >= 1")
	}
	if out.MaxIterations < 1 {
		return nil, fmt.Errorf("config: max_iterations must be >= 1")
	}
	return &out, nil
}
