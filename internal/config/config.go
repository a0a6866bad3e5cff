// Package config resolves orchestrator tuning values from (highest to
// lowest priority): environment variables (ORCHESTRAL_*), an optional
// project config file (.orchestral.yaml in the workspace root), and
// built-in defaults. There is no CLI-flag layer in this core — cmd/orchestrald
// is a thin operator surface, not a config source — so the chain is
// env > project > defaults, one rung shorter than the teacher's
// flag > env > project > home > defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/boshu2/orchestral/internal/types"
)

// AgentTimeouts holds the per-agent absolute timeout, keyed by agent.
type AgentTimeouts map[types.Agent]time.Duration

// Config holds every tunable named in SPEC_FULL.md §6.
type Config struct {
	DebounceMs               int            `yaml:"debounce_ms"`
	ActivityCheckIntervalMs  int            `yaml:"activity_check_interval_ms"`
	MaxInactivityTimeMs      int            `yaml:"max_inactivity_time_ms"`
	FileWatcherStabilityMs   int            `yaml:"file_watcher_stability_ms"`
	DefaultFileWaitTimeoutMs int            `yaml:"default_file_wait_timeout_ms"`
	RetryBaseDelayMs         int            `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs          int            `yaml:"retry_max_delay_ms"`
	StateCacheTTLMs          int            `yaml:"state_cache_ttl_ms"`
	CRPDetectionDelayMs      int            `yaml:"crp_detection_delay_ms"`
	MaxMinorFixAttempts      int            `yaml:"max_minor_fix_attempts"`
	MaxIterations            int            `yaml:"max_iterations"`
	SuppressTerminalBell     bool           `yaml:"suppress_terminal_bell"`
	AutoRetryEnabled         bool           `yaml:"auto_retry_enabled"`
	AgentTimeoutMs           map[string]int `yaml:"agent_timeout_ms"`
	WorkerCommand            string         `yaml:"worker_command"`
	DefaultModel             string         `yaml:"default_model"`
}

// Default returns the built-in defaults named throughout spec.md §4.
func Default() *Config {
	return &Config{
		DebounceMs:               2000,
		ActivityCheckIntervalMs:  30_000,
		MaxInactivityTimeMs:      2 * 60_000,
		FileWatcherStabilityMs:   300_000,
		DefaultFileWaitTimeoutMs: 60_000,
		RetryBaseDelayMs:         1000,
		RetryMaxDelayMs:          30_000,
		StateCacheTTLMs:          1000,
		CRPDetectionDelayMs:      1000,
		MaxMinorFixAttempts:      2,
		MaxIterations:            10,
		SuppressTerminalBell:     false,
		AutoRetryEnabled:         true,
		WorkerCommand:            "orchestral-worker",
		DefaultModel:             "default",
		AgentTimeoutMs: map[string]int{
			string(types.AgentRefiner):    5 * 60_000,
			string(types.AgentBuilder):    10 * 60_000,
			string(types.AgentVerifier):   5 * 60_000,
			string(types.AgentGatekeeper): 5 * 60_000,
		},
	}
}

// Load resolves the effective config for workspaceRoot: defaults, then
// .orchestral.yaml in workspaceRoot if present, then ORCHESTRAL_* env vars.
func Load(workspaceRoot string) (*Config, error) {
	cfg := Default()

	projectPath := filepath.Join(workspaceRoot, ".orchestral.yaml")
	project, err := loadFromPath(projectPath)
	if err != nil {
		return nil, err
	}
	if project != nil {
		cfg = merge(cfg, project)
	}

	return applyEnv(cfg), nil
}

func loadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func merge(dst, src *Config) *Config {
	if src.DebounceMs != 0 {
		dst.DebounceMs = src.DebounceMs
	}
	if src.ActivityCheckIntervalMs != 0 {
		dst.ActivityCheckIntervalMs = src.ActivityCheckIntervalMs
	}
	if src.MaxInactivityTimeMs != 0 {
		dst.MaxInactivityTimeMs = src.MaxInactivityTimeMs
	}
	if src.FileWatcherStabilityMs != 0 {
		dst.FileWatcherStabilityMs = src.FileWatcherStabilityMs
	}
	if src.DefaultFileWaitTimeoutMs != 0 {
		dst.DefaultFileWaitTimeoutMs = src.DefaultFileWaitTimeoutMs
	}
	if src.RetryBaseDelayMs != 0 {
		dst.RetryBaseDelayMs = src.RetryBaseDelayMs
	}
	if src.RetryMaxDelayMs != 0 {
		dst.RetryMaxDelayMs = src.RetryMaxDelayMs
	}
	if src.StateCacheTTLMs != 0 {
		dst.StateCacheTTLMs = src.StateCacheTTLMs
	}
	if src.CRPDetectionDelayMs != 0 {
		dst.CRPDetectionDelayMs = src.CRPDetectionDelayMs
	}
	if src.MaxMinorFixAttempts != 0 {
		dst.MaxMinorFixAttempts = src.MaxMinorFixAttempts
	}
	if src.MaxIterations != 0 {
		dst.MaxIterations = src.MaxIterations
	}
	if src.SuppressTerminalBell {
		dst.SuppressTerminalBell = true
	}
	if src.WorkerCommand != "" {
		dst.WorkerCommand = src.WorkerCommand
	}
	if src.DefaultModel != "" {
		dst.DefaultModel = src.DefaultModel
	}
	for agent, ms := range src.AgentTimeoutMs {
		if dst.AgentTimeoutMs == nil {
			dst.AgentTimeoutMs = map[string]int{}
		}
		dst.AgentTimeoutMs[agent] = ms
	}
	return dst
}

func applyEnv(cfg *Config) *Config {
	setInt(&cfg.DebounceMs, "ORCHESTRAL_DEBOUNCE_MS")
	setInt(&cfg.ActivityCheckIntervalMs, "ORCHESTRAL_ACTIVITY_CHECK_INTERVAL_MS")
	setInt(&cfg.MaxInactivityTimeMs, "ORCHESTRAL_MAX_INACTIVITY_TIME_MS")
	setInt(&cfg.FileWatcherStabilityMs, "ORCHESTRAL_FILE_WATCHER_STABILITY_MS")
	setInt(&cfg.DefaultFileWaitTimeoutMs, "ORCHESTRAL_DEFAULT_FILE_WAIT_TIMEOUT_MS")
	setInt(&cfg.RetryBaseDelayMs, "ORCHESTRAL_RETRY_BASE_DELAY_MS")
	setInt(&cfg.RetryMaxDelayMs, "ORCHESTRAL_RETRY_MAX_DELAY_MS")
	setInt(&cfg.StateCacheTTLMs, "ORCHESTRAL_STATE_CACHE_TTL_MS")
	if v := os.Getenv("ORCHESTRAL_WORKER_COMMAND"); v != "" {
		cfg.WorkerCommand = v
	}
	if v := os.Getenv("ORCHESTRAL_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}

	if cfg.AgentTimeoutMs == nil {
		cfg.AgentTimeoutMs = map[string]int{}
	}
	setAgentTimeout(cfg, types.AgentRefiner, "ORCHESTRAL_REFINER_TIMEOUT_MS")
	setAgentTimeout(cfg, types.AgentBuilder, "ORCHESTRAL_BUILDER_TIMEOUT_MS")
	setAgentTimeout(cfg, types.AgentVerifier, "ORCHESTRAL_VERIFIER_TIMEOUT_MS")
	setAgentTimeout(cfg, types.AgentGatekeeper, "ORCHESTRAL_GATEKEEPER_TIMEOUT_MS")

	return cfg
}

func setInt(dst *int, envVar string) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setAgentTimeout(cfg *Config, agent types.Agent, envVar string) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		cfg.AgentTimeoutMs[string(agent)] = n
	}
}

// Timeouts returns the resolved per-agent absolute timeout durations.
func (c *Config) Timeouts() AgentTimeouts {
	out := make(AgentTimeouts, len(types.Agents))
	defaults := Default().AgentTimeoutMs
	for _, a := range types.Agents {
		ms, ok := c.AgentTimeoutMs[string(a)]
		if !ok {
			ms = defaults[string(a)]
		}
		out[a] = time.Duration(ms) * time.Millisecond
	}
	return out
}

func (c *Config) Debounce() time.Duration { return time.Duration(c.DebounceMs) * time.Millisecond }
func (c *Config) ActivityCheckInterval() time.Duration {
	return time.Duration(c.ActivityCheckIntervalMs) * time.Millisecond
}
func (c *Config) MaxInactivityTime() time.Duration {
	return time.Duration(c.MaxInactivityTimeMs) * time.Millisecond
}
func (c *Config) FileWatcherStability() time.Duration {
	return time.Duration(c.FileWatcherStabilityMs) * time.Millisecond
}
func (c *Config) DefaultFileWaitTimeout() time.Duration {
	return time.Duration(c.DefaultFileWaitTimeoutMs) * time.Millisecond
}
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}
func (c *Config) StateCacheTTL() time.Duration {
	return time.Duration(c.StateCacheTTLMs) * time.Millisecond
}
func (c *Config) CRPDetectionDelay() time.Duration {
	return time.Duration(c.CRPDetectionDelayMs) * time.Millisecond
}

// RunsDir returns the run-store root for workspaceRoot.
func RunsDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".orchestral", "runs")
}

// PromptOverrideDir returns the workspace-local prompt template override
// directory for workspaceRoot.
func PromptOverrideDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".orchestral", "prompts")
}

// EffectiveDefaultModel trims DefaultModel and falls back to "default" (let
// the worker runner pick its own default) when unset.
func (c *Config) EffectiveDefaultModel() string {
	v := strings.TrimSpace(c.DefaultModel)
	if v == "" {
		return "default"
	}
	return v
}

// EffectiveWorkerCommand trims WorkerCommand and falls back to the default
// binary name when unset, the way the teacher's effectiveRuntimeCommand
// resolves its runtime binary.
func (c *Config) EffectiveWorkerCommand() string {
	v := strings.TrimSpace(c.WorkerCommand)
	if v == "" {
		return "orchestral-worker"
	}
	return v
}
