// Package config handles Roundup configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloud-shuttle/roundup/pkg/types"
	"gopkg.in/yaml.v3"
)

// ProjectRef identifies one tracked board project and its importance weight
type ProjectRef struct {
	GID        string  `yaml:"gid"`
	Name       string  `yaml:"name"`
	Importance float64 `yaml:"importance"`
}

// Config holds Roundup configuration. It is constructed once at process
// start and passed to every component that needs it.
type Config struct {
	// Storage
	DatabasePath string

	// External board
	BoardBaseURL string
	BoardToken   string
	BoardTimeout time.Duration

	// Tracked projects
	Projects []ProjectRef

	// Worker pool
	Workers int

	// Loop intervals
	SyncInterval      time.Duration
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	LivenessThreshold time.Duration
	RetryBackoff      time.Duration
	DrainTimeout      time.Duration

	// Executor
	ExecutorPath string
	ExecTimeout  time.Duration

	// Cost ceiling applied to tasks that carry no explicit max_cost
	DefaultMaxCost float64

	// Priority scoring
	Weights         types.PriorityWeights
	MinProjectScore float64

	// Board section name -> agent type. Sections not listed are ignored by
	// the reconciler.
	SectionAgents map[string]types.AgentType

	// Git worktrees
	RepoDir     string
	WorktreeDir string

	// Memory document store
	MemoryDir       string
	MemoryMaxBytes  int64
	CompactSchedule string

	// Singleton lock
	LockPath string

	// Verbose mode for debugging
	Verbose bool
}

// fileConfig is the YAML shape of a config file. Durations are strings in
// Go duration syntax; pointer fields distinguish "absent" from zero.
type fileConfig struct {
	DatabasePath      string                     `yaml:"database_path"`
	BoardBaseURL      string                     `yaml:"board_base_url"`
	BoardToken        string                     `yaml:"board_token"`
	BoardTimeout      string                     `yaml:"board_timeout"`
	Projects          []ProjectRef               `yaml:"projects"`
	Workers           *int                       `yaml:"workers"`
	SyncInterval      string                     `yaml:"sync_interval"`
	TickInterval      string                     `yaml:"tick_interval"`
	HeartbeatInterval string                     `yaml:"heartbeat_interval"`
	LivenessThreshold string                     `yaml:"liveness_threshold"`
	RetryBackoff      string                     `yaml:"retry_backoff"`
	DrainTimeout      string                     `yaml:"drain_timeout"`
	ExecutorPath      string                     `yaml:"executor_path"`
	ExecTimeout       string                     `yaml:"exec_timeout"`
	DefaultMaxCost    *float64                   `yaml:"default_max_cost"`
	Weights           *types.PriorityWeights     `yaml:"weights"`
	MinProjectScore   *float64                   `yaml:"min_project_score"`
	SectionAgents     map[string]types.AgentType `yaml:"section_agents"`
	RepoDir           string                     `yaml:"repo_dir"`
	WorktreeDir       string                     `yaml:"worktree_dir"`
	MemoryDir         string                     `yaml:"memory_dir"`
	MemoryMaxBytes    *int64                     `yaml:"memory_max_bytes"`
	CompactSchedule   string                     `yaml:"compact_schedule"`
	LockPath          string                     `yaml:"lock_path"`
	Verbose           *bool                      `yaml:"verbose"`
}

// DefaultSectionAgents maps the standard board lanes to agent stages
func DefaultSectionAgents() map[string]types.AgentType {
	return map[string]types.AgentType{
		"Ready Queue":   types.AgentTriage,
		"Planning":      types.AgentPlanner,
		"In Progress":   types.AgentWorker,
		"Review":        types.AgentReviewer,
		"Documentation": types.AgentDocumentation,
	}
}

// Load loads configuration from defaults, an optional YAML file, and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DatabasePath:      filepath.Join(".roundup", "roundup.db"),
		BoardBaseURL:      "https://app.asana.com/api/1.0",
		BoardTimeout:      30 * time.Second,
		Workers:           3,
		SyncInterval:      60 * time.Second,
		TickInterval:      5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		LivenessThreshold: 45 * time.Second,
		RetryBackoff:      10 * time.Second,
		DrainTimeout:      2 * time.Minute,
		ExecutorPath:      "claude",
		ExecTimeout:       30 * time.Minute,
		DefaultMaxCost:    10.0,
		Weights:           types.DefaultWeights(),
		MinProjectScore:   0.1,
		SectionAgents:     DefaultSectionAgents(),
		RepoDir:           ".",
		WorktreeDir:       filepath.Join(".roundup", "worktrees"),
		MemoryDir:         filepath.Join(".roundup", "memory"),
		MemoryMaxBytes:    64 * 1024,
		CompactSchedule:   "0 3 * * *",
		LockPath:          filepath.Join(".roundup", "roundup.lock"),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := fc.apply(cfg); err != nil {
			return nil, fmt.Errorf("applying config file: %w", err)
		}
	}

	// Environment overrides
	if v := os.Getenv("ROUNDUP_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("ROUNDUP_BOARD_BASE_URL"); v != "" {
		cfg.BoardBaseURL = v
	}
	if v := os.Getenv("ROUNDUP_BOARD_TOKEN"); v != "" {
		cfg.BoardToken = v
	}
	if v := os.Getenv("ROUNDUP_WORKERS"); v != "" {
		cfg.Workers = parseIntOrDefault(v, cfg.Workers)
	}
	if v := os.Getenv("ROUNDUP_SYNC_INTERVAL"); v != "" {
		cfg.SyncInterval = parseDurationOrDefault(v, cfg.SyncInterval)
	}
	if v := os.Getenv("ROUNDUP_TICK_INTERVAL"); v != "" {
		cfg.TickInterval = parseDurationOrDefault(v, cfg.TickInterval)
	}
	if v := os.Getenv("ROUNDUP_EXEC_TIMEOUT"); v != "" {
		cfg.ExecTimeout = parseDurationOrDefault(v, cfg.ExecTimeout)
	}
	if v := os.Getenv("ROUNDUP_EXECUTOR_PATH"); v != "" {
		cfg.ExecutorPath = v
	}
	if v := os.Getenv("ROUNDUP_DEFAULT_MAX_COST"); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			cfg.DefaultMaxCost = f
		}
	}
	if v := os.Getenv("ROUNDUP_VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// apply overlays file values onto cfg; absent fields keep their defaults
func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.DatabasePath, fc.DatabasePath)
	setString(&cfg.BoardBaseURL, fc.BoardBaseURL)
	setString(&cfg.BoardToken, fc.BoardToken)
	setString(&cfg.ExecutorPath, fc.ExecutorPath)
	setString(&cfg.RepoDir, fc.RepoDir)
	setString(&cfg.WorktreeDir, fc.WorktreeDir)
	setString(&cfg.MemoryDir, fc.MemoryDir)
	setString(&cfg.CompactSchedule, fc.CompactSchedule)
	setString(&cfg.LockPath, fc.LockPath)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"board_timeout", fc.BoardTimeout, &cfg.BoardTimeout},
		{"sync_interval", fc.SyncInterval, &cfg.SyncInterval},
		{"tick_interval", fc.TickInterval, &cfg.TickInterval},
		{"heartbeat_interval", fc.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"liveness_threshold", fc.LivenessThreshold, &cfg.LivenessThreshold},
		{"retry_backoff", fc.RetryBackoff, &cfg.RetryBackoff},
		{"drain_timeout", fc.DrainTimeout, &cfg.DrainTimeout},
		{"exec_timeout", fc.ExecTimeout, &cfg.ExecTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	if fc.Projects != nil {
		cfg.Projects = fc.Projects
	}
	if fc.Workers != nil {
		cfg.Workers = *fc.Workers
	}
	if fc.DefaultMaxCost != nil {
		cfg.DefaultMaxCost = *fc.DefaultMaxCost
	}
	if fc.Weights != nil {
		cfg.Weights = *fc.Weights
	}
	if fc.MinProjectScore != nil {
		cfg.MinProjectScore = *fc.MinProjectScore
	}
	if fc.SectionAgents != nil {
		cfg.SectionAgents = fc.SectionAgents
	}
	if fc.MemoryMaxBytes != nil {
		cfg.MemoryMaxBytes = *fc.MemoryMaxBytes
	}
	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.LivenessThreshold <= c.HeartbeatInterval {
		return fmt.Errorf("liveness threshold (%s) must exceed heartbeat interval (%s)",
			c.LivenessThreshold, c.HeartbeatInterval)
	}
	if len(c.SectionAgents) == 0 {
		return fmt.Errorf("no section to agent mappings configured")
	}
	return nil
}

// ProjectImportanceMap returns project GID -> importance for the scorer
func (c *Config) ProjectImportanceMap() map[string]float64 {
	m := make(map[string]float64, len(c.Projects))
	for _, p := range c.Projects {
		m[p.GID] = p.Importance
	}
	return m
}

func parseIntOrDefault(s string, def int) int {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return def
	}
	return i
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
