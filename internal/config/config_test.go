// Package config_test provides tests for configuration loading
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Writing config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Workers != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.Workers)
	}
	if cfg.SyncInterval != 60*time.Second {
		t.Errorf("Expected 60s sync interval, got %s", cfg.SyncInterval)
	}
	if cfg.Weights != types.DefaultWeights() {
		t.Errorf("Expected default weights, got %+v", cfg.Weights)
	}
	if cfg.SectionAgents["Ready Queue"] != types.AgentTriage {
		t.Errorf("Expected Ready Queue mapped to triage, got %q", cfg.SectionAgents["Ready Queue"])
	}
	if cfg.LivenessThreshold <= cfg.HeartbeatInterval {
		t.Error("Default liveness threshold must exceed heartbeat interval")
	}
}

func TestLoad_YAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
workers: 5
sync_interval: 30s
default_max_cost: 2.5
projects:
  - gid: "proj-1"
    name: "Webapp"
    importance: 0.9
section_agents:
  "Inbox": triage
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 5 {
		t.Errorf("Expected 5 workers, got %d", cfg.Workers)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("Expected 30s sync interval, got %s", cfg.SyncInterval)
	}
	if cfg.DefaultMaxCost != 2.5 {
		t.Errorf("Expected max cost 2.5, got %f", cfg.DefaultMaxCost)
	}
	if len(cfg.Projects) != 1 || cfg.Projects[0].GID != "proj-1" {
		t.Errorf("Unexpected projects %+v", cfg.Projects)
	}
	if cfg.SectionAgents["Inbox"] != types.AgentTriage {
		t.Errorf("Expected Inbox mapped to triage, got %q", cfg.SectionAgents["Inbox"])
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROUNDUP_WORKERS", "7")
	t.Setenv("ROUNDUP_BOARD_TOKEN", "secret")
	t.Setenv("ROUNDUP_EXEC_TIMEOUT", "10m")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 7 {
		t.Errorf("Expected 7 workers from env, got %d", cfg.Workers)
	}
	if cfg.BoardToken != "secret" {
		t.Errorf("Expected board token from env, got %q", cfg.BoardToken)
	}
	if cfg.ExecTimeout != 10*time.Minute {
		t.Errorf("Expected 10m exec timeout, got %s", cfg.ExecTimeout)
	}
}

func TestLoad_RejectsZeroWorkers(t *testing.T) {
	path := writeConfig(t, "workers: 0\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("Expected validation error for zero workers")
	}
}

func TestLoad_RejectsBadLivenessThreshold(t *testing.T) {
	path := writeConfig(t, `
heartbeat_interval: 30s
liveness_threshold: 10s
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("Expected validation error when liveness threshold <= heartbeat")
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error for a named but missing config file")
	}
}

func TestProjectImportanceMap(t *testing.T) {
	cfg := &config.Config{Projects: []config.ProjectRef{
		{GID: "a", Importance: 1.0},
		{GID: "b", Importance: 0.4},
	}}
	m := cfg.ProjectImportanceMap()
	if m["a"] != 1.0 || m["b"] != 0.4 {
		t.Errorf("Unexpected importance map %+v", m)
	}
}
