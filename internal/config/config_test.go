package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `anthropic:
  model: claude-sonnet-4-20250514
defaults:
  max_retries: 5
  step_timeout: 30m
  workflow: [prd, dev-story]
events:
  buffer_size: 64
gates:
  non_empty: true
  commands:
    tests: go test ./...
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Anthropic.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q", cfg.Anthropic.Model)
	}
	if cfg.Defaults.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Defaults.MaxRetries)
	}
	if cfg.Defaults.StepTimeout != 30*time.Minute {
		t.Errorf("StepTimeout = %v, want 30m", cfg.Defaults.StepTimeout)
	}
	if len(cfg.Defaults.Workflow) != 2 || cfg.Defaults.Workflow[0] != "prd" {
		t.Errorf("Workflow = %v", cfg.Defaults.Workflow)
	}
	if cfg.Events.BufferSize != 64 {
		t.Errorf("BufferSize = %d, want 64", cfg.Events.BufferSize)
	}
	if !cfg.Gates.NonEmpty {
		t.Error("NonEmpty = false, want true")
	}
	if cfg.Gates.Commands["tests"] != "go test ./..." {
		t.Errorf("Commands = %v", cfg.Gates.Commands)
	}
	// Unset keys keep their defaults.
	if !cfg.Gates.ArtifactsExist {
		t.Error("ArtifactsExist default not applied")
	}
}

func TestLoadFromPathDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Defaults.MaxRetries != 3 {
		t.Errorf("MaxRetries default = %d, want 3", cfg.Defaults.MaxRetries)
	}
	if cfg.Defaults.StepTimeout != 15*time.Minute {
		t.Errorf("StepTimeout default = %v, want 15m", cfg.Defaults.StepTimeout)
	}
	if cfg.Defaults.Complexity != "standard" {
		t.Errorf("Complexity default = %q, want standard", cfg.Defaults.Complexity)
	}
	if cfg.Events.BufferSize != 256 {
		t.Errorf("BufferSize default = %d, want 256", cfg.Events.BufferSize)
	}
}

func TestAPIKeyEnvExpansion(t *testing.T) {
	t.Setenv("TEST_STAGEHAND_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "anthropic:\n  api_key: ${TEST_STAGEHAND_KEY}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want expanded value", cfg.Anthropic.APIKey)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Defaults.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Defaults.MaxRetries)
	}
	if cfg.Events.BufferSize != 256 {
		t.Errorf("BufferSize = %d, want 256", cfg.Events.BufferSize)
	}
	if !cfg.Gates.ArtifactsExist {
		t.Error("ArtifactsExist = false, want true")
	}
}
