// Package config handles configuration loading and management for stagehand.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for stagehand.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Events    EventsConfig    `mapstructure:"events"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Gates     GatesConfig     `mapstructure:"gates"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	// UseBedrock routes API calls through AWS Bedrock.
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// DefaultsConfig holds default values for stagehand runs.
type DefaultsConfig struct {
	// MaxRetries is the per-step attempt budget.
	MaxRetries int `mapstructure:"max_retries"`
	// StepTimeout bounds each step attempt.
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	// Complexity selects the default workflow set (light, standard, full).
	Complexity string `mapstructure:"complexity"`
	// Workflow overrides the complexity-derived workflow names.
	Workflow []string `mapstructure:"workflow"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	// BufferSize is the per-subscriber queue capacity.
	BufferSize int `mapstructure:"buffer_size"`
}

// StorageConfig holds story persistence settings.
type StorageConfig struct {
	// DBPath is the SQLite database path. Empty means the project default.
	DBPath string `mapstructure:"db_path"`
}

// GatesConfig holds quality gate toggles.
type GatesConfig struct {
	// ArtifactsExist requires every reported artifact to exist on disk.
	ArtifactsExist bool `mapstructure:"artifacts_exist"`
	// NonEmpty requires each step to report at least one artifact.
	NonEmpty bool `mapstructure:"non_empty"`
	// Commands maps gate names to shell commands run after each step.
	Commands map[string]string `mapstructure:"commands"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.stagehand.yaml in current directory or parent)
// 3. User config (~/.config/stagehand/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("defaults.max_retries", cfg.Defaults.MaxRetries)
	v.Set("defaults.step_timeout", cfg.Defaults.StepTimeout.String())
	v.Set("defaults.complexity", cfg.Defaults.Complexity)
	v.Set("defaults.workflow", cfg.Defaults.Workflow)
	v.Set("events.buffer_size", cfg.Events.BufferSize)
	v.Set("storage.db_path", cfg.Storage.DBPath)
	v.Set("gates.artifacts_exist", cfg.Gates.ArtifactsExist)
	v.Set("gates.non_empty", cfg.Gates.NonEmpty)
	v.Set("gates.commands", cfg.Gates.Commands)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("defaults.max_retries", 3)
	v.SetDefault("defaults.step_timeout", "15m")
	v.SetDefault("defaults.complexity", "standard")

	v.SetDefault("events.buffer_size", 256)

	v.SetDefault("storage.db_path", "")

	v.SetDefault("gates.artifacts_exist", true)
	v.SetDefault("gates.non_empty", false)
}

// getUserConfigDir returns the XDG config directory for stagehand.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stagehand")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "stagehand")
	}
	return filepath.Join(home, ".config", "stagehand")
}

// findProjectConfig searches for .stagehand.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".stagehand.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			MaxRetries:  3,
			StepTimeout: 15 * time.Minute,
			Complexity:  "standard",
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		Gates: GatesConfig{
			ArtifactsExist: true,
		},
	}
}
