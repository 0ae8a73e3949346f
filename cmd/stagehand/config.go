package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify stagehand configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/stagehand/config.yaml
Project-specific overrides can be placed in .stagehand.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	// Mask API key if set
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("defaults.max_retries: %d\n", cfg.Defaults.MaxRetries)
	fmt.Printf("defaults.step_timeout: %s\n", cfg.Defaults.StepTimeout)
	fmt.Printf("defaults.complexity: %s\n", cfg.Defaults.Complexity)
	fmt.Printf("events.buffer_size: %d\n", cfg.Events.BufferSize)
	fmt.Printf("storage.db_path: %s\n", cfg.Storage.DBPath)
	fmt.Printf("gates.artifacts_exist: %t\n", cfg.Gates.ArtifactsExist)
	fmt.Printf("gates.non_empty: %t\n", cfg.Gates.NonEmpty)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	switch key {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey != "" {
			fmt.Println("****")
		} else {
			fmt.Println("(not set)")
		}
	case "anthropic.model":
		fmt.Println(cfg.Anthropic.Model)
	case "anthropic.use_bedrock":
		fmt.Println(cfg.Anthropic.UseBedrock)
	case "defaults.max_retries":
		fmt.Println(cfg.Defaults.MaxRetries)
	case "defaults.step_timeout":
		fmt.Println(cfg.Defaults.StepTimeout)
	case "defaults.complexity":
		fmt.Println(cfg.Defaults.Complexity)
	case "events.buffer_size":
		fmt.Println(cfg.Events.BufferSize)
	case "storage.db_path":
		fmt.Println(cfg.Storage.DBPath)
	case "gates.artifacts_exist":
		fmt.Println(cfg.Gates.ArtifactsExist)
	case "gates.non_empty":
		fmt.Println(cfg.Gates.NonEmpty)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
}

// setConfigKey updates one configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	var err error
	switch key {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_bedrock":
		cfg.Anthropic.UseBedrock, err = strconv.ParseBool(value)
	case "defaults.max_retries":
		cfg.Defaults.MaxRetries, err = strconv.Atoi(value)
	case "defaults.step_timeout":
		cfg.Defaults.StepTimeout, err = time.ParseDuration(value)
	case "defaults.complexity":
		cfg.Defaults.Complexity = value
	case "events.buffer_size":
		cfg.Events.BufferSize, err = strconv.Atoi(value)
	case "storage.db_path":
		cfg.Storage.DBPath = value
	case "gates.artifacts_exist":
		cfg.Gates.ArtifactsExist, err = strconv.ParseBool(value)
	case "gates.non_empty":
		cfg.Gates.NonEmpty, err = strconv.ParseBool(value)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid value for %s: %v\n", key, err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s\n", key)
}
