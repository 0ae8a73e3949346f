package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/internal/agent"
	"github.com/stagehand-dev/stagehand/internal/bus"
	"github.com/stagehand-dev/stagehand/internal/config"
	"github.com/stagehand-dev/stagehand/internal/orchestrator"
	"github.com/stagehand-dev/stagehand/internal/quality"
	sigwatch "github.com/stagehand-dev/stagehand/internal/signal"
	"github.com/stagehand-dev/stagehand/internal/story"
	"github.com/stagehand-dev/stagehand/internal/workflow"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

var (
	runComplexity    string
	runWorkflow      []string
	runWorkflowsFile string
	runDryRun        bool
	runNoGates       bool
	runQuiet         bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Execute a workflow sequence for a prompt",
	Long: `Run a development workflow for the given prompt.

The workflow is an ordered list of steps (prd, architecture, create-story,
dev-story, qa-review by default). Each step is routed to its agent, executed
through the Anthropic API, retried with backoff on transient failures, and
its artifacts are checked by the configured quality gates.

Complexity levels select the default workflow:
  light:    dev-story
  standard: create-story, dev-story, qa-review (default)
  full:     prd, architecture, create-story, dev-story, qa-review

Use --workflow to override the step list entirely, and --workflows-file to
load custom step definitions from YAML.

A running sequence can be canceled with Ctrl-C or by creating the file
.stagehand/signals/cancel in the project directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSequence,
}

func init() {
	runCmd.Flags().StringVar(&runComplexity, "complexity", "", "Workflow complexity: light, standard, or full")
	runCmd.Flags().StringSliceVar(&runWorkflow, "workflow", nil, "Explicit ordered workflow step names")
	runCmd.Flags().StringVar(&runWorkflowsFile, "workflows-file", "", "YAML file with custom workflow step definitions")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Replay scripted responses instead of calling the API")
	runCmd.Flags().BoolVar(&runNoGates, "no-gates", false, "Skip quality gates")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "Only print the final summary")
}

func runSequence(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	prompt := strings.Join(args, " ")
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	b := bus.New(cfg.Events.BufferSize)

	registry, err := buildRegistry()
	if err != nil {
		return err
	}

	stories, closeStories := openStories(cfg, cwd, b)
	defer closeStories()

	agents, err := buildAgents(cfg)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Agents:           agents,
		Bus:              b,
		Registry:         registry,
		Stories:          stories,
		Gates:            buildGates(cfg, cwd, b),
		Workflow:         workflowNames(cfg),
		Complexity:       complexityLevel(cfg),
		WorkingDirectory: cwd,
		MaxRetries:       cfg.Defaults.MaxRetries,
		StepTimeout:      cfg.Defaults.StepTimeout,
		EventBufferSize:  cfg.Events.BufferSize,
	})
	if err != nil {
		return err
	}

	// Cancellation: Ctrl-C or a touch of .stagehand/signals/cancel.
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watcher, err := sigwatch.NewWatcher(cwd)
	if err != nil {
		return fmt.Errorf("starting signal watcher: %w", err)
	}
	defer watcher.Close()
	watcher.Clear()
	go func() {
		select {
		case <-watcher.Canceled():
			cancel()
		case <-ctx.Done():
		}
	}()

	if !runQuiet {
		sub := b.Subscribe(bus.AllEventTypes()...)
		defer sub.Close()
		go func() {
			for evt := range sub.Events() {
				printEvent(evt)
			}
		}()
	}

	result, err := orch.Run(ctx, prompt)
	if err != nil {
		return err
	}

	if !runQuiet {
		// Give the printer a moment to drain, then stop it.
		time.Sleep(50 * time.Millisecond)
	}

	printSummary(result)
	if result.Status != models.SequenceCompleted {
		return fmt.Errorf("sequence %s: %s", result.Status, result.ErrorMessage)
	}
	return nil
}

// buildRegistry loads custom workflow definitions or falls back to the
// built-in set.
func buildRegistry() (workflow.Registry, error) {
	if runWorkflowsFile != "" {
		r, err := workflow.LoadFile(runWorkflowsFile)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return workflow.DefaultRegistry(), nil
}

// buildAgents selects the step executor: scripted for dry runs, Anthropic
// otherwise.
func buildAgents(cfg *config.Config) (orchestrator.AgentExecutor, error) {
	if runDryRun {
		return agent.NewScriptedExecutor(), nil
	}
	return agent.NewClaudeExecutor(agent.ClaudeConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
}

// buildGates assembles the quality gate manager from config. Returns nil when
// gating is disabled or no gates are configured.
func buildGates(cfg *config.Config, cwd string, b *bus.Bus) *quality.Manager {
	if runNoGates {
		return nil
	}

	var validators []quality.Validator
	if cfg.Gates.ArtifactsExist {
		validators = append(validators, &quality.ArtifactsExist{BaseDir: cwd})
	}
	if cfg.Gates.NonEmpty {
		validators = append(validators, &quality.NonEmptyArtifacts{})
	}

	names := make([]string, 0, len(cfg.Gates.Commands))
	for name := range cfg.Gates.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		validators = append(validators, &quality.Command{
			GateName:    name,
			WorkDir:     cwd,
			CommandLine: cfg.Gates.Commands[name],
		})
	}

	if len(validators) == 0 {
		return nil
	}
	return quality.NewManager(b, validators...)
}

// openStories opens the SQLite story repository, falling back to memory when
// the database cannot be opened.
func openStories(cfg *config.Config, cwd string, b *bus.Bus) (*story.Manager, func()) {
	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = story.DefaultDBPath(cwd)
	}

	repo, err := story.OpenSQLite(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: story database unavailable (%v), using in-memory store\n", err)
		return story.NewManager(story.NewMemoryRepository(), b), func() {}
	}
	return story.NewManager(repo, b), func() { repo.Close() }
}

// workflowNames returns the configured workflow override, if any. Flags win
// over config.
func workflowNames(cfg *config.Config) []string {
	if len(runWorkflow) > 0 {
		return runWorkflow
	}
	return cfg.Defaults.Workflow
}

// complexityLevel resolves the complexity flag against config.
func complexityLevel(cfg *config.Config) models.ComplexityLevel {
	level := runComplexity
	if level == "" {
		level = cfg.Defaults.Complexity
	}
	return models.ComplexityLevel(level)
}

// printEvent writes one colored progress line for a bus event.
func printEvent(evt bus.Event) {
	c := eventColor(evt.Type)
	switch evt.Type {
	case bus.EventSequenceStarted:
		c.Printf("▶ sequence %v started (%v steps)\n", evt.Data["sequence_id"], evt.Data["step_count"])
	case bus.EventStepStarted:
		c.Printf("  ● %v (%v)\n", evt.Data["step"], evt.Data["agent"])
	case bus.EventStepCompleted:
		c.Printf("  ✓ %v done in %.1fs\n", evt.Data["step"], floatField(evt.Data, "duration_seconds"))
	case bus.EventStepFailed:
		c.Printf("  ✗ %v attempt %v: %v\n", evt.Data["step"], evt.Data["retry_count"], evt.Data["error"])
	case bus.EventSequenceCompleted:
		c.Printf("▶ sequence %v completed in %.1fs\n", evt.Data["sequence_id"], floatField(evt.Data, "duration_seconds"))
	case bus.EventSequenceFailed:
		c.Printf("▶ sequence %v failed at step %v: %v\n", evt.Data["sequence_id"], evt.Data["failed_at_step"], evt.Data["error"])
	case bus.EventValidationCompleted:
		if passed, _ := evt.Data["passed"].(bool); !passed {
			c.Printf("  ⚠ quality gates failed for %v\n", evt.Data["step"])
		}
	case bus.EventStoryCreated:
		c.Printf("  + story %v created\n", evt.Data["story_id"])
	case bus.EventStoryStateTransitioned:
		c.Printf("  ~ story %v: %v → %v\n", evt.Data["story_id"], evt.Data["from"], evt.Data["to"])
	}
}

// eventColor maps an event type to its display color.
func eventColor(t bus.EventType) *color.Color {
	switch t {
	case bus.EventStepCompleted, bus.EventSequenceCompleted:
		return color.New(color.FgGreen)
	case bus.EventStepFailed, bus.EventSequenceFailed, bus.EventTaskFailed:
		return color.New(color.FgRed)
	case bus.EventValidationCompleted:
		return color.New(color.FgYellow)
	case bus.EventStoryCreated, bus.EventStoryStateTransitioned:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgCyan)
	}
}

// floatField reads a float payload field, tolerating absence.
func floatField(data map[string]any, key string) float64 {
	f, _ := data[key].(float64)
	return f
}

var (
	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	summaryTitleStyle = lipgloss.NewStyle().Bold(true)
	summaryOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	summaryFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// printSummary renders the final sequence result.
func printSummary(result *models.SequenceResult) {
	var sb strings.Builder

	status := string(result.Status)
	if result.Status == models.SequenceCompleted {
		status = summaryOKStyle.Render(status)
	} else {
		status = summaryFailStyle.Render(status)
	}
	sb.WriteString(summaryTitleStyle.Render(fmt.Sprintf("Sequence %s", result.SequenceID)))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Status:    %s\n", status)
	fmt.Fprintf(&sb, "Steps:     %d\n", len(result.StepResults))
	fmt.Fprintf(&sb, "Artifacts: %d\n", result.TotalArtifacts)
	fmt.Fprintf(&sb, "Duration:  %s", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	if result.ErrorMessage != "" {
		fmt.Fprintf(&sb, "\nError:     %s", result.ErrorMessage)
	}

	fmt.Println(summaryBoxStyle.Render(sb.String()))
}
