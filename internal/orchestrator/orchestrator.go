package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/stagehand-dev/stagehand/internal/bus"
	"github.com/stagehand-dev/stagehand/internal/executor"
	"github.com/stagehand-dev/stagehand/internal/quality"
	"github.com/stagehand-dev/stagehand/internal/story"
	"github.com/stagehand-dev/stagehand/internal/workflow"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

// Config configures the orchestrator facade. Agents is the only required
// collaborator; every other field has a working default.
type Config struct {
	// Agents produces step output streams. Required.
	Agents AgentExecutor
	// Bus is the shared event bus. Defaults to a new bus.
	Bus *bus.Bus
	// Registry resolves workflow names. Defaults to the built-in set.
	Registry workflow.Registry
	// Stories manages the story lifecycle. Defaults to an in-memory manager.
	Stories *story.Manager
	// Gates validates step artifacts. Optional; nil disables gating.
	Gates *quality.Manager
	// Table maps step names to agents. Defaults to DefaultAgentTable.
	Table *AgentTable

	// Workflow names the steps Run executes, in order. Defaults to the
	// standard set for the configured complexity level.
	Workflow []string
	// Complexity classifies built sequences. Defaults to standard.
	Complexity models.ComplexityLevel
	// WorkingDirectory is where agents produce artifacts.
	WorkingDirectory string
	// MaxRetries is the per-step attempt budget.
	MaxRetries int
	// StepTimeout bounds each step attempt. Zero disables the deadline.
	StepTimeout time.Duration
	// EventBufferSize sizes per-subscriber bus buffers when a bus is created.
	EventBufferSize int
}

// Orchestrator is the single entry point tying the stagehand services
// together: it builds sequences from the workflow registry, hands them to the
// coordinator, and exposes the shared bus and story manager to callers.
type Orchestrator struct {
	bus         *bus.Bus
	registry    workflow.Registry
	stories     *story.Manager
	coordinator *Coordinator

	workflow   []string
	complexity models.ComplexityLevel
	workDir    string
}

// New creates an orchestrator, filling in default collaborators. It returns
// an error only for construction mistakes; runtime failures during sequence
// execution are reported through SequenceResult instead.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Agents == nil {
		return nil, errors.New("orchestrator: Agents is required")
	}

	b := cfg.Bus
	if b == nil {
		b = bus.New(cfg.EventBufferSize)
	}
	registry := cfg.Registry
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	stories := cfg.Stories
	if stories == nil {
		stories = story.NewManager(story.NewMemoryRepository(), b)
	}
	complexity := cfg.Complexity
	if complexity == "" {
		complexity = models.ComplexityStandard
	}

	coordinator := NewCoordinator(CoordinatorConfig{
		Bus:        b,
		Executor:   executor.New(b, cfg.StepTimeout),
		Agents:     cfg.Agents,
		Table:      cfg.Table,
		Gates:      cfg.Gates,
		MaxRetries: cfg.MaxRetries,
	})

	return &Orchestrator{
		bus:         b,
		registry:    registry,
		stories:     stories,
		coordinator: coordinator,
		workflow:    cfg.Workflow,
		complexity:  complexity,
		workDir:     cfg.WorkingDirectory,
	}, nil
}

// Bus returns the shared event bus.
func (o *Orchestrator) Bus() *bus.Bus {
	return o.bus
}

// Stories returns the story lifecycle manager.
func (o *Orchestrator) Stories() *story.Manager {
	return o.stories
}

// WorkflowForComplexity returns the default ordered workflow names for a
// complexity level.
func WorkflowForComplexity(level models.ComplexityLevel) []string {
	switch level {
	case models.ComplexityLight:
		return []string{"dev-story"}
	case models.ComplexityFull:
		return []string{"prd", "architecture", "create-story", "dev-story", "qa-review"}
	default:
		return []string{"create-story", "dev-story", "qa-review"}
	}
}

// Run builds the configured workflow into a sequence and executes it for the
// given prompt. Unknown workflow names fail before execution starts.
func (o *Orchestrator) Run(ctx context.Context, prompt string) (*models.SequenceResult, error) {
	names := o.workflow
	if len(names) == 0 {
		names = WorkflowForComplexity(o.complexity)
	}

	seq, err := workflow.BuildSequence(o.registry, names, o.complexity, "configured workflow")
	if err != nil {
		return nil, err
	}
	return o.RunSequence(ctx, prompt, seq)
}

// RunSequence executes a pre-built sequence for the given prompt. The result
// carries every runtime outcome, including failures; the error return is
// reserved for invalid calls.
func (o *Orchestrator) RunSequence(ctx context.Context, prompt string, seq *models.WorkflowSequence) (*models.SequenceResult, error) {
	if seq == nil {
		return nil, errors.New("orchestrator: nil sequence")
	}
	execCtx := models.NewExecutionContext(prompt, o.workDir)
	return o.coordinator.ExecuteSequence(ctx, seq, execCtx), nil
}
