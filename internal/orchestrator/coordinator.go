package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-dev/stagehand/internal/bus"
	"github.com/stagehand-dev/stagehand/internal/executor"
	"github.com/stagehand-dev/stagehand/internal/quality"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

// DefaultMaxRetries is the total attempt budget per step. A step gets this
// many attempts in total before the sequence fails.
const DefaultMaxRetries = 3

// AgentExecutor produces the output stream for one workflow step. The
// returned channel must be closed at end of stream.
type AgentExecutor interface {
	Stream(ctx context.Context, agentID string, step models.WorkflowStep, execCtx *models.ExecutionContext) (<-chan executor.Chunk, error)
}

// Coordinator executes workflow sequences step by step: selecting an agent
// for each step, running it through the process executor with retries and
// exponential backoff, gating artifacts through the quality manager, and
// publishing lifecycle events along the way.
//
// Execution is fail-fast: the first step that exhausts its attempt budget
// stops the sequence. All runtime failures are encoded into the returned
// SequenceResult; ExecuteSequence itself never panics or returns an error.
type Coordinator struct {
	bus        *bus.Bus
	proc       *executor.ProcessExecutor
	agents     AgentExecutor
	table      AgentTable
	gates      *quality.Manager
	maxRetries int

	// sleep waits between attempts; swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// CoordinatorConfig configures a Coordinator. Agents is required; everything
// else has a working default. A nil Gates disables artifact gating.
type CoordinatorConfig struct {
	// Bus receives lifecycle events. Optional.
	Bus *bus.Bus
	// Executor runs individual step attempts. Defaults to a new executor
	// with no per-attempt timeout.
	Executor *executor.ProcessExecutor
	// Agents produces step output streams.
	Agents AgentExecutor
	// Table maps step names to agents. Defaults to DefaultAgentTable.
	Table *AgentTable
	// Gates validates step artifacts after each successful attempt. Optional.
	Gates *quality.Manager
	// MaxRetries is the total attempt budget per step.
	MaxRetries int
}

// NewCoordinator creates a Coordinator from the config, filling in defaults.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	table := DefaultAgentTable()
	if cfg.Table != nil {
		table = *cfg.Table
	}
	proc := cfg.Executor
	if proc == nil {
		proc = executor.New(cfg.Bus, 0)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Coordinator{
		bus:        cfg.Bus,
		proc:       proc,
		agents:     cfg.Agents,
		table:      table,
		gates:      cfg.Gates,
		maxRetries: maxRetries,
		sleep:      sleepContext,
	}
}

// ExecuteSequence runs every step of the sequence in order and returns the
// final result. An empty or nil sequence fails immediately without publishing
// any events. Cancellation is honored at step boundaries and between retry
// attempts; a canceled sequence reports SequenceCanceled.
func (c *Coordinator) ExecuteSequence(ctx context.Context, seq *models.WorkflowSequence, execCtx *models.ExecutionContext) (result *models.SequenceResult) {
	result = &models.SequenceResult{
		Status:    models.SequenceInProgress,
		StartTime: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[coordinator] sequence %s panicked: %v", result.SequenceID, r)
			result.Status = models.SequenceFailed
			result.ErrorMessage = fmt.Sprintf("sequence panicked: %v", r)
		}
		result.EndTime = time.Now()
		result.TotalArtifacts = 0
		for _, sr := range result.StepResults {
			result.TotalArtifacts += len(sr.ArtifactsCreated)
		}
	}()

	if seq == nil || len(seq.Steps) == 0 {
		result.Status = models.SequenceFailed
		result.ErrorMessage = "empty workflow sequence"
		return result
	}

	result.SequenceID = uuid.New().String()[:8]
	total := len(seq.Steps)

	log.Printf("[coordinator] sequence %s started (%d steps)", result.SequenceID, total)
	c.publish(bus.EventSequenceStarted, map[string]any{
		"sequence_id": result.SequenceID,
		"step_count":  total,
	})

	for i, step := range seq.Steps {
		if ctx.Err() != nil {
			result.Status = models.SequenceCanceled
			result.ErrorMessage = "sequence canceled"
			c.publish(bus.EventSequenceFailed, map[string]any{
				"sequence_id":    result.SequenceID,
				"failed_at_step": i + 1,
				"error":          "sequence canceled",
			})
			return result
		}

		stepRes := c.runStep(ctx, result.SequenceID, i+1, total, step, execCtx)
		result.StepResults = append(result.StepResults, stepRes)

		if stepRes.Status != models.StepSuccess {
			if ctx.Err() != nil {
				result.Status = models.SequenceCanceled
			} else {
				result.Status = models.SequenceFailed
			}
			result.ErrorMessage = fmt.Sprintf("step %q %s", step.Name, stepRes.ErrorMessage)
			log.Printf("[coordinator] sequence %s failed at step %d: %s", result.SequenceID, i+1, stepRes.ErrorMessage)
			c.publish(bus.EventSequenceFailed, map[string]any{
				"sequence_id":    result.SequenceID,
				"failed_at_step": i + 1,
				"error":          stepRes.ErrorMessage,
			})
			return result
		}
	}

	result.Status = models.SequenceCompleted
	log.Printf("[coordinator] sequence %s completed", result.SequenceID)
	c.publish(bus.EventSequenceCompleted, map[string]any{
		"sequence_id":      result.SequenceID,
		"duration_seconds": time.Since(result.StartTime).Seconds(),
		"total_steps":      total,
	})
	return result
}

// runStep executes one step with the retry budget. Each failed attempt
// publishes a step_failed event before the backoff wait; success publishes
// step_completed after the artifacts clear the quality gates.
func (c *Coordinator) runStep(ctx context.Context, seqID string, index, total int, step models.WorkflowStep, execCtx *models.ExecutionContext) *models.StepResult {
	agent := c.table.Select(step.Name)
	stepID := fmt.Sprintf("%s-%d", seqID, index)

	res := &models.StepResult{
		StepName:   step.Name,
		ExecutorID: agent,
		Status:     models.StepPending,
		StartTime:  time.Now(),
	}

	c.publish(bus.EventStepStarted, map[string]any{
		"step_id":     stepID,
		"step":        step.Name,
		"agent":       agent,
		"total_steps": total,
	})

	task := executor.Task{
		ID:      stepID,
		Name:    step.Name,
		AgentID: agent,
		Run: func(ctx context.Context) (<-chan executor.Chunk, error) {
			return c.agents.Stream(ctx, agent, step, execCtx)
		},
	}

	var lastErr string
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			log.Printf("[coordinator] step %s retrying in %s (attempt %d/%d)", step.Name, backoff, attempt, c.maxRetries)
			if err := c.sleep(ctx, backoff); err != nil {
				res.Status = models.StepFailed
				res.ErrorMessage = fmt.Sprintf("canceled while waiting to retry: %s", lastErr)
				res.EndTime = time.Now()
				return res
			}
		}

		proc := c.proc.Execute(ctx, task)

		if proc.Status == executor.StatusSuccess {
			if gateErr := c.checkGates(ctx, step, proc.Artifacts); gateErr != "" {
				res.Status = models.StepFailed
				res.Output = proc.Output
				res.ArtifactsCreated = proc.Artifacts
				res.ErrorMessage = gateErr
				res.EndTime = time.Now()
				c.publish(bus.EventStepFailed, map[string]any{
					"step_id":     stepID,
					"step":        step.Name,
					"error":       gateErr,
					"retry_count": attempt,
				})
				return res
			}

			res.Status = models.StepSuccess
			res.Output = proc.Output
			res.ArtifactsCreated = proc.Artifacts
			res.EndTime = time.Now()
			c.publish(bus.EventStepCompleted, map[string]any{
				"step_id":          stepID,
				"step":             step.Name,
				"duration_seconds": res.EndTime.Sub(res.StartTime).Seconds(),
				"artifacts":        res.ArtifactsCreated,
			})
			return res
		}

		lastErr = proc.ErrorMessage
		c.publish(bus.EventStepFailed, map[string]any{
			"step_id":     stepID,
			"step":        step.Name,
			"error":       lastErr,
			"retry_count": attempt,
		})

		// Cancellation is terminal; don't burn the remaining attempts.
		if !proc.Retryable() {
			res.Status = models.StepFailed
			res.ErrorMessage = lastErr
			res.EndTime = time.Now()
			return res
		}
		log.Printf("[coordinator] step %s attempt %d/%d failed: %s", step.Name, attempt, c.maxRetries, lastErr)
	}

	res.Status = models.StepFailed
	res.ErrorMessage = fmt.Sprintf("failed after %d attempts: %s", c.maxRetries, lastErr)
	res.EndTime = time.Now()
	return res
}

// checkGates runs the quality gates against the step's artifacts and returns
// a combined failure message, or "" when the gates pass or are disabled.
func (c *Coordinator) checkGates(ctx context.Context, step models.WorkflowStep, artifacts []string) string {
	if c.gates == nil {
		return ""
	}
	vr := c.gates.ValidateArtifacts(ctx, step, artifacts)
	if vr.Passed {
		return ""
	}
	parts := make([]string, 0, len(vr.Failures))
	for _, f := range vr.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.ValidatorName, f.Message))
	}
	return "quality gate failed: " + strings.Join(parts, "; ")
}

// publish emits an event if a bus is configured.
func (c *Coordinator) publish(t bus.EventType, data map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Type: t, Data: data})
}

// sleepContext waits for d or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
