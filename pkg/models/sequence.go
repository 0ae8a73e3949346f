// Package models defines the shared data types for stagehand.
package models

import (
	"sync"
	"time"
)

// ComplexityLevel classifies how heavyweight a workflow sequence is.
type ComplexityLevel string

const (
	// ComplexityLight is for short sequences with little planning overhead.
	ComplexityLight ComplexityLevel = "light"
	// ComplexityStandard is for the default end-to-end development flow.
	ComplexityStandard ComplexityLevel = "standard"
	// ComplexityFull is for sequences that include every planning artifact.
	ComplexityFull ComplexityLevel = "full"
)

// WorkflowStep is read-only reference data resolved from a workflow registry.
type WorkflowStep struct {
	// Name is the unique workflow name (e.g. "prd", "dev-story").
	Name string `yaml:"name" json:"name"`
	// Description explains what the step produces.
	Description string `yaml:"description" json:"description"`
	// RequiredTools lists tool names the executing agent needs.
	RequiredTools []string `yaml:"required_tools" json:"required_tools,omitempty"`
	// Metadata holds registry-defined key/value pairs.
	Metadata map[string]string `yaml:"metadata" json:"metadata,omitempty"`
}

// WorkflowSequence is an ordered list of workflow steps executed as one
// logical unit of work. It is built by a strategy layer and handed to the
// coordinator as an opaque input; the coordinator never mutates it.
type WorkflowSequence struct {
	// ComplexityLevel classifies the sequence.
	ComplexityLevel ComplexityLevel `json:"complexity_level"`
	// Steps are executed strictly in order.
	Steps []WorkflowStep `json:"steps"`
	// Rationale records why this sequence was chosen.
	Rationale string `json:"rationale,omitempty"`
}

// StepStatus represents the final state of a single step execution.
type StepStatus string

const (
	// StepPending indicates the step has not finished yet.
	StepPending StepStatus = "pending"
	// StepSuccess indicates the step completed successfully.
	StepSuccess StepStatus = "success"
	// StepFailed indicates the step failed after exhausting retries.
	StepFailed StepStatus = "failed"
)

// StepResult records the outcome of one workflow step. It is created at step
// start and finalized at step end by the coordinator.
type StepResult struct {
	// StepName is the workflow name of the step.
	StepName string `json:"step_name"`
	// ExecutorID is the agent selected for the step.
	ExecutorID string `json:"executor_id"`
	// Status is the final state of the step.
	Status StepStatus `json:"status"`
	// Output is the concatenated agent output.
	Output string `json:"output,omitempty"`
	// ArtifactsCreated lists paths the agent reported as created.
	ArtifactsCreated []string `json:"artifacts_created,omitempty"`
	// StartTime is when the step began.
	StartTime time.Time `json:"start_time"`
	// EndTime is when the step finished.
	EndTime time.Time `json:"end_time"`
	// ErrorMessage describes the failure, if any.
	ErrorMessage string `json:"error_message,omitempty"`
}

// SequenceStatus represents the state of a whole sequence execution.
type SequenceStatus string

const (
	// SequenceInProgress indicates the sequence is still executing.
	SequenceInProgress SequenceStatus = "in_progress"
	// SequenceCompleted indicates every step succeeded.
	SequenceCompleted SequenceStatus = "completed"
	// SequenceFailed indicates a step failed or the input was invalid.
	SequenceFailed SequenceStatus = "failed"
	// SequenceCanceled indicates cancellation was requested at a step boundary.
	SequenceCanceled SequenceStatus = "canceled"
)

// SequenceResult is the final value returned to the caller of a sequence
// execution. It is created and mutated only by the coordinator and never
// shared for concurrent mutation.
type SequenceResult struct {
	// SequenceID is the generated id for this execution.
	SequenceID string `json:"sequence_id"`
	// Status is the final state of the sequence.
	Status SequenceStatus `json:"status"`
	// StepResults holds one entry per attempted step, in order.
	StepResults []*StepResult `json:"step_results"`
	// ErrorMessage names the failing step and underlying cause, if any.
	ErrorMessage string `json:"error_message,omitempty"`
	// TotalArtifacts counts artifacts across all completed steps.
	TotalArtifacts int `json:"total_artifacts"`
	// StartTime is when the sequence began.
	StartTime time.Time `json:"start_time"`
	// EndTime is when the sequence finished.
	EndTime time.Time `json:"end_time"`
}

// ExecutionContext is created once per sequence execution and passed by
// reference through every step. Steps may read it and merge metadata in;
// keys written by an earlier step are never deleted, only overridden.
type ExecutionContext struct {
	// InitialPrompt is the user request that started the sequence.
	InitialPrompt string
	// WorkingDirectory is where agents produce artifacts.
	WorkingDirectory string

	mu       sync.RWMutex
	metadata map[string]any
}

// NewExecutionContext creates an execution context for one sequence run.
func NewExecutionContext(prompt, workDir string) *ExecutionContext {
	return &ExecutionContext{
		InitialPrompt:    prompt,
		WorkingDirectory: workDir,
		metadata:         make(map[string]any),
	}
}

// Metadata returns a copy of the current metadata map.
func (c *ExecutionContext) Metadata() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// Value returns the metadata value for key, if present.
func (c *ExecutionContext) Value(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// MergeMetadata merges the given entries into the context. Existing keys are
// overridden; there is no way to delete a key once written.
func (c *ExecutionContext) MergeMetadata(entries map[string]any) {
	if len(entries) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range entries {
		c.metadata[k] = v
	}
}
