// Package executor runs single agent tasks to completion, draining their
// streamed output and reporting structured results.
package executor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stagehand-dev/stagehand/internal/bus"
)

// Chunk is one element of an agent task's output stream. A non-nil Err
// terminates the stream with a failure; an Artifact records a path the agent
// reports as created.
type Chunk struct {
	// Text is incremental output, appended to the task's final output.
	Text string
	// Artifact is a path created by the agent, if any.
	Artifact string
	// Err terminates the stream with a failure when non-nil.
	Err error
}

// StreamFunc is the entry point of an agent task. It returns a finite,
// non-restartable sequence of chunks on a channel that is closed at EOF.
// Implementations may also fail fast by returning an error directly.
type StreamFunc func(ctx context.Context) (<-chan Chunk, error)

// Task names one unit of external agent work and its entry point.
type Task struct {
	// ID identifies this execution (used in published events).
	ID string
	// Name is the human-readable task name, usually the workflow step name.
	Name string
	// AgentID is the agent selected to run the task.
	AgentID string
	// Run produces the task's output stream.
	Run StreamFunc
}

// FailureReason classifies why a task failed. The coordinator inspects the
// tag to decide whether an attempt is retryable instead of catching errors.
type FailureReason string

const (
	// FailureNone means the task did not fail.
	FailureNone FailureReason = ""
	// FailureError means the task's stream reported or raised an error.
	FailureError FailureReason = "error"
	// FailureTimeout means the task exceeded the caller-supplied timeout.
	FailureTimeout FailureReason = "timeout"
	// FailureCanceled means the surrounding context was canceled.
	FailureCanceled FailureReason = "canceled"
)

// Status represents the outcome of a task execution.
type Status string

const (
	// StatusPending indicates the task has not finished.
	StatusPending Status = "pending"
	// StatusSuccess indicates the task completed successfully.
	StatusSuccess Status = "success"
	// StatusFailed indicates the task failed.
	StatusFailed Status = "failed"
)

// Result contains the outcome of a single task execution. Callers rely on
// the Status field, not errors: every runtime failure is encoded here.
type Result struct {
	// TaskID is the id of the executed task.
	TaskID string
	// AgentID is the agent that ran the task.
	AgentID string
	// Status is the final state of the execution.
	Status Status
	// Output is the concatenation of every streamed text chunk.
	Output string
	// Artifacts lists paths the agent reported as created.
	Artifacts []string
	// ErrorMessage describes the failure, if any.
	ErrorMessage string
	// Reason classifies the failure for retry decisions.
	Reason FailureReason
	// StartTime is when execution began.
	StartTime time.Time
	// EndTime is when execution finished.
	EndTime time.Time
}

// Retryable reports whether a failed result is worth another attempt.
// Cancellation is terminal; errors and timeouts are transient.
func (r *Result) Retryable() bool {
	return r.Status == StatusFailed && r.Reason != FailureCanceled
}

// ProcessExecutor drains agent task streams and publishes task lifecycle
// events. A zero timeout disables the deadline.
type ProcessExecutor struct {
	bus     *bus.Bus
	timeout time.Duration
}

// New creates a ProcessExecutor publishing on the given bus.
func New(b *bus.Bus, timeout time.Duration) *ProcessExecutor {
	return &ProcessExecutor{bus: b, timeout: timeout}
}

// Execute runs the task to completion and returns its result. Any panic or
// error raised by the task's stream is caught and wrapped into a failed
// result; it never propagates to the caller.
func (e *ProcessExecutor) Execute(ctx context.Context, task Task) *Result {
	result := &Result{
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		Status:    StatusPending,
		StartTime: time.Now(),
	}

	e.publish(bus.EventTaskStarted, map[string]any{
		"task_id": task.ID,
		"task":    task.Name,
		"agent":   task.AgentID,
	})

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	output, artifacts, err := e.drain(ctx, task)
	result.Output = output
	result.Artifacts = artifacts
	result.EndTime = time.Now()

	if err == nil {
		result.Status = StatusSuccess
		e.publish(bus.EventTaskCompleted, map[string]any{
			"task_id":   task.ID,
			"task":      task.Name,
			"agent":     task.AgentID,
			"artifacts": artifacts,
		})
		return result
	}

	result.Status = StatusFailed
	result.ErrorMessage = err.Error()
	result.Reason = classify(ctx, err)

	e.publish(bus.EventTaskFailed, map[string]any{
		"task_id": task.ID,
		"task":    task.Name,
		"agent":   task.AgentID,
		"error":   result.ErrorMessage,
		"reason":  string(result.Reason),
	})
	return result
}

// drain consumes the task's chunk stream to EOF or error, concatenating
// text chunks and collecting artifacts.
func (e *ProcessExecutor) drain(ctx context.Context, task Task) (output string, artifacts []string, err error) {
	// A panicking entry point must not take the executor down with it.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[executor] task %s panicked: %v", task.ID, r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if task.Run == nil {
		return "", nil, fmt.Errorf("task %q has no entry point", task.Name)
	}

	chunks, err := task.Run(ctx)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), artifacts, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return sb.String(), artifacts, nil
			}
			if chunk.Err != nil {
				return sb.String(), artifacts, chunk.Err
			}
			sb.WriteString(chunk.Text)
			if chunk.Artifact != "" {
				artifacts = append(artifacts, chunk.Artifact)
			}
		}
	}
}

// classify maps an execution error onto a failure reason tag.
func classify(ctx context.Context, err error) FailureReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return FailureTimeout
	case context.Canceled:
		return FailureCanceled
	}
	if err == context.DeadlineExceeded {
		return FailureTimeout
	}
	return FailureError
}

// publish emits an event if a bus is configured.
func (e *ProcessExecutor) publish(t bus.EventType, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Type: t, Data: data})
}
