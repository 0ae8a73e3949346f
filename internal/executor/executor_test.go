package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stagehand-dev/stagehand/internal/bus"
)

// chunkStream returns a StreamFunc that emits the given chunks and closes.
func chunkStream(chunks ...Chunk) StreamFunc {
	return func(ctx context.Context) (<-chan Chunk, error) {
		out := make(chan Chunk, len(chunks))
		for _, c := range chunks {
			out <- c
		}
		close(out)
		return out, nil
	}
}

func TestExecuteSuccess(t *testing.T) {
	b := bus.New(8)
	sub := b.Subscribe(bus.EventTaskStarted, bus.EventTaskCompleted)
	defer sub.Close()

	e := New(b, 0)
	result := e.Execute(context.Background(), Task{
		ID:      "t1",
		Name:    "prd",
		AgentID: "PlannerA",
		Run: chunkStream(
			Chunk{Text: "hello "},
			Chunk{Text: "world"},
			Chunk{Artifact: "docs/prd.md"},
		),
	})

	if result.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q (error: %s)", result.Status, StatusSuccess, result.ErrorMessage)
	}
	if result.Output != "hello world" {
		t.Errorf("Output = %q, want %q", result.Output, "hello world")
	}
	if len(result.Artifacts) != 1 || result.Artifacts[0] != "docs/prd.md" {
		t.Errorf("Artifacts = %v, want [docs/prd.md]", result.Artifacts)
	}
	if result.Reason != FailureNone {
		t.Errorf("Reason = %q, want empty", result.Reason)
	}
	if result.EndTime.Before(result.StartTime) {
		t.Error("EndTime before StartTime")
	}

	if got := (<-sub.Events()).Type; got != bus.EventTaskStarted {
		t.Errorf("first event = %q, want task_started", got)
	}
	if got := (<-sub.Events()).Type; got != bus.EventTaskCompleted {
		t.Errorf("second event = %q, want task_completed", got)
	}
}

func TestExecuteStreamError(t *testing.T) {
	e := New(nil, 0)
	result := e.Execute(context.Background(), Task{
		ID:   "t1",
		Name: "dev-story",
		Run: chunkStream(
			Chunk{Text: "partial"},
			Chunk{Err: errors.New("compile failed")},
		),
	})

	if result.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if result.ErrorMessage != "compile failed" {
		t.Errorf("ErrorMessage = %q, want %q", result.ErrorMessage, "compile failed")
	}
	if result.Reason != FailureError {
		t.Errorf("Reason = %q, want %q", result.Reason, FailureError)
	}
	if result.Output != "partial" {
		t.Errorf("Output = %q, want partial output preserved", result.Output)
	}
	if !result.Retryable() {
		t.Error("error failures should be retryable")
	}
}

func TestExecuteEntryPointError(t *testing.T) {
	e := New(nil, 0)
	result := e.Execute(context.Background(), Task{
		Name: "prd",
		Run: func(ctx context.Context) (<-chan Chunk, error) {
			return nil, errors.New("no credentials")
		},
	})

	if result.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if result.ErrorMessage != "no credentials" {
		t.Errorf("ErrorMessage = %q", result.ErrorMessage)
	}
}

func TestExecutePanicIsContained(t *testing.T) {
	e := New(nil, 0)
	result := e.Execute(context.Background(), Task{
		ID:   "t1",
		Name: "prd",
		Run: func(ctx context.Context) (<-chan Chunk, error) {
			panic("boom")
		},
	})

	if result.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "task panicked") {
		t.Errorf("ErrorMessage = %q, want panic message", result.ErrorMessage)
	}
}

func TestExecuteNilRun(t *testing.T) {
	e := New(nil, 0)
	result := e.Execute(context.Background(), Task{Name: "prd"})

	if result.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "no entry point") {
		t.Errorf("ErrorMessage = %q", result.ErrorMessage)
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := New(nil, 20*time.Millisecond)
	result := e.Execute(context.Background(), Task{
		ID:   "t1",
		Name: "dev-story",
		Run: func(ctx context.Context) (<-chan Chunk, error) {
			// Never emits and never closes; only the deadline ends it.
			return make(chan Chunk), nil
		},
	})

	if result.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if result.Reason != FailureTimeout {
		t.Errorf("Reason = %q, want %q", result.Reason, FailureTimeout)
	}
	if !result.Retryable() {
		t.Error("timeouts should be retryable")
	}
}

func TestExecuteCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	e := New(nil, 0)
	done := make(chan *Result, 1)
	go func() {
		done <- e.Execute(ctx, Task{
			ID:   "t1",
			Name: "dev-story",
			Run: func(ctx context.Context) (<-chan Chunk, error) {
				return make(chan Chunk), nil
			},
		})
	}()

	cancel()
	result := <-done

	if result.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if result.Reason != FailureCanceled {
		t.Errorf("Reason = %q, want %q", result.Reason, FailureCanceled)
	}
	if result.Retryable() {
		t.Error("cancellation must not be retryable")
	}
}

func TestExecuteFailurePublishesTaskFailed(t *testing.T) {
	b := bus.New(8)
	sub := b.Subscribe(bus.EventTaskFailed)
	defer sub.Close()

	e := New(b, 0)
	e.Execute(context.Background(), Task{
		ID:   "t1",
		Name: "prd",
		Run:  chunkStream(Chunk{Err: errors.New("nope")}),
	})

	select {
	case evt := <-sub.Events():
		if evt.Data["error"] != "nope" {
			t.Errorf("error payload = %v, want nope", evt.Data["error"])
		}
		if evt.Data["reason"] != string(FailureError) {
			t.Errorf("reason payload = %v, want error", evt.Data["reason"])
		}
	default:
		t.Fatal("no task_failed event published")
	}
}
