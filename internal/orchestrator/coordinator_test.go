package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stagehand-dev/stagehand/internal/bus"
	"github.com/stagehand-dev/stagehand/internal/executor"
	"github.com/stagehand-dev/stagehand/internal/quality"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

// agentFunc adapts a function into an AgentExecutor.
type agentFunc func(ctx context.Context, agentID string, step models.WorkflowStep, execCtx *models.ExecutionContext) (<-chan executor.Chunk, error)

func (f agentFunc) Stream(ctx context.Context, agentID string, step models.WorkflowStep, execCtx *models.ExecutionContext) (<-chan executor.Chunk, error) {
	return f(ctx, agentID, step, execCtx)
}

// stream returns a closed channel pre-loaded with the given chunks.
func stream(chunks ...executor.Chunk) <-chan executor.Chunk {
	out := make(chan executor.Chunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out
}

// succeedingAgent emits one text chunk and one artifact per step.
func succeedingAgent() AgentExecutor {
	return agentFunc(func(ctx context.Context, agentID string, step models.WorkflowStep, execCtx *models.ExecutionContext) (<-chan executor.Chunk, error) {
		return stream(
			executor.Chunk{Text: "done: " + step.Name},
			executor.Chunk{Artifact: step.Name + ".md"},
		), nil
	})
}

// countingAgent fails a step's first failures attempts, then succeeds.
type countingAgent struct {
	mu       sync.Mutex
	attempts map[string]int
	failures map[string]int
}

func newCountingAgent(failures map[string]int) *countingAgent {
	return &countingAgent{attempts: make(map[string]int), failures: failures}
}

func (a *countingAgent) Stream(ctx context.Context, agentID string, step models.WorkflowStep, execCtx *models.ExecutionContext) (<-chan executor.Chunk, error) {
	a.mu.Lock()
	a.attempts[step.Name]++
	n := a.attempts[step.Name]
	a.mu.Unlock()

	if n <= a.failures[step.Name] {
		return stream(executor.Chunk{Err: fmt.Errorf("attempt %d blew up", n)}), nil
	}
	return stream(executor.Chunk{Text: "ok"}), nil
}

func (a *countingAgent) count(step string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts[step]
}

// noSleep replaces the backoff wait and records requested durations.
type noSleep struct {
	mu     sync.Mutex
	waited []time.Duration
}

func (s *noSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waited = append(s.waited, d)
	s.mu.Unlock()
	return ctx.Err()
}

func seq(names ...string) *models.WorkflowSequence {
	steps := make([]models.WorkflowStep, 0, len(names))
	for _, n := range names {
		steps = append(steps, models.WorkflowStep{Name: n})
	}
	return &models.WorkflowSequence{ComplexityLevel: models.ComplexityStandard, Steps: steps}
}

// drainTypes reads every buffered event type from a subscription.
func drainTypes(sub *bus.Subscription) []bus.EventType {
	var types []bus.EventType
	for {
		select {
		case evt := <-sub.Events():
			types = append(types, evt.Type)
		default:
			return types
		}
	}
}

func TestExecuteSequenceEmpty(t *testing.T) {
	tests := []struct {
		name string
		seq  *models.WorkflowSequence
	}{
		{"nil sequence", nil},
		{"zero steps", &models.WorkflowSequence{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New(16)
			sub := b.Subscribe(bus.AllEventTypes()...)
			defer sub.Close()

			c := NewCoordinator(CoordinatorConfig{Bus: b, Agents: succeedingAgent()})
			result := c.ExecuteSequence(context.Background(), tt.seq, models.NewExecutionContext("p", ""))

			if result.Status != models.SequenceFailed {
				t.Errorf("Status = %q, want failed", result.Status)
			}
			if result.ErrorMessage != "empty workflow sequence" {
				t.Errorf("ErrorMessage = %q", result.ErrorMessage)
			}
			if len(result.StepResults) != 0 {
				t.Errorf("StepResults = %d, want 0", len(result.StepResults))
			}
			if types := drainTypes(sub); len(types) != 0 {
				t.Errorf("events published for empty sequence: %v", types)
			}
		})
	}
}

func TestExecuteSequenceSuccess(t *testing.T) {
	b := bus.New(32)
	sub := b.Subscribe(
		bus.EventSequenceStarted, bus.EventStepStarted, bus.EventStepCompleted,
		bus.EventStepFailed, bus.EventSequenceCompleted, bus.EventSequenceFailed,
	)
	defer sub.Close()

	c := NewCoordinator(CoordinatorConfig{Bus: b, Agents: succeedingAgent()})
	result := c.ExecuteSequence(context.Background(), seq("prd", "dev-story"), models.NewExecutionContext("build it", "/tmp/w"))

	if result.Status != models.SequenceCompleted {
		t.Fatalf("Status = %q, want completed (error: %s)", result.Status, result.ErrorMessage)
	}
	if len(result.SequenceID) != 8 {
		t.Errorf("SequenceID = %q, want 8-char id", result.SequenceID)
	}
	if len(result.StepResults) != 2 {
		t.Fatalf("StepResults = %d, want 2", len(result.StepResults))
	}
	if result.StepResults[0].ExecutorID != AgentPlanner {
		t.Errorf("step 1 executor = %q, want %q", result.StepResults[0].ExecutorID, AgentPlanner)
	}
	if result.StepResults[1].ExecutorID != AgentBuilder {
		t.Errorf("step 2 executor = %q, want %q", result.StepResults[1].ExecutorID, AgentBuilder)
	}
	for _, sr := range result.StepResults {
		if sr.Status != models.StepSuccess {
			t.Errorf("step %s status = %q, want success", sr.StepName, sr.Status)
		}
	}
	if result.TotalArtifacts != 2 {
		t.Errorf("TotalArtifacts = %d, want 2", result.TotalArtifacts)
	}

	want := []bus.EventType{
		bus.EventSequenceStarted,
		bus.EventStepStarted, bus.EventStepCompleted,
		bus.EventStepStarted, bus.EventStepCompleted,
		bus.EventSequenceCompleted,
	}
	got := drainTypes(sub)
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExecuteSequenceFailFast(t *testing.T) {
	b := bus.New(32)
	sub := b.Subscribe(bus.EventStepFailed, bus.EventSequenceFailed, bus.EventStepStarted)
	defer sub.Close()

	sleeper := &noSleep{}
	agent := newCountingAgent(map[string]int{"architecture": 99})
	c := NewCoordinator(CoordinatorConfig{Bus: b, Agents: agent, MaxRetries: 2})
	c.sleep = sleeper.sleep

	result := c.ExecuteSequence(context.Background(), seq("prd", "architecture", "dev-story"), models.NewExecutionContext("p", ""))

	if result.Status != models.SequenceFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if len(result.StepResults) != 2 {
		t.Fatalf("StepResults = %d, want 2 (no step runs past the failure)", len(result.StepResults))
	}
	if result.StepResults[0].Status != models.StepSuccess {
		t.Errorf("step 1 status = %q, want success", result.StepResults[0].Status)
	}
	if result.StepResults[1].Status != models.StepFailed {
		t.Errorf("step 2 status = %q, want failed", result.StepResults[1].Status)
	}
	wantMsg := `step "architecture" failed after 2 attempts: attempt 2 blew up`
	if result.ErrorMessage != wantMsg {
		t.Errorf("ErrorMessage = %q, want %q", result.ErrorMessage, wantMsg)
	}
	if got := agent.count("dev-story"); got != 0 {
		t.Errorf("dev-story ran %d times after the failure", got)
	}

	var stepFailed, stepStarted int
	var failedAt any
	for _, evt := range drainAll(sub) {
		switch evt.Type {
		case bus.EventStepFailed:
			stepFailed++
		case bus.EventStepStarted:
			stepStarted++
		case bus.EventSequenceFailed:
			failedAt = evt.Data["failed_at_step"]
		}
	}
	if stepFailed != 2 {
		t.Errorf("step_failed events = %d, want one per attempt (2)", stepFailed)
	}
	if stepStarted != 2 {
		t.Errorf("step_started events = %d, want 2", stepStarted)
	}
	if failedAt != 2 {
		t.Errorf("failed_at_step = %v, want 2", failedAt)
	}
}

// drainAll reads every buffered event from a subscription.
func drainAll(sub *bus.Subscription) []bus.Event {
	var events []bus.Event
	for {
		select {
		case evt := <-sub.Events():
			events = append(events, evt)
		default:
			return events
		}
	}
}

func TestRetryThenSuccess(t *testing.T) {
	b := bus.New(32)
	sub := b.Subscribe(bus.EventStepFailed, bus.EventStepCompleted)
	defer sub.Close()

	sleeper := &noSleep{}
	agent := newCountingAgent(map[string]int{"dev-story": 1})
	c := NewCoordinator(CoordinatorConfig{Bus: b, Agents: agent, MaxRetries: 3})
	c.sleep = sleeper.sleep

	result := c.ExecuteSequence(context.Background(), seq("dev-story"), models.NewExecutionContext("p", ""))

	if result.Status != models.SequenceCompleted {
		t.Fatalf("Status = %q, want completed (error: %s)", result.Status, result.ErrorMessage)
	}
	if got := agent.count("dev-story"); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if len(sleeper.waited) != 1 || sleeper.waited[0] != 2*time.Second {
		t.Errorf("backoff waits = %v, want [2s]", sleeper.waited)
	}

	events := drainAll(sub)
	if len(events) != 2 {
		t.Fatalf("events = %d, want step_failed then step_completed", len(events))
	}
	if events[0].Type != bus.EventStepFailed {
		t.Errorf("event[0] = %q, want step_failed", events[0].Type)
	}
	if events[0].Data["retry_count"] != 1 {
		t.Errorf("retry_count = %v, want 1", events[0].Data["retry_count"])
	}
	if events[1].Type != bus.EventStepCompleted {
		t.Errorf("event[1] = %q, want step_completed", events[1].Type)
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	sleeper := &noSleep{}
	agent := newCountingAgent(map[string]int{"dev-story": 99})
	c := NewCoordinator(CoordinatorConfig{Agents: agent, MaxRetries: 3})
	c.sleep = sleeper.sleep

	c.ExecuteSequence(context.Background(), seq("dev-story"), models.NewExecutionContext("p", ""))

	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(sleeper.waited) != len(want) {
		t.Fatalf("backoff waits = %v, want %v", sleeper.waited, want)
	}
	for i := range want {
		if sleeper.waited[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, sleeper.waited[i], want[i])
		}
	}
	if got := agent.count("dev-story"); got != 3 {
		t.Errorf("attempts = %d, want the full budget of 3", got)
	}
}

func TestExecuteSequenceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCoordinator(CoordinatorConfig{Agents: succeedingAgent()})
	result := c.ExecuteSequence(ctx, seq("prd"), models.NewExecutionContext("p", ""))

	if result.Status != models.SequenceCanceled {
		t.Errorf("Status = %q, want canceled", result.Status)
	}
	if len(result.StepResults) != 0 {
		t.Errorf("StepResults = %d, want 0", len(result.StepResults))
	}
}

func TestCancellationIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	agent := agentFunc(func(ctx context.Context, agentID string, step models.WorkflowStep, execCtx *models.ExecutionContext) (<-chan executor.Chunk, error) {
		attempts++
		cancel()
		// Never emits; execution ends via the canceled context.
		return make(chan executor.Chunk), nil
	})

	c := NewCoordinator(CoordinatorConfig{Agents: agent, MaxRetries: 3})
	result := c.ExecuteSequence(ctx, seq("dev-story"), models.NewExecutionContext("p", ""))

	if result.Status != models.SequenceCanceled {
		t.Errorf("Status = %q, want canceled", result.Status)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancellation is terminal)", attempts)
	}
}

func TestGateFailureIsTerminal(t *testing.T) {
	b := bus.New(32)
	sub := b.Subscribe(bus.EventStepFailed, bus.EventStepCompleted)
	defer sub.Close()

	gates := quality.NewManager(b, &quality.Func{
		ValidatorName: "artifact-check",
		Check: func(ctx context.Context, step models.WorkflowStep, artifacts []string) (bool, string) {
			return false, "missing file"
		},
	})

	attempts := 0
	agent := agentFunc(func(ctx context.Context, agentID string, step models.WorkflowStep, execCtx *models.ExecutionContext) (<-chan executor.Chunk, error) {
		attempts++
		return stream(executor.Chunk{Text: "ok"}), nil
	})

	c := NewCoordinator(CoordinatorConfig{Bus: b, Agents: agent, Gates: gates, MaxRetries: 3})
	result := c.ExecuteSequence(context.Background(), seq("dev-story"), models.NewExecutionContext("p", ""))

	if result.Status != models.SequenceFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (gate failures are not retried)", attempts)
	}

	stepRes := result.StepResults[0]
	if stepRes.Status != models.StepFailed {
		t.Errorf("step status = %q, want failed", stepRes.Status)
	}
	wantMsg := "quality gate failed: artifact-check: missing file"
	if stepRes.ErrorMessage != wantMsg {
		t.Errorf("step error = %q, want %q", stepRes.ErrorMessage, wantMsg)
	}

	events := drainAll(sub)
	for _, evt := range events {
		if evt.Type == bus.EventStepCompleted {
			t.Error("step_completed published despite gate failure")
		}
	}
}

func TestRunStepTaskIDs(t *testing.T) {
	var taskIDs []string
	var mu sync.Mutex

	b := bus.New(32)
	sub := b.Subscribe(bus.EventTaskStarted)
	defer sub.Close()

	c := NewCoordinator(CoordinatorConfig{Bus: b, Agents: succeedingAgent()})
	result := c.ExecuteSequence(context.Background(), seq("prd", "dev-story"), models.NewExecutionContext("p", ""))

	for _, evt := range drainAll(sub) {
		mu.Lock()
		taskIDs = append(taskIDs, evt.Data["task_id"].(string))
		mu.Unlock()
	}
	if len(taskIDs) != 2 {
		t.Fatalf("task_started events = %d, want 2", len(taskIDs))
	}
	wantFirst := result.SequenceID + "-1"
	wantSecond := result.SequenceID + "-2"
	if taskIDs[0] != wantFirst || taskIDs[1] != wantSecond {
		t.Errorf("task ids = %v, want [%s %s]", taskIDs, wantFirst, wantSecond)
	}
}

func TestSequencePanicIsContained(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{Agents: succeedingAgent()})
	c.proc = nil // force a panic inside step execution

	result := c.ExecuteSequence(context.Background(), seq("prd"), models.NewExecutionContext("p", ""))

	if result.Status != models.SequenceFailed {
		t.Fatalf("Status = %q, want failed", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "sequence panicked") {
		t.Errorf("ErrorMessage = %q, want panic message", result.ErrorMessage)
	}
	if result.EndTime.IsZero() {
		t.Error("EndTime not finalized after panic")
	}
}
