package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/stagehand-dev/stagehand/internal/executor"
	"github.com/stagehand-dev/stagehand/internal/orchestrator"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

// ScriptedStep is a canned response for one workflow step.
type ScriptedStep struct {
	// Output is the text emitted for the step.
	Output string
	// Artifacts are the paths reported as created.
	Artifacts []string
	// Err, when non-nil, fails the step after the output is emitted.
	Err error
}

// ScriptedExecutor replays canned responses instead of calling an API. It
// backs dry runs and tests. Unscripted steps get a generated placeholder
// response describing what would have run.
type ScriptedExecutor struct {
	mu    sync.RWMutex
	steps map[string]ScriptedStep
}

// NewScriptedExecutor creates a scripted executor with no steps scripted.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{steps: make(map[string]ScriptedStep)}
}

// Script registers the canned response for a step name.
func (e *ScriptedExecutor) Script(stepName string, s ScriptedStep) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steps[stepName] = s
}

// Stream implements orchestrator.AgentExecutor.
func (e *ScriptedExecutor) Stream(ctx context.Context, agentID string, step models.WorkflowStep, _ *models.ExecutionContext) (<-chan executor.Chunk, error) {
	e.mu.RLock()
	scripted, ok := e.steps[step.Name]
	e.mu.RUnlock()
	if !ok {
		scripted = ScriptedStep{
			Output: fmt.Sprintf("[dry-run] %s would execute step %q\n", agentID, step.Name),
		}
	}

	out := make(chan executor.Chunk)
	go func() {
		defer close(out)
		if scripted.Output != "" {
			if !send(ctx, out, executor.Chunk{Text: scripted.Output}) {
				return
			}
		}
		for _, artifact := range scripted.Artifacts {
			if !send(ctx, out, executor.Chunk{Artifact: artifact}) {
				return
			}
		}
		if scripted.Err != nil {
			send(ctx, out, executor.Chunk{Err: scripted.Err})
		}
	}()
	return out, nil
}

// Verify ScriptedExecutor implements AgentExecutor at compile time.
var _ orchestrator.AgentExecutor = (*ScriptedExecutor)(nil)
