package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/stagehand-dev/stagehand/internal/executor"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

func TestParseArtifacts(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single marker", "done\nARTIFACT: docs/prd.md\n", []string{"docs/prd.md"}},
		{"multiple markers", "ARTIFACT: a.go\nsome text\nARTIFACT: b.go", []string{"a.go", "b.go"}},
		{"indented marker", "  ARTIFACT: src/main.go  ", []string{"src/main.go"}},
		{"no markers", "nothing to report here", nil},
		{"empty path ignored", "ARTIFACT:\nARTIFACT:   ", nil},
		{"marker mid-line ignored", "see the ARTIFACT: note above", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArtifacts(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("parseArtifacts(%q) = %v, want %v", tt.text, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("artifact[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// drain consumes a chunk stream to EOF.
func drain(t *testing.T, ch <-chan executor.Chunk) (text string, artifacts []string, err error) {
	t.Helper()
	for chunk := range ch {
		if chunk.Err != nil {
			return text, artifacts, chunk.Err
		}
		text += chunk.Text
		if chunk.Artifact != "" {
			artifacts = append(artifacts, chunk.Artifact)
		}
	}
	return text, artifacts, nil
}

func TestScriptedExecutorStream(t *testing.T) {
	e := NewScriptedExecutor()
	e.Script("dev-story", ScriptedStep{
		Output:    "implemented the feature",
		Artifacts: []string{"src/feature.go", "src/feature_test.go"},
	})

	ch, err := e.Stream(context.Background(), "BuilderD", models.WorkflowStep{Name: "dev-story"}, models.NewExecutionContext("p", ""))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	text, artifacts, err := drain(t, ch)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if text != "implemented the feature" {
		t.Errorf("text = %q", text)
	}
	if len(artifacts) != 2 {
		t.Errorf("artifacts = %v, want 2", artifacts)
	}
}

func TestScriptedExecutorFailure(t *testing.T) {
	e := NewScriptedExecutor()
	e.Script("qa-review", ScriptedStep{Output: "partial", Err: errors.New("tests failed")})

	ch, err := e.Stream(context.Background(), "TesterE", models.WorkflowStep{Name: "qa-review"}, models.NewExecutionContext("p", ""))
	if err != nil {
		t.Fatal(err)
	}

	text, _, streamErr := drain(t, ch)
	if text != "partial" {
		t.Errorf("text = %q, want output before the error", text)
	}
	if streamErr == nil || streamErr.Error() != "tests failed" {
		t.Errorf("stream error = %v, want tests failed", streamErr)
	}
}

func TestScriptedExecutorDefaultResponse(t *testing.T) {
	e := NewScriptedExecutor()

	ch, err := e.Stream(context.Background(), "PlannerA", models.WorkflowStep{Name: "prd"}, models.NewExecutionContext("p", ""))
	if err != nil {
		t.Fatal(err)
	}

	text, _, streamErr := drain(t, ch)
	if streamErr != nil {
		t.Fatalf("stream error = %v", streamErr)
	}
	if !strings.Contains(text, "dry-run") || !strings.Contains(text, "prd") {
		t.Errorf("default response = %q, want dry-run placeholder naming the step", text)
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	got := translateModelForBedrock(anthropic.ModelClaudeSonnet4_20250514)
	if !strings.HasPrefix(string(got), "us.anthropic.") {
		t.Errorf("translated model = %q, want us.anthropic prefix", got)
	}

	custom := anthropic.Model("us.anthropic.claude-custom-v1:0")
	if got := translateModelForBedrock(custom); got != custom {
		t.Errorf("custom model rewritten: %q", got)
	}
}

func TestNewClaudeExecutorRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClaudeExecutor(ClaudeConfig{}); err == nil {
		t.Fatal("NewClaudeExecutor() accepted empty API key")
	}
}

func TestSystemPromptMentionsArtifactMarker(t *testing.T) {
	prompt := systemPrompt("BuilderD", models.WorkflowStep{
		Name:          "dev-story",
		Description:   "Implement the story",
		RequiredTools: []string{"read", "write"},
	})
	if !strings.Contains(prompt, "BuilderD") {
		t.Error("system prompt missing agent id")
	}
	if !strings.Contains(prompt, artifactMarker) {
		t.Error("system prompt missing artifact reporting instructions")
	}
	if !strings.Contains(prompt, "read, write") {
		t.Error("system prompt missing tool list")
	}
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(100, 50)
	tr.Add(10, 5)

	in, out := tr.Total()
	if in != 110 || out != 55 {
		t.Errorf("Total() = %d, %d; want 110, 55", in, out)
	}
	if tr.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", tr.Calls())
	}
}
