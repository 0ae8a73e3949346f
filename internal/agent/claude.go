// Package agent implements the executors that produce workflow step output
// streams, backed by the Anthropic API or by scripted responses.
package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/stagehand-dev/stagehand/internal/executor"
	"github.com/stagehand-dev/stagehand/internal/orchestrator"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

// artifactMarker prefixes a line on which an agent reports a created file.
const artifactMarker = "ARTIFACT:"

// ClaudeConfig contains configuration for creating a ClaudeExecutor.
type ClaudeConfig struct {
	// Model is the Claude model to use.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// MaxTokens bounds each response. Defaults to 8192.
	MaxTokens int64
}

// ClaudeExecutor runs workflow steps through the Anthropic Messages API. One
// step is one API call; the agent reports created files on ARTIFACT: lines.
type ClaudeExecutor struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tracker   *TokenTracker
}

// NewClaudeExecutor creates an Anthropic-backed step executor.
func NewClaudeExecutor(cfg ClaudeConfig) (*ClaudeExecutor, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &ClaudeExecutor{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock
// cross-region inference profile format: us.anthropic.{model}-v1:0.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	// Might already be Bedrock format or a custom model.
	return model
}

// Model returns the configured model name.
func (e *ClaudeExecutor) Model() anthropic.Model {
	return e.model
}

// Tracker returns the token tracker for this executor.
func (e *ClaudeExecutor) Tracker() *TokenTracker {
	return e.tracker
}

// Stream implements orchestrator.AgentExecutor. The API call runs in a
// goroutine; its text and any reported artifacts arrive as chunks on the
// returned channel, which closes at end of response.
func (e *ClaudeExecutor) Stream(ctx context.Context, agentID string, step models.WorkflowStep, execCtx *models.ExecutionContext) (<-chan executor.Chunk, error) {
	out := make(chan executor.Chunk)

	go func() {
		defer close(out)

		resp, err := e.inner.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     e.model,
			MaxTokens: e.maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt(agentID, step)},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(step, execCtx))),
			},
		})
		if err != nil {
			send(ctx, out, executor.Chunk{Err: fmt.Errorf("API call failed: %w", err)})
			return
		}

		e.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		for _, block := range resp.Content {
			variant, ok := block.AsAny().(anthropic.TextBlock)
			if !ok {
				continue
			}
			if !send(ctx, out, executor.Chunk{Text: variant.Text}) {
				return
			}
			for _, artifact := range parseArtifacts(variant.Text) {
				if !send(ctx, out, executor.Chunk{Artifact: artifact}) {
					return
				}
			}
		}
	}()

	return out, nil
}

// send delivers a chunk unless the context is canceled first.
func send(ctx context.Context, out chan<- executor.Chunk, c executor.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseArtifacts extracts the paths reported on ARTIFACT: lines.
func parseArtifacts(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, artifactMarker) {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, artifactMarker))
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// systemPrompt builds the per-step system prompt for an agent.
func systemPrompt(agentID string, step models.WorkflowStep) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, an agent in an automated development pipeline.\n\n", agentID)
	fmt.Fprintf(&sb, "Your current workflow step is %q: %s\n", step.Name, step.Description)
	if len(step.RequiredTools) > 0 {
		fmt.Fprintf(&sb, "Tools available to you: %s\n", strings.Join(step.RequiredTools, ", "))
	}
	sb.WriteString("\nWhen you create a file, report it on its own line as:\n")
	sb.WriteString(artifactMarker + " <path>\n")
	return sb.String()
}

// userPrompt builds the user message for a step from the execution context.
func userPrompt(step models.WorkflowStep, execCtx *models.ExecutionContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Request\n%s\n", execCtx.InitialPrompt)
	if execCtx.WorkingDirectory != "" {
		fmt.Fprintf(&sb, "\n## Working Directory\n%s\n", execCtx.WorkingDirectory)
	}
	if metadata := execCtx.Metadata(); len(metadata) > 0 {
		sb.WriteString("\n## Context From Earlier Steps\n")
		for k, v := range metadata {
			fmt.Fprintf(&sb, "- %s: %v\n", k, v)
		}
	}
	fmt.Fprintf(&sb, "\nComplete the %q step now.\n", step.Name)
	return sb.String()
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Verify ClaudeExecutor implements AgentExecutor at compile time.
var _ orchestrator.AgentExecutor = (*ClaudeExecutor)(nil)
