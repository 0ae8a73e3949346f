package quality

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stagehand-dev/stagehand/internal/exec"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

// ArtifactsExist verifies that every reported artifact exists on disk,
// resolved relative to BaseDir when the path is not absolute.
type ArtifactsExist struct {
	// BaseDir is the directory relative artifact paths resolve against.
	BaseDir string
}

// Name implements Validator.
func (v *ArtifactsExist) Name() string { return "artifacts-exist" }

// Validate implements Validator.
func (v *ArtifactsExist) Validate(_ context.Context, _ models.WorkflowStep, artifacts []string) (bool, string) {
	var missing []string
	for _, a := range artifacts {
		path := a
		if !filepath.IsAbs(path) && v.BaseDir != "" {
			path = filepath.Join(v.BaseDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("missing artifacts: %s", strings.Join(missing, ", "))
	}
	return true, ""
}

// NonEmptyArtifacts verifies that a step reported at least one artifact.
type NonEmptyArtifacts struct{}

// Name implements Validator.
func (v *NonEmptyArtifacts) Name() string { return "non-empty-artifacts" }

// Validate implements Validator.
func (v *NonEmptyArtifacts) Validate(_ context.Context, step models.WorkflowStep, artifacts []string) (bool, string) {
	if len(artifacts) == 0 {
		return false, fmt.Sprintf("step %q produced no artifacts", step.Name)
	}
	return true, ""
}

// Command runs a shell command as a quality gate; a non-zero exit fails the
// gate. The command runs in WorkDir with the runner abstraction so tests can
// substitute a fake.
type Command struct {
	// GateName identifies the gate in failure reports.
	GateName string
	// WorkDir is the directory the command runs in.
	WorkDir string
	// CommandLine is the shell command to run.
	CommandLine string
	// Runner executes the command; defaults to the real runner when nil.
	Runner exec.CommandRunner
}

// Name implements Validator.
func (v *Command) Name() string {
	if v.GateName != "" {
		return v.GateName
	}
	return "command"
}

// Validate implements Validator.
func (v *Command) Validate(ctx context.Context, _ models.WorkflowStep, _ []string) (bool, string) {
	runner := v.Runner
	if runner == nil {
		runner = exec.NewRunner()
	}
	output, err := runner.RunShell(ctx, v.WorkDir, v.CommandLine)
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			msg = err.Error()
		}
		return false, msg
	}
	return true, ""
}

// Func adapts a plain function into a Validator. Used for plugging in
// deployment-specific checks and in tests.
type Func struct {
	// ValidatorName identifies the validator in failure reports.
	ValidatorName string
	// Check is the validation function.
	Check func(ctx context.Context, step models.WorkflowStep, artifacts []string) (bool, string)
}

// Name implements Validator.
func (v *Func) Name() string { return v.ValidatorName }

// Validate implements Validator.
func (v *Func) Validate(ctx context.Context, step models.WorkflowStep, artifacts []string) (bool, string) {
	return v.Check(ctx, step, artifacts)
}
