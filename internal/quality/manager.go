// Package quality runs pluggable validators against the artifacts a
// workflow step produced and aggregates the results.
package quality

import (
	"context"
	"fmt"
	"log"

	"github.com/stagehand-dev/stagehand/internal/bus"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

// Validator checks one aspect of a step's artifacts.
type Validator interface {
	// Name identifies the validator in failure reports.
	Name() string
	// Validate returns whether the artifacts pass and a message describing
	// the outcome. The message is only reported on failure.
	Validate(ctx context.Context, step models.WorkflowStep, artifacts []string) (bool, string)
}

// Manager runs an ordered list of validators. Validators never short-circuit
// each other: all run, so a gate failure reports complete diagnostics.
type Manager struct {
	bus        *bus.Bus
	validators []Validator
}

// NewManager creates a quality gate manager with the given validators.
func NewManager(b *bus.Bus, validators ...Validator) *Manager {
	return &Manager{bus: b, validators: validators}
}

// Validators returns the injected validator list, in order.
func (m *Manager) Validators() []Validator {
	return m.validators
}

// ValidateArtifacts runs every validator against the step's artifacts and
// aggregates the results. A validator that panics counts as a failing result
// for that validator, not a fatal error for the whole gate. The aggregated
// result is published as a validation_completed event regardless of outcome.
func (m *Manager) ValidateArtifacts(ctx context.Context, step models.WorkflowStep, artifacts []string) *models.ValidationResult {
	result := &models.ValidationResult{Passed: true}

	for _, v := range m.validators {
		passed, message := m.runValidator(ctx, v, step, artifacts)
		if !passed {
			result.Passed = false
			result.Failures = append(result.Failures, models.ValidationFailure{
				ValidatorName: v.Name(),
				Message:       message,
			})
		}
	}

	if m.bus != nil {
		failures := make([]map[string]any, 0, len(result.Failures))
		for _, f := range result.Failures {
			failures = append(failures, map[string]any{
				"validator": f.ValidatorName,
				"message":   f.Message,
			})
		}
		m.bus.Publish(bus.Event{
			Type: bus.EventValidationCompleted,
			Data: map[string]any{
				"step":     step.Name,
				"passed":   result.Passed,
				"failures": failures,
			},
		})
	}

	return result
}

// runValidator invokes one validator, converting a panic into a failure.
func (m *Manager) runValidator(ctx context.Context, v Validator, step models.WorkflowStep, artifacts []string) (passed bool, message string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[quality] validator %s panicked: %v", v.Name(), r)
			passed = false
			message = fmt.Sprintf("validator panicked: %v", r)
		}
	}()
	return v.Validate(ctx, step, artifacts)
}
