// Package workflow resolves workflow names to their step definitions.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/stagehand-dev/stagehand/pkg/models"
)

// Registry resolves a workflow name to its read-only step definition.
type Registry interface {
	// Resolve returns the step for the given workflow name. It fails with a
	// WorkflowNotFoundError if the name is unknown.
	Resolve(name string) (models.WorkflowStep, error)
}

// WorkflowNotFoundError is returned when a workflow name is not registered.
type WorkflowNotFoundError struct {
	Name string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow %q not found", e.Name)
}

// StaticRegistry is an in-memory Registry populated programmatically.
type StaticRegistry struct {
	mu    sync.RWMutex
	steps map[string]models.WorkflowStep
}

// NewStaticRegistry creates a registry containing the given steps.
func NewStaticRegistry(steps ...models.WorkflowStep) *StaticRegistry {
	r := &StaticRegistry{steps: make(map[string]models.WorkflowStep)}
	for _, s := range steps {
		r.steps[s.Name] = s
	}
	return r
}

// Register adds or replaces a step definition.
func (r *StaticRegistry) Register(step models.WorkflowStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Name] = step
}

// Resolve implements Registry.
func (r *StaticRegistry) Resolve(name string) (models.WorkflowStep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	step, ok := r.steps[name]
	if !ok {
		return models.WorkflowStep{}, &WorkflowNotFoundError{Name: name}
	}
	return step, nil
}

// Names returns every registered workflow name, sorted.
func (r *StaticRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// workflowsFile is the on-disk YAML layout for workflow definitions.
type workflowsFile struct {
	Workflows []models.WorkflowStep `yaml:"workflows"`
}

// LoadFile reads workflow definitions from a YAML file into a registry.
func LoadFile(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflows file: %w", err)
	}

	var file workflowsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workflows file %s: %w", path, err)
	}

	r := NewStaticRegistry()
	for _, step := range file.Workflows {
		if step.Name == "" {
			return nil, fmt.Errorf("workflows file %s: step with empty name", path)
		}
		r.Register(step)
	}
	return r, nil
}

// LoadDir loads every .yaml/.yml file in a directory into one registry.
// Later files override earlier definitions of the same name.
func LoadDir(dir string) (*StaticRegistry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}

	r := NewStaticRegistry()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		loaded, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, name := range loaded.Names() {
			step, _ := loaded.Resolve(name)
			r.Register(step)
		}
	}
	return r, nil
}

// DefaultRegistry returns the built-in workflow set covering the standard
// plan/build/verify development flow.
func DefaultRegistry() *StaticRegistry {
	return NewStaticRegistry(
		models.WorkflowStep{
			Name:          "prd",
			Description:   "Produce the product requirements document",
			RequiredTools: []string{"write"},
		},
		models.WorkflowStep{
			Name:          "architecture",
			Description:   "Produce the technical architecture document",
			RequiredTools: []string{"read", "write"},
		},
		models.WorkflowStep{
			Name:          "create-story",
			Description:   "Draft the next story from the epic backlog",
			RequiredTools: []string{"read", "write"},
		},
		models.WorkflowStep{
			Name:          "dev-story",
			Description:   "Implement the current story",
			RequiredTools: []string{"read", "write", "shell"},
		},
		models.WorkflowStep{
			Name:          "qa-review",
			Description:   "Review and test the implemented story",
			RequiredTools: []string{"read", "shell"},
		},
	)
}

// BuildSequence resolves an ordered list of workflow names into a sequence.
// It fails on the first unknown name.
func BuildSequence(r Registry, names []string, level models.ComplexityLevel, rationale string) (*models.WorkflowSequence, error) {
	steps := make([]models.WorkflowStep, 0, len(names))
	for _, name := range names {
		step, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return &models.WorkflowSequence{
		ComplexityLevel: level,
		Steps:           steps,
		Rationale:       rationale,
	}, nil
}
