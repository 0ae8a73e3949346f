package models

import (
	"fmt"
	"time"
)

// StoryState represents the lifecycle state of a work item.
type StoryState string

const (
	// StoryReady indicates the story is ready to be picked up.
	StoryReady StoryState = "ready"
	// StoryInProgress indicates the story is being implemented.
	StoryInProgress StoryState = "in_progress"
	// StoryCodeReview indicates the implementation is under review.
	StoryCodeReview StoryState = "code_review"
	// StoryTesting indicates the story is being tested.
	StoryTesting StoryState = "testing"
	// StoryDone indicates the story completed successfully.
	StoryDone StoryState = "done"
	// StoryArchived is a terminal state reachable from any non-Ready state.
	StoryArchived StoryState = "archived"
)

// Valid returns true if the state is a known value.
func (s StoryState) Valid() bool {
	switch s {
	case StoryReady, StoryInProgress, StoryCodeReview, StoryTesting, StoryDone, StoryArchived:
		return true
	default:
		return false
	}
}

// storyTransitions is the forward lifecycle table. Archived is handled
// separately in CanTransitionTo since it is reachable from every state
// except Ready.
var storyTransitions = map[StoryState]StoryState{
	StoryReady:      StoryInProgress,
	StoryInProgress: StoryCodeReview,
	StoryCodeReview: StoryTesting,
	StoryTesting:    StoryDone,
}

// CanTransitionTo reports whether moving from s to next is a valid lifecycle
// transition. Same-state no-ops are not allowed.
func (s StoryState) CanTransitionTo(next StoryState) bool {
	if next == StoryArchived {
		return s != StoryReady && s != StoryArchived
	}
	return storyTransitions[s] == next
}

// Story is a unit of planned work, identified by its epic and story numbers.
type Story struct {
	// ID is the canonical "<epic>.<story>" identifier.
	ID string `json:"id"`
	// EpicNumber is the epic this story belongs to.
	EpicNumber int `json:"epic_number"`
	// StoryNumber is the story's position within the epic.
	StoryNumber int `json:"story_number"`
	// State is the current lifecycle state.
	State StoryState `json:"state"`
	// Details describes the work.
	Details string `json:"details,omitempty"`
	// CreatedAt is when the story was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the story last changed state.
	UpdatedAt time.Time `json:"updated_at"`
}

// StoryID builds the canonical story identifier from epic and story numbers.
func StoryID(epic, story int) string {
	return fmt.Sprintf("%d.%d", epic, story)
}

// EpicProgress summarizes completion of an epic's stories.
type EpicProgress struct {
	// Total is the number of stories in the epic.
	Total int `json:"total"`
	// Done is the number of stories in the Done state.
	Done int `json:"done"`
	// PercentComplete is Done/Total as a percentage (0 when Total is 0).
	PercentComplete float64 `json:"percent_complete"`
}

// ValidationFailure records one failing validator from a quality gate run.
type ValidationFailure struct {
	// ValidatorName identifies the validator that failed.
	ValidatorName string `json:"validator_name"`
	// Message explains the failure.
	Message string `json:"message"`
}

// ValidationResult aggregates a quality gate run. It is produced fresh on
// every invocation and never cached, since artifacts may change between runs.
type ValidationResult struct {
	// Passed is the logical AND of every validator's result.
	Passed bool `json:"passed"`
	// Failures collects every failing validator's message.
	Failures []ValidationFailure `json:"failures,omitempty"`
}
