// Package story manages the lifecycle of work items ("stories"), enforcing
// valid state transitions and persisting through a repository.
package story

import (
	"fmt"

	"github.com/stagehand-dev/stagehand/pkg/models"
)

// DuplicateStoryError is returned when creating a story whose (epic, story)
// pair already exists in the repository.
type DuplicateStoryError struct {
	EpicNumber  int
	StoryNumber int
}

func (e *DuplicateStoryError) Error() string {
	return fmt.Sprintf("story %s already exists", models.StoryID(e.EpicNumber, e.StoryNumber))
}

// StoryNotFoundError is returned when a story id is unknown to the repository.
type StoryNotFoundError struct {
	ID string
}

func (e *StoryNotFoundError) Error() string {
	return fmt.Sprintf("story %s not found", e.ID)
}

// InvalidTransitionError is returned when a requested transition is not in
// the lifecycle table. The story's state is left untouched.
type InvalidTransitionError struct {
	ID   string
	From models.StoryState
	To   models.StoryState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("story %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}
