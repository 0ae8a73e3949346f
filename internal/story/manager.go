package story

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stagehand-dev/stagehand/internal/bus"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

// Manager owns the lifecycle of stories. Every transition is validated
// against the lifecycle table, persisted through the repository, and
// announced on the bus. Writes to a single story are serialized with a
// per-id lock so no two transitions for the same story interleave.
type Manager struct {
	repo Repository
	bus  *bus.Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a lifecycle manager over the given repository.
func NewManager(repo Repository, b *bus.Bus) *Manager {
	return &Manager{
		repo:  repo,
		bus:   b,
		locks: make(map[string]*sync.Mutex),
	}
}

// storyLock returns the mutex serializing writes for one story id.
func (m *Manager) storyLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// CreateStory persists a new story in the Ready state and publishes a
// story_created event. It fails with a DuplicateStoryError if the
// (epic, story) pair already exists.
func (m *Manager) CreateStory(ctx context.Context, epic, storyNum int, details string) (*models.Story, error) {
	id := models.StoryID(epic, storyNum)

	lock := m.storyLock(id)
	lock.Lock()
	defer lock.Unlock()

	exists, err := m.repo.Exists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check story %s: %w", id, err)
	}
	if exists {
		return nil, &DuplicateStoryError{EpicNumber: epic, StoryNumber: storyNum}
	}

	now := time.Now()
	s := &models.Story{
		ID:          id,
		EpicNumber:  epic,
		StoryNumber: storyNum,
		State:       models.StoryReady,
		Details:     details,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save story %s: %w", id, err)
	}

	log.Printf("[story] created %s", id)
	m.publish(bus.EventStoryCreated, map[string]any{
		"story_id": id,
		"epic":     epic,
		"story":    storyNum,
	})
	return s, nil
}

// TransitionState moves a story to a new lifecycle state. The transition is
// validated before anything is persisted: an invalid request leaves the
// story untouched and returns an InvalidTransitionError naming the current
// and requested states.
func (m *Manager) TransitionState(ctx context.Context, id string, to models.StoryState) (*models.Story, error) {
	lock := m.storyLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get story %s: %w", id, err)
	}
	if s == nil {
		return nil, &StoryNotFoundError{ID: id}
	}

	from := s.State
	if !from.CanTransitionTo(to) {
		return nil, &InvalidTransitionError{ID: id, From: from, To: to}
	}

	s.State = to
	s.UpdatedAt = time.Now()
	if err := m.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save story %s: %w", id, err)
	}

	log.Printf("[story] %s: %s -> %s", id, from, to)
	m.publish(bus.EventStoryStateTransitioned, map[string]any{
		"story_id": id,
		"from":     string(from),
		"to":       string(to),
	})
	return s, nil
}

// EpicProgress summarizes completion of an epic. Pure read; never mutates.
func (m *Manager) EpicProgress(ctx context.Context, epic int) (models.EpicProgress, error) {
	stories, err := m.repo.ListEpic(ctx, epic)
	if err != nil {
		return models.EpicProgress{}, fmt.Errorf("list epic %d: %w", epic, err)
	}

	progress := models.EpicProgress{Total: len(stories)}
	for _, s := range stories {
		if s.State == models.StoryDone {
			progress.Done++
		}
	}
	if progress.Total > 0 {
		progress.PercentComplete = float64(progress.Done) / float64(progress.Total) * 100
	}
	return progress, nil
}

// publish emits an event if a bus is configured.
func (m *Manager) publish(t bus.EventType, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{Type: t, Data: data})
}
