package story

import (
	"context"
	"sort"
	"sync"

	"github.com/stagehand-dev/stagehand/pkg/models"
)

// Repository persists stories. Implementations must provide at least atomic
// per-record writes; the manager layers per-story locking on top.
type Repository interface {
	// Get returns the story with the given id, or nil if it does not exist.
	Get(ctx context.Context, id string) (*models.Story, error)
	// Exists reports whether a story with the given id is persisted.
	Exists(ctx context.Context, id string) (bool, error)
	// Save inserts or updates a story.
	Save(ctx context.Context, s *models.Story) error
	// ListEpic returns every story of an epic, ordered by story number.
	ListEpic(ctx context.Context, epic int) ([]*models.Story, error)
}

// MemoryRepository is an in-memory Repository used in tests and as the
// default when no database is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	stories map[string]models.Story
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{stories: make(map[string]models.Story)}
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stories[id]
	if !ok {
		return nil, nil
	}
	copied := s
	return &copied, nil
}

// Exists implements Repository.
func (r *MemoryRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stories[id]
	return ok, nil
}

// Save implements Repository.
func (r *MemoryRepository) Save(_ context.Context, s *models.Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stories[s.ID] = *s
	return nil
}

// ListEpic implements Repository.
func (r *MemoryRepository) ListEpic(_ context.Context, epic int) ([]*models.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Story
	for _, s := range r.stories {
		if s.EpicNumber == epic {
			copied := s
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoryNumber < out[j].StoryNumber })
	return out, nil
}

// Verify MemoryRepository implements Repository at compile time.
var _ Repository = (*MemoryRepository)(nil)
