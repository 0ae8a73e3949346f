package story

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stagehand-dev/stagehand/pkg/models"
)

// SQLiteRepository persists stories in an SQLite database. WAL mode is
// enabled for concurrent reads.
type SQLiteRepository struct {
	conn *sql.DB
	path string
}

// DefaultDBPath returns the project-local database path.
func DefaultDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".stagehand", "stories.db")
}

// OpenSQLite opens (and migrates) an SQLite story repository at the given
// path, creating parent directories as needed.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	repo := &SQLiteRepository{conn: conn, path: path}
	if err := repo.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.conn.Close()
}

// Path returns the path to the database file.
func (r *SQLiteRepository) Path() string {
	return r.path
}

// migrate creates the stories table if it does not exist.
func (r *SQLiteRepository) migrate() error {
	_, err := r.conn.Exec(`
		CREATE TABLE IF NOT EXISTS stories (
			id TEXT PRIMARY KEY,
			epic_number INTEGER NOT NULL,
			story_number INTEGER NOT NULL,
			state TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create stories table: %w", err)
	}

	_, err = r.conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_stories_epic ON stories(epic_number)
	`)
	if err != nil {
		return fmt.Errorf("create epic index: %w", err)
	}
	return nil
}

// Get implements Repository.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Story, error) {
	row := r.conn.QueryRowContext(ctx, `
		SELECT id, epic_number, story_number, state, details, created_at, updated_at
		FROM stories WHERE id = ?
	`, id)

	s, err := scanStory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	return s, nil
}

// Exists implements Repository.
func (r *SQLiteRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	row := r.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories WHERE id = ?`, id)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check story: %w", err)
	}
	return count > 0, nil
}

// Save implements Repository.
func (r *SQLiteRepository) Save(ctx context.Context, s *models.Story) error {
	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO stories (id, epic_number, story_number, state, details, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, details = excluded.details, updated_at = excluded.updated_at
	`, s.ID, s.EpicNumber, s.StoryNumber, string(s.State), s.Details, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save story: %w", err)
	}
	return nil
}

// ListEpic implements Repository.
func (r *SQLiteRepository) ListEpic(ctx context.Context, epic int) ([]*models.Story, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, epic_number, story_number, state, details, created_at, updated_at
		FROM stories WHERE epic_number = ? ORDER BY story_number
	`, epic)
	if err != nil {
		return nil, fmt.Errorf("list epic: %w", err)
	}
	defer rows.Close()

	var out []*models.Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanStory.
type scanner interface {
	Scan(dest ...any) error
}

// scanStory reads one story row.
func scanStory(row scanner) (*models.Story, error) {
	var s models.Story
	var state, createdAt, updatedAt string
	if err := row.Scan(&s.ID, &s.EpicNumber, &s.StoryNumber, &state, &s.Details, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.State = models.StoryState(state)
	s.CreatedAt, _ = parseTime(createdAt)
	s.UpdatedAt, _ = parseTime(updatedAt)
	return &s, nil
}

// formatTime serializes a time for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserializes a stored time.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Verify SQLiteRepository implements Repository at compile time.
var _ Repository = (*SQLiteRepository)(nil)
