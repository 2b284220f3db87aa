package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nebulaforge/nebulaforge/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteRunStore implements core.RunStore with SQLite storage.
type SQLiteRunStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteRunStore creates a SQLite run store at dbPath.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL mode for concurrent readers during a run.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteRunStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteRunStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Save upserts a run.
func (s *SQLiteRunStore) Save(ctx context.Context, run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.UpdatedAt = time.Now()

	var stateJSON []byte
	if run.State != nil {
		var err error
		stateJSON, err = json.Marshal(run.State)
		if err != nil {
			return fmt.Errorf("marshaling run state: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, project_id, title, kind, prompt, status, state,
			artifact_id, artifact_path, error,
			created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			title = excluded.title,
			kind = excluded.kind,
			prompt = excluded.prompt,
			status = excluded.status,
			state = excluded.state,
			artifact_id = excluded.artifact_id,
			artifact_path = excluded.artifact_path,
			error = excluded.error,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		run.ID, nullable(run.ProjectID), run.Title, run.Kind, run.Prompt,
		run.Status, nullable(string(stateJSON)),
		nullable(run.ArtifactID), nullable(run.ArtifactPath), nullable(run.Error),
		run.CreatedAt, run.UpdatedAt, nullableTime(run.StartedAt), nullableTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}
	return nil
}

// Load retrieves a run by ID.
func (s *SQLiteRunStore) Load(ctx context.Context, id core.RunID) (*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run core.Run
	var projectID, stateJSON, artifactID, artifactPath, runErr sql.NullString
	var startedAt, completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, kind, prompt, status, state,
		       artifact_id, artifact_path, error,
		       created_at, updated_at, started_at, completed_at
		FROM runs WHERE id = ?
	`, id).Scan(
		&run.ID, &projectID, &run.Title, &run.Kind, &run.Prompt, &run.Status, &stateJSON,
		&artifactID, &artifactPath, &runErr,
		&run.CreatedAt, &run.UpdatedAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("run", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	run.ProjectID = projectID.String
	run.ArtifactID = artifactID.String
	run.ArtifactPath = artifactPath.String
	run.Error = runErr.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if stateJSON.Valid && stateJSON.String != "" {
		run.State = &core.RunState{}
		if err := json.Unmarshal([]byte(stateJSON.String), run.State); err != nil {
			return nil, fmt.Errorf("unmarshaling run state: %w", err)
		}
	}

	return &run, nil
}

// List returns summaries of all runs, most recently updated first.
func (s *SQLiteRunStore) List(ctx context.Context) ([]core.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, kind, status, created_at, updated_at
		FROM runs
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var summaries []core.RunSummary
	for rows.Next() {
		var sum core.RunSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Kind, &sum.Status, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning run summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run summaries: %w", err)
	}
	return summaries, nil
}

// Delete removes a run.
func (s *SQLiteRunStore) Delete(ctx context.Context, id core.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("run", string(id))
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteRunStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullable(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ core.RunStore = (*SQLiteRunStore)(nil)
