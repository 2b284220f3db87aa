// Package state provides the run persistence backends: one JSON file
// per run for easy inspection, or a single SQLite database.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"time"

	"github.com/nebulaforge/nebulaforge/internal/core"
)

// JSONRunStore implements core.RunStore with one JSON file per run.
type JSONRunStore struct {
	dir string
}

// NewJSONRunStore creates a JSON run store rooted at dir.
func NewJSONRunStore(dir string) (*JSONRunStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	return &JSONRunStore{dir: dir}, nil
}

// runEnvelope wraps a run with integrity metadata.
type runEnvelope struct {
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
	Run       *core.Run `json:"run"`
}

func (s *JSONRunStore) pathFor(id core.RunID) string {
	return filepath.Join(s.dir, string(id)+".json")
}

// Save persists a run atomically.
func (s *JSONRunStore) Save(_ context.Context, run *core.Run) error {
	run.UpdatedAt = time.Now()

	runBytes, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	hash := sha256.Sum256(runBytes)

	envelope := runEnvelope{
		Version:   1,
		Checksum:  hex.EncodeToString(hash[:]),
		UpdatedAt: run.UpdatedAt,
		Run:       run,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	if err := atomicWriteFile(s.pathFor(run.ID), data, 0o644); err != nil {
		return fmt.Errorf("writing run file: %w", err)
	}
	return nil
}

// Load retrieves a run by ID, verifying its checksum.
func (s *JSONRunStore) Load(_ context.Context, id core.RunID) (*core.Run, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("run", string(id))
		}
		return nil, fmt.Errorf("reading run file: %w", err)
	}

	var envelope runEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if envelope.Run == nil {
		return nil, core.ErrState(core.CodeInvalidState, "run envelope missing payload")
	}

	runBytes, err := json.Marshal(envelope.Run)
	if err != nil {
		return nil, fmt.Errorf("marshaling run for checksum: %w", err)
	}
	hash := sha256.Sum256(runBytes)
	if hex.EncodeToString(hash[:]) != envelope.Checksum {
		return nil, core.ErrState(core.CodeInvalidState, "run file checksum mismatch")
	}

	return envelope.Run, nil
}

// List returns summaries of all stored runs, most recently updated
// first.
func (s *JSONRunStore) List(ctx context.Context) ([]core.RunSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading run directory: %w", err)
	}

	var summaries []core.RunSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := core.RunID(strings.TrimSuffix(entry.Name(), ".json"))
		run, err := s.Load(ctx, id)
		if err != nil {
			// Corrupt files are skipped, not fatal for listing.
			continue
		}
		summaries = append(summaries, core.RunSummary{
			ID:        run.ID,
			Title:     run.Title,
			Kind:      run.Kind,
			Status:    run.Status,
			CreatedAt: run.CreatedAt,
			UpdatedAt: run.UpdatedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Delete removes a stored run.
func (s *JSONRunStore) Delete(_ context.Context, id core.RunID) error {
	if err := os.Remove(s.pathFor(id)); err != nil {
		if os.IsNotExist(err) {
			return core.ErrNotFound("run", string(id))
		}
		return fmt.Errorf("removing run file: %w", err)
	}
	return nil
}

// Close is a no-op for the JSON backend.
func (s *JSONRunStore) Close() error { return nil }

// Dir returns the storage directory.
func (s *JSONRunStore) Dir() string { return s.dir }

var _ core.RunStore = (*JSONRunStore)(nil)
