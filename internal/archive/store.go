package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/nebulaforge/nebulaforge/internal/core"
)

// FSStore keeps artifacts on the local filesystem, one zip per
// artifact ID.
type FSStore struct {
	dir string
}

// NewFSStore creates an artifact store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

// Store persists the archive blob atomically and returns its path and
// the download URL clients should use.
func (s *FSStore) Store(runID core.RunID, artifactID string, data []byte) (string, string, error) {
	path := filepath.Join(s.dir, artifactID+".zip")
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", "", core.ErrState(core.CodeArchiveFailed, "writing artifact").WithCause(err)
	}
	url := fmt.Sprintf("/api/v1/runs/%s/artifact", runID)
	return path, url, nil
}

// Open returns the archive bytes for an artifact ID.
func (s *FSStore) Open(artifactID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, artifactID+".zip"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("artifact", artifactID)
		}
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	return data, nil
}
