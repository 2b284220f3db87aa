package state

import (
	"fmt"

	"github.com/nebulaforge/nebulaforge/internal/core"
)

// Backend identifiers accepted by the factory.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// NewRunStore creates a RunStore for the configured backend. The path is
// a database file for sqlite or a directory for json.
func NewRunStore(backend, path string) (core.RunStore, error) {
	switch backend {
	case BackendSQLite, "":
		return NewSQLiteRunStore(path)
	case BackendJSON:
		return NewJSONRunStore(path)
	default:
		return nil, fmt.Errorf("unknown state backend: %s", backend)
	}
}
