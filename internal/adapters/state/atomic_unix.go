//go:build !windows

package state

import (
	"os"

	"github.com/google/renameio/v2"
)

// atomicWriteFile replaces path with data in one step. renameio writes
// to a temp file and renames it over the target, so a crash mid-write
// never leaves a torn run state on disk.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
