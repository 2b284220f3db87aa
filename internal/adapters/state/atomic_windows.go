//go:build windows

package state

import (
	"os"
	"path/filepath"
)

// atomicWriteFile replaces path with data in one step. renameio has no
// Windows support, so this falls back to a plain temp-write and rename
// in the target directory.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, perm); err != nil {
		return err
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return err
	}

	return nil
}
