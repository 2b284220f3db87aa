// Package archive packages generated file sets into zip artifacts and
// stores them on disk.
package archive

import (
	"archive/zip"
	"bytes"
	"sort"
	"strings"

	"github.com/nebulaforge/nebulaforge/internal/core"
)

// ZipArchiver implements core.Archiver with deflate-compressed zips.
type ZipArchiver struct{}

// NewZipArchiver creates a zip archiver.
func NewZipArchiver() *ZipArchiver { return &ZipArchiver{} }

// sanitizePath neutralizes absolute and parent-traversal paths so an
// extracted archive can never write outside its directory.
func sanitizePath(path string) string {
	safe := strings.TrimLeft(path, "/")
	return strings.ReplaceAll(safe, "..", "_")
}

// Archive packages the files into a zip blob. Entries are written in
// sorted path order so identical inputs produce identical archives.
func (ZipArchiver) Archive(files map[string]string) ([]byte, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, path := range paths {
		f, err := w.Create(sanitizePath(path))
		if err != nil {
			return nil, core.ErrState(core.CodeArchiveFailed, "creating zip entry").WithCause(err).WithDetail("path", path)
		}
		if _, err := f.Write([]byte(files[path])); err != nil {
			return nil, core.ErrState(core.CodeArchiveFailed, "writing zip entry").WithCause(err).WithDetail("path", path)
		}
	}
	if err := w.Close(); err != nil {
		return nil, core.ErrState(core.CodeArchiveFailed, "finalizing archive").WithCause(err)
	}
	return buf.Bytes(), nil
}

var _ core.Archiver = (*ZipArchiver)(nil)
