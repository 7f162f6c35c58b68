// Package upload holds uploaded recordings on disk until the ingest
// pipeline has fingerprinted and archived them.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"trk-go/internal/trk"
)

// FileSystemSpool is a filesystem-based implementation of the Spool
// interface. Each saved upload gets a unique file under the spool
// directory; the original name survives only as a suffix hint.
type FileSystemSpool struct {
	dir   string
	idgen trk.IDGenerator
}

// NewFileSystemSpool creates a spool rooted at dir, creating it if
// needed.
func NewFileSystemSpool(dir string, idgen trk.IDGenerator) (*FileSystemSpool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &FileSystemSpool{dir: dir, idgen: idgen}, nil
}

// Save writes the upload to a new spool file and returns its path.
func (s *FileSystemSpool) Save(originalName string, r io.Reader) (string, error) {
	path := filepath.Join(s.dir, s.idgen.New()+"-"+sanitizeName(originalName))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create spool file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close spool file: %w", err)
	}
	return path, nil
}

// Open returns a reader over a spooled file. Paths outside the spool
// directory are rejected.
func (s *FileSystemSpool) Open(path string) (io.ReadCloser, error) {
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		return nil, fmt.Errorf("path %s is not in the spool directory", path)
	}
	return os.Open(path)
}

// Remove deletes a spooled file. Paths outside the spool directory are
// rejected.
func (s *FileSystemSpool) Remove(path string) error {
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		return fmt.Errorf("path %s is not in the spool directory", path)
	}
	return os.Remove(path)
}

// sanitizeName strips path components and characters that could escape
// the spool directory from a client-supplied filename.
func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return name
}

// Compile-time check that FileSystemSpool implements trk.Spool
var _ trk.Spool = (*FileSystemSpool)(nil)
