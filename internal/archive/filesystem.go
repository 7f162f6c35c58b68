package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"trk-go/internal/trk"
)

// FileSystemArchive stores each imported recording as an immutable file
// named by its content fingerprint:
//
//	<root>/
//	  content/
//	    <fingerprint>    (raw recorder bytes, named by SHA-256)
//
// Naming by fingerprint makes the archive path collision-free and puts
// re-imports of identical bytes onto the same destination, so writes are
// idempotent by construction.
type FileSystemArchive struct {
	root       string
	contentDir string
}

// NewFileSystemArchive creates an archive rooted at the given path.
func NewFileSystemArchive(root string) (*FileSystemArchive, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &FileSystemArchive{root: root, contentDir: contentDir}, nil
}

// Put stores content under its fingerprint. Storing the same fingerprint
// multiple times is safe; later writes are skipped.
func (a *FileSystemArchive) Put(fingerprint string, r io.Reader, size int64) error {
	destPath := filepath.Join(a.contentDir, fingerprint)

	if _, err := os.Stat(destPath); err == nil {
		// Already archived; drain the reader so callers see consistent
		// behavior regardless of dedup.
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("reading content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return a.writeFile(destPath, r, size)
}

// Open returns a reader over archived content.
func (a *FileSystemArchive) Open(fingerprint string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(a.contentDir, fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archived content not found: %s", fingerprint)
		}
		return nil, fmt.Errorf("opening archived content: %w", err)
	}
	return f, nil
}

// Has reports whether content with the fingerprint is archived.
func (a *FileSystemArchive) Has(fingerprint string) (bool, error) {
	_, err := os.Stat(filepath.Join(a.contentDir, fingerprint))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat archived content: %w", err)
}

// List returns the fingerprints of all archived content. Used at the
// start of a scan pass to adopt archive files that have no metadata row
// (a crash between the copy and the record).
func (a *FileSystemArchive) List() ([]string, error) {
	entries, err := os.ReadDir(a.contentDir)
	if err != nil {
		return nil, fmt.Errorf("reading archive directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// writeFile writes data atomically: temp file in the same directory, then
// rename. A crash leaves at worst a .tmp- file that List ignores.
func (a *FileSystemArchive) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing content: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}

// Compile-time check that FileSystemArchive implements trk.Archive.
var _ trk.Archive = (*FileSystemArchive)(nil)
