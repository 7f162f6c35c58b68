// Package scan walks configured mount roots looking for device
// recordings to ingest.
package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"trk-go/internal/trk"
)

// FileSystemScanner discovers candidate recordings under a set of roots.
// Roots that do not exist are skipped silently; removable media comes
// and goes between passes.
type FileSystemScanner struct {
	roots     []string
	maxDepth  int
	extension string // lowercase, including the dot
	logger    trk.Logger
}

func NewFileSystemScanner(roots []string, maxDepth int, extension string, logger trk.Logger) *FileSystemScanner {
	return &FileSystemScanner{
		roots:     roots,
		maxDepth:  maxDepth,
		extension: strings.ToLower(extension),
		logger:    logger,
	}
}

// Scan walks every root up to the configured depth and calls fn for
// each regular file whose extension matches, case-insensitively.
// Unreadable directories and entries are logged and skipped; they never
// abort the walk.
func (s *FileSystemScanner) Scan(ctx context.Context, fn func(trk.Candidate)) error {
	for _, root := range s.roots {
		if _, err := os.Stat(root); err != nil {
			s.logger.Debug("scan root unavailable", "root", root)
			continue
		}
		if err := s.scanRoot(ctx, root, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSystemScanner) scanRoot(ctx context.Context, root string, fn func(trk.Candidate)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn("scan entry skipped", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if s.depth(root, path) >= s.maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.ToLower(filepath.Ext(path)) != s.extension {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Warn("scan entry skipped", "path", path, "error", err)
			return nil
		}
		fn(trk.Candidate{
			Path:    path,
			Root:    root,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
}

// depth counts directory levels below root; the root itself is depth 0.
func (s *FileSystemScanner) depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

var _ trk.Scanner = (*FileSystemScanner)(nil)
