package upload

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"trk-go/internal/trk"
)

// MemorySpool is an in-memory implementation of the Spool interface.
// It is useful for testing and is safe for concurrent use.
type MemorySpool struct {
	mu    sync.Mutex
	files map[string][]byte
	next  int
}

func NewMemorySpool() *MemorySpool {
	return &MemorySpool{files: make(map[string][]byte)}
}

func (s *MemorySpool) Save(originalName string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	path := fmt.Sprintf("mem-spool-%d-%s", s.next, sanitizeName(originalName))
	s.files[path] = data
	return path, nil
}

// Open returns a reader over a spooled file's stored bytes. The keys
// returned by Save exist only in this spool's map, never on disk.
func (s *MemorySpool) Open(path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("spooled file not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemorySpool) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[path]; !ok {
		return fmt.Errorf("spooled file not found: %s", path)
	}
	delete(s.files, path)
	return nil
}

// Bytes returns the stored content of a spooled file, for tests.
func (s *MemorySpool) Bytes(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	return data, ok
}

// Compile-time check that MemorySpool implements trk.Spool
var _ trk.Spool = (*MemorySpool)(nil)
