package archive

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"trk-go/internal/trk"
)

// MemoryArchive is an in-memory Archive for tests.
type MemoryArchive struct {
	mu      sync.Mutex
	content map[string][]byte
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{content: make(map[string][]byte)}
}

func (a *MemoryArchive) Put(fingerprint string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.content[fingerprint]; ok {
		return nil
	}
	a.content[fingerprint] = data
	return nil
}

func (a *MemoryArchive) Open(fingerprint string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.content[fingerprint]
	if !ok {
		return nil, fmt.Errorf("archived content not found: %s", fingerprint)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (a *MemoryArchive) Has(fingerprint string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.content[fingerprint]
	return ok, nil
}

func (a *MemoryArchive) List() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.content))
	for fp := range a.content {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes content. Only used by tests simulating crash states.
func (a *MemoryArchive) Delete(fingerprint string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.content, fingerprint)
}

var _ trk.Archive = (*MemoryArchive)(nil)
