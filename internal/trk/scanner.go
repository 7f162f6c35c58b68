package trk

import (
	"context"
	"time"
)

// Candidate is one discovered source file. Candidates live only for the
// duration of a scan pass; they are never persisted.
type Candidate struct {
	Path    string
	Root    string
	Size    int64
	ModTime time.Time
}

// Scanner enumerates candidate recorder files under the configured
// roots. Implementations must treat a missing root as normal (devices
// are not always mounted) and must skip unreadable entries without
// aborting the pass.
type Scanner interface {
	// Scan calls fn for each candidate, in discovery order. fn is
	// called sequentially. Scan returns early if ctx is cancelled.
	Scan(ctx context.Context, fn func(Candidate)) error
}
