package trk

import "io"

// Archive is the immutable, content-addressed store for imported
// recorder files. All operations stream via io.Reader/io.Writer so large
// recordings never have to fit in memory.
type Archive interface {
	// Put stores content identified by its fingerprint. The operation
	// is idempotent: storing the same fingerprint multiple times is
	// safe. size is the number of bytes that will be read from r.
	Put(fingerprint string, r io.Reader, size int64) error

	// Open returns a reader over previously archived content.
	Open(fingerprint string) (io.ReadCloser, error)

	// Has reports whether content with the fingerprint exists.
	Has(fingerprint string) (bool, error)

	// List returns every archived fingerprint, for reconciling archive
	// files that lost their metadata row to a crash.
	List() ([]string, error)
}
