package trk

import "io"

// Spool is the landing area for manual uploads: bytes arrive from the
// HTTP surface, get written to the spool, and are imported from there
// through the same pipeline as scanned files.
type Spool interface {
	// Save writes the uploaded bytes and returns the key the import
	// pipeline should read them back under. The key is opaque; only
	// Open and Remove understand it.
	Save(originalName string, r io.Reader) (string, error)

	// Open returns a fresh reader over a spooled file. The pipeline
	// reads each upload more than once, first to fingerprint and then
	// to archive.
	Open(path string) (io.ReadCloser, error)

	// Remove deletes a spooled file after a successful or skipped
	// import. Failed imports keep their spooled file for inspection.
	Remove(path string) error
}
