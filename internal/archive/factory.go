package archive

import (
	"fmt"

	"trk-go/internal/config"
	"trk-go/internal/trk"
)

// NewArchiveFromConfig creates an Archive implementation based on the
// archive config type.
func NewArchiveFromConfig(cfg config.ArchiveConfig) (trk.Archive, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("root required for filesystem archive")
		}
		return NewFileSystemArchive(cfg.Root)
	case "memory":
		return NewMemoryArchive(), nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
