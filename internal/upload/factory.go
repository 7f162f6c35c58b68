package upload

import (
	"fmt"

	"trk-go/internal/config"
	"trk-go/internal/trk"
)

// NewSpoolFromConfig creates a Spool implementation based on the config
// type.
func NewSpoolFromConfig(cfg config.SpoolConfig, idgen trk.IDGenerator) (trk.Spool, error) {
	switch cfg.Type {
	case "memory":
		return NewMemorySpool(), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem spool requires dir to be set")
		}
		return NewFileSystemSpool(cfg.Dir, idgen)
	default:
		return nil, fmt.Errorf("unknown spool type: %s", cfg.Type)
	}
}
