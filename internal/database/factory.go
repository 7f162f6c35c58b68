package database

import (
	"fmt"
	"path/filepath"

	"trk-go/internal/config"
	"trk-go/internal/database/migrations"
	"trk-go/internal/trk"
)

// NewDatabaseFromConfig creates a Database implementation based on the
// database config type and brings the schema up to date.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (trk.Database, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		path = filepath.Join(cfg.DataDir, "trk.db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return NewSQLiteDatabaseFromDB(db), nil
}
