package testutil

import (
	"testing"

	"trk-go/internal/database"
	"trk-go/internal/database/migrations"
	"trk-go/internal/trk"
)

// NewTestDatabase creates a new in-memory SQLite database with the
// schema applied. The database is closed when the test completes.
func NewTestDatabase(t *testing.T) trk.Database {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
