// Package testing provides test helpers for database tests.
package testing

import (
	"database/sql"
	"testing"

	"github.com/sokoflow/sokoflow/internal/database"
	_ "modernc.org/sqlite"
)

// SetupTestDB creates an in-memory SQLite database for testing
// and runs all migrations.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Connect(database.Config{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	migrator := database.NewMigrator(db)
	if err := migrator.MigrateUp(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
