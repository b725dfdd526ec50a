package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration represents a database migration.
type Migration struct {
	Version   string
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt *time.Time
}

// Migrator handles database migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist.
func (m *Migrator) ensureMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := m.db.Exec(query)
	return err
}

// getAppliedMigrations returns a map of applied migration versions.
func (m *Migrator) getAppliedMigrations() (map[string]bool, error) {
	if err := m.ensureMigrationsTable(); err != nil {
		return nil, err
	}

	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// loadMigrations loads all migrations from the embedded filesystem.
// Files are named <version>_<name>.up.sql / <version>_<name>.down.sql.
func (m *Migrator) loadMigrations() ([]Migration, error) {
	byVersion := make(map[string]*Migration)

	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}

		base := filepath.Base(path)
		name := strings.TrimSuffix(base, ".sql")

		var direction string
		switch {
		case strings.HasSuffix(name, ".up"):
			direction = "up"
			name = strings.TrimSuffix(name, ".up")
		case strings.HasSuffix(name, ".down"):
			direction = "down"
			name = strings.TrimSuffix(name, ".down")
		default:
			return fmt.Errorf("migration %s missing .up/.down suffix", base)
		}

		parts := strings.SplitN(name, "_", 2)
		version := parts[0]

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: name}
			byVersion[version] = mig
		}

		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		if direction == "up" {
			mig.UpSQL = string(content)
		} else {
			mig.DownSQL = string(content)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Pending returns migrations that have not yet been applied.
func (m *Migrator) Pending() ([]Migration, error) {
	applied, err := m.getAppliedMigrations()
	if err != nil {
		return nil, err
	}

	all, err := m.loadMigrations()
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mig := range all {
		if !applied[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// MigrateUp applies all pending migrations in order.
func (m *Migrator) MigrateUp() error {
	pending, err := m.Pending()
	if err != nil {
		return err
	}

	for _, mig := range pending {
		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("starting migration %s: %w", mig.Version, err)
		}

		if _, err := tx.Exec(mig.UpSQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %s: %w", mig.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version) VALUES (?)", mig.Version,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", mig.Version, err)
		}
	}
	return nil
}
