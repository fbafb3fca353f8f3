package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embedded embed.FS

// EmbeddedMigrations returns the migrations compiled into the binary
func EmbeddedMigrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration is one versioned .sql file
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager applies versioned migrations from a filesystem
// ARCHITECTURAL DISCOVERY: The source is an fs.FS so the binary carries its
// schema and tests can substitute an in-memory set
type MigrationManager struct {
	db     *sql.DB
	source fs.FS
}

// NewMigrationManager creates a migration manager reading .sql files from
// source; a nil source selects the embedded migrations
func NewMigrationManager(db *sql.DB, source fs.FS) *MigrationManager {
	if source == nil {
		source = EmbeddedMigrations()
	}
	return &MigrationManager{db: db, source: source}
}

// ApplyMigrations applies all pending migrations in version order and
// returns how many ran. Each migration commits together with its
// schema_migrations row, so a failure leaves no partial version behind.
func (m *MigrationManager) ApplyMigrations() (int, error) {
	if err := m.ensureVersionTable(); err != nil {
		return 0, fmt.Errorf("failed to create migration table: %w", err)
	}

	pending, err := m.loadMigrations()
	if err != nil {
		return 0, fmt.Errorf("failed to load migrations: %w", err)
	}

	done, err := m.appliedSet()
	if err != nil {
		return 0, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	applied := 0
	for _, migration := range pending {
		if done[migration.Version] {
			continue
		}
		if err := m.apply(migration); err != nil {
			return applied, fmt.Errorf("failed to apply migration %s (%s): %w", migration.Version, migration.Description, err)
		}
		applied++
	}
	return applied, nil
}

// AppliedVersions returns the migration versions recorded in schema_migrations
func (m *MigrationManager) AppliedVersions() ([]string, error) {
	if err := m.ensureVersionTable(); err != nil {
		return nil, err
	}
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// ValidateSchema checks that the tables and indexes the store relies on exist
func (m *MigrationManager) ValidateSchema() error {
	validator := NewSchemaValidator(m.db)
	if err := validator.ValidateTablesExist(); err != nil {
		return err
	}
	return validator.ValidateIndexes()
}

func (m *MigrationManager) ensureVersionTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// loadMigrations reads NNN_description.sql files from the source.
// Other files are ignored; two files sharing a version are an error.
func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, ".")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string)
	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		version, description, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s is not named NNN_description.sql", name)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %s", other, name, version)
		}
		seen[version] = name

		content, err := fs.ReadFile(m.source, name)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *MigrationManager) appliedSet() (map[string]bool, error) {
	versions, err := m.AppliedVersions()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(versions))
	for _, v := range versions {
		set[v] = true
	}
	return set, nil
}

func (m *MigrationManager) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
