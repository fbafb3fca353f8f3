package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Functional Validation Tests - Config

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.DatabasePath != "./data/rendezvous.db" {
		t.Errorf("Expected DatabasePath './data/rendezvous.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
			if _, err := Open(config); err == nil {
				t.Error("Open should refuse an invalid config")
			}
		})
	}
}

// Functional Validation Tests - Migrations

func TestMigrations_EmbeddedApplyOnce(t *testing.T) {
	db := openTestDB(t)
	manager := NewMigrationManager(db, nil)

	applied, err := manager.ApplyMigrations()
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("Expected 1 migration applied, got %d", applied)
	}

	applied, err = manager.ApplyMigrations()
	if err != nil {
		t.Fatalf("Second ApplyMigrations failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("Re-running migrations should be a no-op, applied %d", applied)
	}

	versions, err := manager.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 1 || versions[0] != "001" {
		t.Errorf("Unexpected applied versions %v", versions)
	}

	if err := manager.ValidateSchema(); err != nil {
		t.Errorf("ValidateSchema failed: %v", err)
	}
}

func TestMigrations_OrderedBySource(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"002_second.sql": {Data: []byte("INSERT INTO first (id) VALUES (1);")},
		"001_first.sql":  {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
		"README.md":      {Data: []byte("ignored")},
	}

	applied, err := NewMigrationManager(db, source).ApplyMigrations()
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if applied != 2 {
		t.Errorf("Expected 2 migrations, got %d", applied)
	}
}

func TestMigrations_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"001_broken.sql": {Data: []byte("CREATE TABLE ok (id INTEGER); THIS IS NOT SQL;")},
	}

	manager := NewMigrationManager(db, source)
	if _, err := manager.ApplyMigrations(); err == nil {
		t.Fatal("Expected broken migration to fail")
	}
	versions, err := manager.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("Failed migration must not be recorded, got %v", versions)
	}
}

// Functional Validation Tests - Schema

func TestSchemaValidator_AfterMigrations(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewMigrationManager(db, nil).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Errorf("Schema validation failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM paired_scans").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("constraint checks must not leave rows, found %d", count)
	}
}

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)
	if err := validator.ValidateTablesExist(); err == nil {
		t.Error("Expected missing tables to fail validation")
	}
	if err := validator.ValidateIndexes(); err == nil {
		t.Error("Expected missing indexes to fail validation")
	}
}

func TestMigrations_RejectsBadNames(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"no description": {"001.sql": {Data: []byte("SELECT 1;")}},
		"duplicate version": {
			"001_a.sql": {Data: []byte("SELECT 1;")},
			"001_b.sql": {Data: []byte("SELECT 1;")},
		},
	}
	for name, source := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewMigrationManager(openTestDB(t), source).ApplyMigrations(); err == nil {
				t.Error("Expected migration loading to fail")
			}
		})
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "nested", "dir", "rendezvous.db")

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
