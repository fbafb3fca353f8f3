package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every schema check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateConstraints()
}

// ValidateTablesExist verifies that all required tables exist
// FUNCTIONAL DISCOVERY: Explicit table validation prevents runtime errors
// from missing tables during database operations
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"players":           "Player directory",
		"paired_scans":      "Pairing cooldown records",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	playerColumns := map[string]string{
		"id":           "TEXT",
		"display_name": "TEXT",
		"created_at":   "DATETIME",
	}
	if err := v.validateColumns("players", playerColumns); err != nil {
		return fmt.Errorf("players table structure invalid: %w", err)
	}

	scanColumns := map[string]string{
		"id":               "TEXT",
		"player_id":        "TEXT",
		"peer_id":          "TEXT",
		"scan_type":        "TEXT",
		"proximity":        "TEXT",
		"distance_meters":  "REAL",
		"scanned_at":       "INTEGER",
		"next_eligible_at": "INTEGER",
	}
	if err := v.validateColumns("paired_scans", scanColumns); err != nil {
		return fmt.Errorf("paired_scans table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_paired_scans_pair":       "Pairwise cooldown lookups",
		"idx_paired_scans_scanned_at": "Recent pairing listings",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that check constraints are enforced.
// ARCHITECTURAL DISCOVERY: Constraint checks run inside a rolled-back transaction so
// validation never leaves rows behind
func (v *SchemaValidator) ValidateConstraints() error {
	checks := []struct {
		name  string
		query string
	}{
		{"scan_type", `INSERT INTO paired_scans (id, player_id, peer_id, scan_type, proximity, distance_meters, scanned_at, next_eligible_at)
			VALUES ('check-1', 'a', 'b', 'qr', 'near', 1, 0, 0)`},
		{"proximity", `INSERT INTO paired_scans (id, player_id, peer_id, scan_type, proximity, distance_meters, scanned_at, next_eligible_at)
			VALUES ('check-2', 'a', 'b', 'peer', 'adjacent', 1, 0, 0)`},
		{"self pairing", `INSERT INTO paired_scans (id, player_id, peer_id, scan_type, proximity, distance_meters, scanned_at, next_eligible_at)
			VALUES ('check-3', 'a', 'a', 'peer', 'near', 1, 0, 0)`},
	}

	tx, err := v.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin constraint check: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, check := range checks {
		if _, err := tx.Exec(check.query); err == nil {
			return fmt.Errorf("check constraint not enforced: %s", check.name)
		}
	}
	return nil
}

// tableExists checks if a table exists in the database
func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database
func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
