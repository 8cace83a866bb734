package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

// OpenSQLite opens (creating if needed) the SQLite database at dbPath and
// brings its schema up to date.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	parentDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrateSchema(db, dbPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func migrateSchema(db *sql.DB, dbPath string) error {
	version, err := schemaVersion(db)
	if err != nil {
		return err
	}

	switch {
	case version > currentSchemaVersion:
		return fmt.Errorf(
			"database schema version %d is newer than this evalstats version supports (max: %d); upgrade evalstats or point storage.dsn away from %s",
			version, currentSchemaVersion, dbPath,
		)
	case version < currentSchemaVersion:
		if err := applyMigrations(db, version); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
	}
	return nil
}

// schemaVersion reads the stored schema version. A database without a
// schema_version table or row is at version 0.
func schemaVersion(db *sql.DB) (int, error) {
	var tables int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'").Scan(&tables)
	if err != nil {
		return 0, fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func applyMigrations(db *sql.DB, fromVersion int) error {
	if fromVersion == 0 {
		if err := migrateV0ToV1(db); err != nil {
			return fmt.Errorf("migration v0→v1: %w", err)
		}
	}

	return nil
}

// v1Tables mirrors the tables of the test management backend that the
// stats engine reads. Every entity carries organization_id.
var v1Tables = []struct {
	name string
	ddl  string
}{
	{"type_lookup", `CREATE TABLE IF NOT EXISTS type_lookup (
		id TEXT PRIMARY KEY,
		type_name TEXT NOT NULL,
		type_value TEXT NOT NULL,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"status", `CREATE TABLE IF NOT EXISTS status (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		entity_type_id TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT,
		email TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"behavior", `CREATE TABLE IF NOT EXISTS behavior (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status_id TEXT,
		user_id TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"category", `CREATE TABLE IF NOT EXISTS category (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status_id TEXT,
		user_id TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"topic", `CREATE TABLE IF NOT EXISTS topic (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status_id TEXT,
		user_id TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"prompt", `CREATE TABLE IF NOT EXISTS prompt (
		id TEXT PRIMARY KEY,
		content TEXT,
		user_id TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"test_set", `CREATE TABLE IF NOT EXISTS test_set (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status_id TEXT,
		user_id TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"test", `CREATE TABLE IF NOT EXISTS test (
		id TEXT PRIMARY KEY,
		prompt_id TEXT,
		test_type_id TEXT,
		priority INTEGER,
		user_id TEXT,
		assignee_id TEXT,
		owner_id TEXT,
		behavior_id TEXT,
		category_id TEXT,
		topic_id TEXT,
		status_id TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"test_test_set", `CREATE TABLE IF NOT EXISTS test_test_set (
		test_id TEXT NOT NULL,
		test_set_id TEXT NOT NULL,
		organization_id TEXT,
		PRIMARY KEY (test_id, test_set_id)
	)`},
	{"test_configuration", `CREATE TABLE IF NOT EXISTS test_configuration (
		id TEXT PRIMARY KEY,
		test_set_id TEXT,
		user_id TEXT,
		status_id TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"test_run", `CREATE TABLE IF NOT EXISTS test_run (
		id TEXT PRIMARY KEY,
		name TEXT,
		test_configuration_id TEXT,
		status_id TEXT,
		user_id TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"test_result", `CREATE TABLE IF NOT EXISTS test_result (
		id TEXT PRIMARY KEY,
		test_configuration_id TEXT,
		test_run_id TEXT,
		prompt_id TEXT,
		test_id TEXT,
		status_id TEXT,
		user_id TEXT,
		test_metrics TEXT,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"tag", `CREATE TABLE IF NOT EXISTS tag (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		organization_id TEXT,
		created_at TEXT
	)`},
	{"tagged_item", `CREATE TABLE IF NOT EXISTS tagged_item (
		id TEXT PRIMARY KEY,
		tag_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		organization_id TEXT
	)`},
}

var v1Indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_test_org_created ON test(organization_id, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_test_run_org_created ON test_run(organization_id, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_test_result_org_created ON test_result(organization_id, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_test_result_run ON test_result(test_run_id)",
	"CREATE INDEX IF NOT EXISTS idx_tagged_item_entity ON tagged_item(entity_type, entity_id)",
	"CREATE INDEX IF NOT EXISTS idx_status_entity_type ON status(entity_type_id)",
}

func migrateV0ToV1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (1)")
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}

	for _, table := range v1Tables {
		if _, err := tx.Exec(table.ddl); err != nil {
			return fmt.Errorf("creating %s table: %w", table.name, err)
		}
	}

	for _, idx := range v1Indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
