package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nixlim/evalstats/internal/config"
)

// DB is a read handle on the entity tables plus the dialect needed to
// build queries against them.
type DB struct {
	*sqlx.DB
	Dialect Dialect
}

// Open connects to the store described by cfg. SQLite databases are
// created and migrated on first use; PostgreSQL schemas are owned by the
// backend and only pinged.
func Open(cfg config.StorageConfig) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverPostgres:
		db, err := sqlx.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pinging postgres: %w", err)
		}
		return &DB{DB: db, Dialect: dialect}, nil
	default:
		raw, err := OpenSQLite(expandTilde(cfg.DSN))
		if err != nil {
			return nil, err
		}
		return &DB{DB: sqlx.NewDb(raw, "sqlite"), Dialect: dialect}, nil
	}
}

// Wrap adapts an already open *sql.DB, for example a sqlmock handle.
func Wrap(db *sql.DB, driver string) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &DB{DB: sqlx.NewDb(db, driver), Dialect: dialect}, nil
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
