package repository

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - records table with owner/synced indexes
// 2 - index on internal_id for server-id lookups
const currentSchemaVersion = 2

// DB is the device-local SQLite database.
type DB struct {
	conn *sql.DB
	path string
}

// OpenDB creates or opens the database at path and applies migrations.
// Pragmas go through the DSN so that every pooled connection gets them.
func OpenDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + filepath.ToSlash(path) + "?" + url.Values{
		"_pragma": {
			"busy_timeout(5000)",
			"journal_mode(wal)",
			"synchronous(normal)",
		},
		"_txlock": {"immediate"},
	}.Encode()

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)

	if err := applySchema(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

func (db *DB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

func (db *DB) Path() string {
	return db.path
}

func applySchema(conn *sql.DB) error {
	if _, err := conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if _, err := conn.Exec(`CREATE INDEX IF NOT EXISTS idx_records_internal_id ON records(internal_id)`); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
