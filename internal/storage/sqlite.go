package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)

	d, err := wrap(sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// wrap migrates an already-open connection.
func wrap(sqlDB *sql.DB) (*DB, error) {
	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS registrations (
    worker_id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    phone TEXT,
    emergency_phone TEXT,
    address TEXT,
    registered_at TEXT NOT NULL
);
`
	_, err := d.db.Exec(schema)
	return err
}
