// Package store provides the local persistent store for the field client.
//
// The store is an embedded SQLite database holding the materialized route
// assignment graph (routes, streets, residences, clients) pulled from the
// backend, plus the queue of locally captured meter readings awaiting
// up-sync. It is the single source of truth for what has and has not been
// synced.
//
// The database runs in WAL mode so status queries stay fast while a sync
// session is writing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with meter-sync specific operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created; call InitSchema before first use.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call on every startup.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Route assignment graph, materialized from the backend.
	-- Rows are insert-if-absent: local edits are never overwritten by sync.
	CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		reader_id TEXT NOT NULL,
		synced_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS streets (
		id TEXT PRIMARY KEY,
		route_id TEXT NOT NULL,
		name TEXT NOT NULL,
		FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS residences (
		id TEXT PRIMARY KEY,
		street_id TEXT NOT NULL,
		address TEXT NOT NULL,
		meter_serial TEXT,
		FOREIGN KEY (street_id) REFERENCES streets(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		residence_id TEXT NOT NULL,
		name TEXT,
		account_number TEXT,
		FOREIGN KEY (residence_id) REFERENCES residences(id) ON DELETE CASCADE
	);

	-- Locally captured readings awaiting up-sync.
	CREATE TABLE IF NOT EXISTS readings (
		id TEXT PRIMARY KEY,
		client_id TEXT,
		residence_id TEXT,
		route_id TEXT,
		value REAL NOT NULL,
		notes TEXT,
		photo_path TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		remote_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Key/value bookkeeping (last sync timestamps and the like).
	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_status ON readings(status);
	CREATE INDEX IF NOT EXISTS idx_readings_created ON readings(created_at);
	CREATE INDEX IF NOT EXISTS idx_streets_route ON streets(route_id);
	CREATE INDEX IF NOT EXISTS idx_residences_street ON residences(street_id);
	CREATE INDEX IF NOT EXISTS idx_clients_residence ON clients(residence_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// syncTimeKey namespaces the last-sync timestamps per direction.
func syncTimeKey(direction string) string {
	return "last_sync_" + direction
}

// GetLastSyncTime returns the recorded last successful sync for the given
// direction ("down" or "up"). The zero time means never synced.
func (db *DB) GetLastSyncTime(direction string) (time.Time, error) {
	return db.GetLastSyncTimeContext(context.Background(), direction)
}

// GetLastSyncTimeContext returns the last-sync time with context support.
func (db *DB) GetLastSyncTimeContext(ctx context.Context, direction string) (time.Time, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", syncTimeKey(direction)).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync time: %w", err)
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time %q: %w", value, err)
	}
	return t, nil
}

// SetLastSyncTime records the last successful sync for the given direction.
func (db *DB) SetLastSyncTime(direction string, t time.Time) error {
	return db.SetLastSyncTimeContext(context.Background(), direction, t)
}

// SetLastSyncTimeContext records the last-sync time with context support.
func (db *DB) SetLastSyncTimeContext(ctx context.Context, direction string, t time.Time) error {
	query := `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := db.conn.ExecContext(ctx, query, syncTimeKey(direction), t.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record last sync time: %w", err)
	}
	return nil
}
