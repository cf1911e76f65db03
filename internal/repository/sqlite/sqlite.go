// Package sqlite implements repository.GraphStore on SQLite.
//
// The follow graph maps onto three tables:
//
//	users         one row per account, keyed by the upstream numeric ID
//	follows       (source_id, target_id) meaning "source follows target"
//	sync_records  one row per successful full fetch of an edge list
//
// modernc.org/sqlite is a pure Go driver, so the binary builds without cgo.
// Use ":memory:" as the path for an ephemeral database in tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements repository.GraphStore.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// CONNECTION POOL:
// Every connection to ":memory:" is a separate, empty database, so the
// in-memory pool is pinned to a single connection. File databases use a
// small pool; WAL lets readers proceed while one writer holds the lock, and
// busy_timeout makes a second writer wait instead of failing with SQLITE_BUSY.
// The pragmas go into the DSN so that every pooled connection gets them.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if isMemory(dbPath) {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(4)
		conn.SetMaxIdleConns(2)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

func dsn(dbPath string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(10000)",
		"_txlock=immediate",
	}
	if !isMemory(dbPath) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(pragmas, "&")
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates tables and indexes. Every statement is idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                TEXT PRIMARY KEY,
			username          TEXT NOT NULL,
			username_lower    TEXT NOT NULL,
			name              TEXT NOT NULL DEFAULT '',
			description       TEXT NOT NULL DEFAULT '',
			profile_image_url TEXT NOT NULL DEFAULT '',
			verified          INTEGER NOT NULL DEFAULT 0,
			followers_count   INTEGER NOT NULL DEFAULT 0,
			following_count   INTEGER NOT NULL DEFAULT 0,
			classification    TEXT NOT NULL DEFAULT '',
			subtype           TEXT NOT NULL DEFAULT '',
			last_fetched_at   DATETIME,
			created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_username_lower ON users(username_lower);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS follows (
			source_id  TEXT NOT NULL REFERENCES users(id),
			target_id  TEXT NOT NULL REFERENCES users(id),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (source_id, target_id)
		);
		CREATE INDEX IF NOT EXISTS idx_follows_target ON follows(target_id);
	`)
	if err != nil {
		return fmt.Errorf("creating follows table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sync_records (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			direction  TEXT NOT NULL,
			edge_count INTEGER NOT NULL,
			added      INTEGER NOT NULL DEFAULT 0,
			removed    INTEGER NOT NULL DEFAULT 0,
			fetched_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sync_records_user
			ON sync_records(user_id, direction, fetched_at);
	`)
	if err != nil {
		return fmt.Errorf("creating sync_records table: %w", err)
	}

	return nil
}
