package db

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one schema step; version numbers are applied in order
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			usersTable,
			usersIndexes,
			credentialsTable,
			credentialsIndexes,
			connectionsTable,
			connectionsIndexes,
		},
	},
}

// RunMigrations executes all pending database migrations
func RunMigrations(db *DB) error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
	}

	return nil
}

func apply(ctx context.Context, db *DB, m migration) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if err := execSQL(ctx, tx, stmt); err != nil {
			return err
		}
	}

	if err := execSQL(ctx, tx, fmt.Sprintf(`INSERT INTO schema_version (version) VALUES (%d)`, m.version)); err != nil {
		return err
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(ctx context.Context, tx *sql.Tx, query string) error {
	_, err := tx.ExecContext(ctx, query)
	return err
}

// Schema definitions
const (
	schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	usersTable = `
CREATE TABLE users (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL,
    email      TEXT NOT NULL UNIQUE,
    role       TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	usersIndexes = `
CREATE INDEX idx_users_role ON users(role)`

	credentialsTable = `
CREATE TABLE vpn_credentials (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id          INTEGER NOT NULL UNIQUE,
    client_id        TEXT NOT NULL DEFAULT '',
    state            TEXT NOT NULL DEFAULT 'none' CHECK (state IN ('none', 'active', 'revoked')),
    mfa_secret       TEXT NOT NULL DEFAULT '',
    rendered_profile TEXT NOT NULL DEFAULT '',
    pending_op       TEXT NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL,
    revoked_at       DATETIME,

    FOREIGN KEY (user_id) REFERENCES users(id)
)`

	credentialsIndexes = `
CREATE INDEX idx_credentials_state ON vpn_credentials(state)`

	connectionsTable = `
CREATE TABLE vpn_connections (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id        INTEGER NOT NULL,
    source_address TEXT NOT NULL,
    event_type     TEXT NOT NULL,
    created_at     DATETIME NOT NULL
)`

	connectionsIndexes = `
CREATE INDEX idx_connections_user_time ON vpn_connections(user_id, created_at DESC);
CREATE INDEX idx_connections_time ON vpn_connections(created_at)`
)
