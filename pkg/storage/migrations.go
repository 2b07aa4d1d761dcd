package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// A migration is one ordered schema step. Versions are contiguous and start
// at 1; each step runs in its own transaction together with the version
// bump, so a partially applied step never records as done.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial schema",
		stmts: []string{
			`CREATE TABLE servers (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				name             TEXT NOT NULL UNIQUE,
				distro           TEXT NOT NULL,
				version          TEXT NOT NULL,
				dir              TEXT NOT NULL,
				port             INTEGER NOT NULL,
				memory           TEXT NOT NULL,
				java_path        TEXT NOT NULL DEFAULT '',
				java_args        TEXT NOT NULL DEFAULT '',
				restart_on_crash INTEGER NOT NULL DEFAULT 0,
				running          INTEGER NOT NULL DEFAULT 0,
				pid              INTEGER,
				created_at       TIMESTAMP NOT NULL,
				last_started     TIMESTAMP,
				last_stopped     TIMESTAMP
			)`,
			`CREATE TABLE backups (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				server_id   INTEGER NOT NULL,
				server_name TEXT NOT NULL,
				path        TEXT NOT NULL,
				size_bytes  INTEGER NOT NULL DEFAULT 0,
				kind        TEXT NOT NULL,
				status      TEXT NOT NULL,
				created_at  TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX idx_backups_server ON backups (server_id, created_at)`,
			`CREATE TABLE schedules (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				server_id  INTEGER NOT NULL,
				action     TEXT NOT NULL,
				cron       TEXT NOT NULL,
				payload    TEXT NOT NULL DEFAULT '',
				enabled    INTEGER NOT NULL DEFAULT 1,
				last_run   TIMESTAMP,
				next_run   TIMESTAMP,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX idx_schedules_server ON schedules (server_id)`,
		},
	},
	{
		version: 2,
		name:    "plugin registry",
		stmts: []string{
			`CREATE TABLE plugins (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				server_id    INTEGER NOT NULL,
				name         TEXT NOT NULL,
				source       TEXT NOT NULL,
				project_id   TEXT NOT NULL DEFAULT '',
				version      TEXT NOT NULL DEFAULT '',
				file_path    TEXT NOT NULL,
				enabled      INTEGER NOT NULL DEFAULT 1,
				installed_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX idx_plugins_server ON plugins (server_id)`,
		},
	},
	{
		version: 3,
		name:    "api keys",
		stmts: []string{
			`CREATE TABLE api_keys (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				label       TEXT NOT NULL,
				prefix      TEXT NOT NULL UNIQUE,
				key_hash    TEXT NOT NULL,
				permissions TEXT NOT NULL,
				active      INTEGER NOT NULL DEFAULT 1,
				created_at  TIMESTAMP NOT NULL,
				last_used   TIMESTAMP
			)`,
		},
	},
}

// Migrate brings the database up to the latest schema version. It is safe
// to call on every open; already-applied steps are skipped.
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m, current); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		current = m.version
	}
	return nil
}

// SchemaVersion returns the applied schema version, 0 for a fresh database.
func SchemaVersion(db *sqlx.DB) (int, error) {
	var v int
	err := db.Get(&v, `SELECT version FROM schema_version LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// LatestVersion returns the highest version this build knows about.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// PendingMigrations lists the steps that Migrate would apply, as
// "<version>: <name>" strings.
func PendingMigrations(db *sqlx.DB) ([]string, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return nil, fmt.Errorf("failed to create version table: %w", err)
	}
	current, err := SchemaVersion(db)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, m := range migrations {
		if m.version > current {
			pending = append(pending, fmt.Sprintf("%d: %s", m.version, m.name))
		}
	}
	return pending, nil
}

func applyMigration(db *sqlx.DB, m migration, current int) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}

	if current == 0 && m.version == 1 {
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("failed to record version: %w", err)
		}
	} else {
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, m.version); err != nil {
			return fmt.Errorf("failed to record version: %w", err)
		}
	}

	return tx.Commit()
}
