package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens/creates a SQLite DB file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// Conservative pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is not great with many writers
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Fail fast if the DB cannot be reached
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

const sqliteDriverName = "sqlite"

const schemaCues = `
CREATE TABLE IF NOT EXISTS cues (
    id TEXT PRIMARY KEY,
    venue_id TEXT NOT NULL,
    cue_number INTEGER NOT NULL,
    cue_list INTEGER NOT NULL DEFAULT 1,
    fade_time REAL NOT NULL DEFAULT 0,
    notes TEXT,
    approval_label TEXT,
    status TEXT NOT NULL,
    submitted_by INTEGER,
    approved_by INTEGER,
    executed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cues_status_created ON cues (status, created_at);
CREATE INDEX IF NOT EXISTS idx_cues_venue ON cues (venue_id);
`

const schemaCueChannels = `
CREATE TABLE IF NOT EXISTS cue_channels (
    cue_id TEXT NOT NULL REFERENCES cues(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    channel INTEGER NOT NULL,
    level INTEGER NOT NULL,
    PRIMARY KEY (cue_id, position)
);
`

const schemaAuditLogs = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id TEXT PRIMARY KEY,
    cue_id TEXT NOT NULL,
    venue_id TEXT,
    type TEXT NOT NULL,
    message TEXT NOT NULL,
    meta TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_cue_type ON audit_logs (cue_id, type);
`

const schemaNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    id TEXT PRIMARY KEY,
    venue_id TEXT NOT NULL,
    display_name TEXT NOT NULL,
    os TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'offline',
    console_reachable BOOLEAN NOT NULL DEFAULT 0,
    console_ip TEXT NOT NULL DEFAULT '',
    osc_mode TEXT NOT NULL DEFAULT '',
    last_seen_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_venue ON nodes (venue_id);
`

const schemaNodeTokens = `
CREATE TABLE IF NOT EXISTS node_tokens (
    node_id TEXT PRIMARY KEY REFERENCES nodes(id) ON DELETE CASCADE,
    token_hash TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaPairingCodes = `
CREATE TABLE IF NOT EXISTS node_pairing_codes (
    code TEXT PRIMARY KEY,
    nonce TEXT NOT NULL,
    venue_id TEXT,
    node_id TEXT,
    claimed_by INTEGER,
    expires_at TIMESTAMP NOT NULL,
    claimed_at TIMESTAMP,
    completed_at TIMESTAMP
);
`

const schemaOperators = `
CREATE TABLE IF NOT EXISTS operators (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		// In case of panic, rollback to avoid leaving an open transaction
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaCues,
		schemaCueChannels,
		schemaAuditLogs,
		schemaNodes,
		schemaNodeTokens,
		schemaPairingCodes,
		schemaOperators,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
