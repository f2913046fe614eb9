package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "units: memory unit records",
		SQL: `
CREATE TABLE units (
    id                 TEXT PRIMARY KEY,
    kind               TEXT NOT NULL CHECK (kind IN ('thread', 'decision', 'constraint', 'context', 'fact')),
    scope              TEXT NOT NULL CHECK (scope IN ('always', 'project', 'session')),
    summary            TEXT NOT NULL,
    content            TEXT NOT NULL DEFAULT '',
    state              TEXT NOT NULL CHECK (state IN ('drifting', 'attached', 'growing', 'calcified', 'challenged', 'fossil', 'skeleton', 'deleted')),
    prior_state        TEXT,

    -- Lifecycle signals
    trust_score        REAL NOT NULL DEFAULT 0.5,
    blessed            INTEGER NOT NULL DEFAULT 0,
    access_count       INTEGER NOT NULL DEFAULT 0,
    last_access        INTEGER,
    last_challenged_at INTEGER,
    last_linked_at     INTEGER,

    -- Graph
    links              TEXT NOT NULL DEFAULT '[]',
    lineage            TEXT NOT NULL DEFAULT '[]',

    -- Concurrency
    checksum           TEXT NOT NULL,

    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);

CREATE INDEX idx_units_state ON units(state);
CREATE INDEX idx_units_scope ON units(scope);
CREATE INDEX idx_units_kind  ON units(kind);
`,
	},
	{
		Version:     2,
		Description: "unit_links: inverse adjacency for consensus and orphan detection",
		SQL: `
CREATE TABLE unit_links (
    from_id    TEXT NOT NULL,
    to_id      TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (from_id, to_id)
);

CREATE INDEX idx_links_to ON unit_links(to_id);
`,
	},
	{
		Version:     3,
		Description: "audit_entries: append-only trail of state-changing operations",
		SQL: `
CREATE TABLE audit_entries (
    id           TEXT PRIMARY KEY,
    op           TEXT NOT NULL,
    unit_id      TEXT NOT NULL,
    actor        TEXT NOT NULL,
    reason       TEXT,
    before_state TEXT,
    after_state  TEXT,
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_audit_unit    ON audit_entries(unit_id);
CREATE INDEX idx_audit_created ON audit_entries(created_at DESC);
`,
	},
	{
		Version:     4,
		Description: "quarantine: soft-delete snapshots with expiry",
		SQL: `
CREATE TABLE quarantine (
    unit_id    TEXT PRIMARY KEY,
    snapshot   TEXT NOT NULL,
    reason     TEXT NOT NULL,
    deleted_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX idx_quarantine_expires ON quarantine(expires_at);
`,
	},
	{
		Version:     5,
		Description: "index_terms: rebuildable lexical posting list",
		SQL: `
CREATE TABLE index_terms (
    term    TEXT NOT NULL,
    unit_id TEXT NOT NULL,
    freq    INTEGER NOT NULL,
    PRIMARY KEY (term, unit_id)
);

CREATE INDEX idx_terms_term ON index_terms(term);
`,
	},
	{
		Version:     6,
		Description: "index_meta: persisted dirty-write counter for the rebuild trigger",
		SQL: `
CREATE TABLE index_meta (
    id           INTEGER PRIMARY KEY CHECK (id = 1),
    dirty_writes INTEGER NOT NULL DEFAULT 0
);

INSERT INTO index_meta (id, dirty_writes) VALUES (1, 0);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
