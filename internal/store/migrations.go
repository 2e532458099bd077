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
		Description: "crystals and facets: the concept graph",
		SQL: `
CREATE TABLE crystals (
    id           TEXT PRIMARY KEY,
    concept      TEXT NOT NULL,
    level        INTEGER NOT NULL DEFAULT 1,
    usage_count  INTEGER NOT NULL DEFAULT 0,
    internal_ids TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    last_used    INTEGER NOT NULL
);

CREATE INDEX idx_crystals_concept   ON crystals(concept);
CREATE INDEX idx_crystals_last_used ON crystals(last_used DESC);

CREATE TABLE facets (
    id            TEXT PRIMARY KEY,
    crystal_id    TEXT NOT NULL,
    role          TEXT NOT NULL,
    kind          TEXT NOT NULL CHECK (kind IN ('text', 'number', 'structured')),
    text_content  TEXT NOT NULL DEFAULT '',
    num_content   REAL NOT NULL DEFAULT 0,
    field_content TEXT NOT NULL DEFAULT '',
    confidence    REAL NOT NULL,
    access_count  INTEGER NOT NULL DEFAULT 0,
    last_accessed INTEGER NOT NULL,
    state         TEXT NOT NULL CHECK (state IN ('ACTIVE', 'DECAYING', 'RELIC')),

    -- Influence scalars
    resonance    REAL NOT NULL,
    sensitivity  REAL NOT NULL,
    abstractness REAL NOT NULL,
    potential    REAL NOT NULL,
    stability    REAL NOT NULL,
    coherence    REAL NOT NULL,
    complexity   REAL NOT NULL,
    frequency    REAL NOT NULL,

    FOREIGN KEY (crystal_id) REFERENCES crystals(id) ON DELETE CASCADE
);

CREATE INDEX idx_facets_crystal ON facets(crystal_id);

CREATE TABLE connections (
    crystal_id TEXT NOT NULL,
    target_id  TEXT NOT NULL,
    weight     REAL NOT NULL,
    PRIMARY KEY (crystal_id, target_id),
    FOREIGN KEY (crystal_id) REFERENCES crystals(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     2,
		Description: "threads and turns: the conversation ledger",
		SQL: `
CREATE TABLE threads (
    id          TEXT PRIMARY KEY,
    source_id   TEXT NOT NULL,
    summary     TEXT NOT NULL DEFAULT '',
    topics      TEXT NOT NULL DEFAULT '[]',
    is_active   INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    last_active INTEGER NOT NULL
);

CREATE INDEX idx_threads_source ON threads(source_id);

CREATE TABLE turns (
    id         INTEGER PRIMARY KEY,
    thread_id  TEXT NOT NULL,
    role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content    TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
);

CREATE INDEX idx_turns_thread ON turns(thread_id);
`,
	},
	{
		Version:     3,
		Description: "cross-source memory, profile, settings",
		SQL: `
CREATE TABLE cross_memory (
    id         INTEGER PRIMARY KEY,
    source     TEXT NOT NULL,
    topic      TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE profile (
    id        INTEGER PRIMARY KEY CHECK (id = 1),
    interests TEXT NOT NULL DEFAULT '[]',
    style     TEXT NOT NULL DEFAULT 'neutral',
    expertise TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE settings (
    id                    INTEGER PRIMARY KEY CHECK (id = 1),
    injection_strength    INTEGER NOT NULL,
    enabled               INTEGER NOT NULL,
    isolation_mode        INTEGER NOT NULL,
    cross_source_insights INTEGER NOT NULL,
    max_context_tokens    INTEGER NOT NULL,
    compression_level     INTEGER NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "decisions: injection decision log",
		SQL: `
CREATE TABLE decisions (
    id              INTEGER PRIMARY KEY,
    created_at      INTEGER NOT NULL,
    message         TEXT NOT NULL,
    platform        TEXT NOT NULL,
    outcome         TEXT NOT NULL CHECK (outcome IN ('INJECTED', 'SKIPPED', 'ERROR')),
    reason          TEXT NOT NULL,
    relevance       REAL NOT NULL DEFAULT 0,
    threshold       REAL NOT NULL DEFAULT 0,
    topics_found    INTEGER NOT NULL DEFAULT 0,
    facts_found     INTEGER NOT NULL DEFAULT 0,
    crystals_found  INTEGER NOT NULL DEFAULT 0,
    nodes_checked   INTEGER NOT NULL DEFAULT 0,
    nodes_matched   INTEGER NOT NULL DEFAULT 0,
    context_preview TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_decisions_created ON decisions(created_at DESC);
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
