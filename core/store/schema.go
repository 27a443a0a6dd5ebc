package store

import "database/sql"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memory_units (
		id               TEXT PRIMARY KEY,
		bank_id          TEXT NOT NULL,
		text             TEXT NOT NULL,
		embedding        BLOB NOT NULL,
		occurred_start   INTEGER,
		occurred_end     INTEGER,
		mentioned_at     INTEGER NOT NULL,
		context          TEXT NOT NULL DEFAULT '',
		document_id      TEXT,
		fact_type        TEXT NOT NULL,
		confidence_score REAL,
		access_count     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_units_bank_type ON memory_units(bank_id, fact_type)`,
	`CREATE INDEX IF NOT EXISTS idx_units_document ON memory_units(document_id)`,
	`CREATE INDEX IF NOT EXISTS idx_units_occurred ON memory_units(bank_id, occurred_start, occurred_end)`,
	`CREATE INDEX IF NOT EXISTS idx_units_mentioned ON memory_units(bank_id, mentioned_at)`,

	`CREATE TABLE IF NOT EXISTS entities (
		id              TEXT PRIMARY KEY,
		bank_id         TEXT NOT NULL,
		canonical_name  TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		entity_type     TEXT NOT NULL,
		UNIQUE(bank_id, normalized_name)
	)`,

	`CREATE TABLE IF NOT EXISTS entity_aliases (
		entity_id        TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		alias            TEXT NOT NULL,
		normalized_alias TEXT NOT NULL,
		PRIMARY KEY(entity_id, normalized_alias)
	)`,

	`CREATE TABLE IF NOT EXISTS unit_entities (
		unit_id   TEXT NOT NULL REFERENCES memory_units(id) ON DELETE CASCADE,
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		PRIMARY KEY(unit_id, entity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_unit_entities_entity ON unit_entities(entity_id)`,

	`CREATE TABLE IF NOT EXISTS edges (
		src_id      TEXT NOT NULL REFERENCES memory_units(id) ON DELETE CASCADE,
		dst_id      TEXT NOT NULL REFERENCES memory_units(id) ON DELETE CASCADE,
		link_type   TEXT NOT NULL,
		weight      REAL NOT NULL,
		causal_kind TEXT,
		PRIMARY KEY(src_id, dst_id, link_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst_id)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id      TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT ''
	)`,
}

func applySchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
