// File: internal/storage/migrations.go
package storage

import (
	"time"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create entities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entities (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					symbol TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					image TEXT NOT NULL DEFAULT '',
					holder TEXT NOT NULL DEFAULT '',
					minter TEXT NOT NULL DEFAULT '',
					fee_recipient TEXT NOT NULL DEFAULT '',
					current_price INTEGER NOT NULL DEFAULT 0,
					next_price INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_entities_holder ON entities(holder);
				CREATE INDEX IF NOT EXISTS idx_entities_minter ON entities(minter);
			`,
		},
		{
			Version:     "002",
			Description: "Create history table",
			SQL: `
				CREATE TABLE IF NOT EXISTS history (
					id TEXT PRIMARY KEY,
					entity_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					from_addr TEXT NOT NULL DEFAULT '',
					to_addr TEXT NOT NULL DEFAULT '',
					amount INTEGER,
					block_height INTEGER NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_history_entity ON history(entity_id);
				CREATE INDEX IF NOT EXISTS idx_history_kind ON history(kind);
				CREATE INDEX IF NOT EXISTS idx_history_block ON history(block_height);
			`,
		},
		{
			Version:     "003",
			Description: "Create scan cursors table",
			SQL: `
				CREATE TABLE IF NOT EXISTS scan_cursors (
					scanner_name TEXT PRIMARY KEY,
					last_processed_slot INTEGER NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     "004",
			Description: "Create upload reconciliations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS upload_reconciliations (
					id TEXT PRIMARY KEY,
					entity_id TEXT NOT NULL,
					staging_ref TEXT NOT NULL DEFAULT '',
					dead_lettered_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_reconciliations_entity ON upload_reconciliations(entity_id);
			`,
		},
	}
}

// GetPostgreSQLMigrations returns PostgreSQL migration scripts
func GetPostgreSQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create entities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entities (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					symbol TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					image TEXT NOT NULL DEFAULT '',
					holder TEXT NOT NULL DEFAULT '',
					minter TEXT NOT NULL DEFAULT '',
					fee_recipient TEXT NOT NULL DEFAULT '',
					current_price BIGINT NOT NULL DEFAULT 0,
					next_price BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_entities_holder ON entities(holder);
				CREATE INDEX IF NOT EXISTS idx_entities_minter ON entities(minter);
			`,
		},
		{
			Version:     "002",
			Description: "Create history table",
			SQL: `
				CREATE TABLE IF NOT EXISTS history (
					id TEXT PRIMARY KEY,
					entity_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					from_addr TEXT NOT NULL DEFAULT '',
					to_addr TEXT NOT NULL DEFAULT '',
					amount BIGINT,
					block_height BIGINT NOT NULL,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_history_entity ON history(entity_id);
				CREATE INDEX IF NOT EXISTS idx_history_kind ON history(kind);
				CREATE INDEX IF NOT EXISTS idx_history_block ON history(block_height);
			`,
		},
		{
			Version:     "003",
			Description: "Create scan cursors table",
			SQL: `
				CREATE TABLE IF NOT EXISTS scan_cursors (
					scanner_name TEXT PRIMARY KEY,
					last_processed_slot BIGINT NOT NULL,
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);
			`,
		},
		{
			Version:     "004",
			Description: "Create upload reconciliations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS upload_reconciliations (
					id TEXT PRIMARY KEY,
					entity_id TEXT NOT NULL,
					staging_ref TEXT NOT NULL DEFAULT '',
					dead_lettered_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_reconciliations_entity ON upload_reconciliations(entity_id);
			`,
		},
	}
}
