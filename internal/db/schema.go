package db

import (
	"database/sql"
	"fmt"
)

const schemaSQL = `
-- One row per cached conversation snapshot
CREATE TABLE IF NOT EXISTS inbox_snapshots (
  conversation_id TEXT PRIMARY KEY,
  messages TEXT NOT NULL,             -- JSON array of cachedMessage
  message_count INTEGER NOT NULL,
  unconfirmed INTEGER NOT NULL DEFAULT 0, -- entries the server has never seen
  saved_at INTEGER NOT NULL,          -- unix ms, drives LRU eviction
  schema_version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_inbox_snapshots_saved_at ON inbox_snapshots(saved_at);
`

// InitSchema creates the cache tables and upgrades older layouts.
func InitSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(schemaSQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := migrateSchema(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type tableColumn struct {
	Name    string
	ColType string
	NotNull int
	PK      int
}

func getTableInfo(tx *sql.Tx, table string) ([]tableColumn, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []tableColumn
	for rows.Next() {
		var col tableColumn
		var cid int
		var defaultValue sql.NullString
		if err := rows.Scan(&cid, &col.Name, &col.ColType, &col.NotNull, &defaultValue, &col.PK); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return columns, nil
}

func hasColumn(columns []tableColumn, name string) bool {
	for _, col := range columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

func migrateSchema(tx *sql.Tx) error {
	columns, err := getTableInfo(tx, "inbox_snapshots")
	if err != nil {
		return err
	}
	// Caches written before unsent entries were pinned.
	if !hasColumn(columns, "unconfirmed") {
		if _, err := tx.Exec("ALTER TABLE inbox_snapshots ADD COLUMN unconfirmed INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}
	return nil
}
