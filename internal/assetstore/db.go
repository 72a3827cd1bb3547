package assetstore

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

const metadataSchema = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	name TEXT,
	mime_type TEXT,
	size INTEGER NOT NULL,
	chunk_size INTEGER NOT NULL,
	chunks TEXT NOT NULL,
	checksum TEXT,
	raw_file_path TEXT,
	valid INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
`

const chunkSchema = `
CREATE TABLE IF NOT EXISTS asset_chunks (
	asset_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (asset_id, chunk_index)
);
`

func openMetadataDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db %q: %w", path, err)
	}
	if _, err := db.Exec(metadataSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init metadata schema %q: %w", path, err)
	}
	return db, nil
}

func openChunkDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open chunk db %q: %w", path, err)
	}
	if _, err := db.Exec(chunkSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init chunk schema %q: %w", path, err)
	}
	return db, nil
}
