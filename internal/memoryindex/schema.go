package memoryindex

import (
	"database/sql"
	"fmt"
)

const baseSchema = `
CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	hash TEXT NOT NULL,
	mtime DATETIME NOT NULL,
	size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	source TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	hash TEXT NOT NULL,
	text TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

CREATE TABLE IF NOT EXISTS chunk_vectors (
	chunk_id TEXT PRIMARY KEY,
	embedding BLOB NOT NULL,
	dims INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS embedding_cache (
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	embedding BLOB NOT NULL,
	dims INTEGER NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (provider, model, content_hash)
);

CREATE TABLE IF NOT EXISTS chunk_file_refs (
	chunk_id TEXT NOT NULL,
	file_id TEXT NOT NULL,
	category TEXT NOT NULL,
	metadata_json TEXT,
	created_at DATETIME NOT NULL,
	UNIQUE(chunk_id, file_id, category)
);
`

// ensureFTS attempts to create the chunks_fts virtual table. Failure is not
// fatal: creation may fail at runtime, in which case fts_available is recorded false
// and callers degrade to the LIKE-scan branch.
func ensureFTS(db *sql.DB) bool {
	// A standalone (non-content-linked) FTS5 table: chunk ids are kept in
	// sync explicitly on insert/delete rather than through SQLite's
	// external-content rowid mirroring, which would require chunks to have
	// an INTEGER rowid alias instead of its TEXT id primary key.
	_, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(id UNINDEXED, text);
	`)
	return err == nil
}

func initSchema(db *sql.DB) (ftsAvailable bool, err error) {
	if _, err := db.Exec(baseSchema); err != nil {
		return false, fmt.Errorf("init memory index schema: %w", err)
	}
	return ensureFTS(db), nil
}
