package filestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ba-agent-core/pkg/types"
)

// index is the per-category SQLite metadata table backing an indexed
// category: metadata lives in a local SQLite database alongside the blobs.
// Writes are serialised through mu; reads use the
// driver's own connection pool and do not block each other.
type index struct {
	db *sql.DB
	mu sync.Mutex
	path string
}

func openIndex(categoryDir string) (*index, error) {
	if err := os.MkdirAll(categoryDir, 0o755); err != nil {
		return nil, fmt.Errorf("create category dir: %w", err)
	}
	dbPath := filepath.Join(categoryDir, ".index.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open category index: %w", err)
	}
	idx := &index{db: db, path: dbPath}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *index) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS files (
		file_id TEXT PRIMARY KEY,
		session_id TEXT,
		filename TEXT,
		size INTEGER NOT NULL,
		hash TEXT NOT NULL,
		mime TEXT,
		metadata_json TEXT,
		created_at DATETIME NOT NULL,
		last_accessed_at DATETIME NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		expires_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_files_session ON files(session_id);
	CREATE INDEX IF NOT EXISTS idx_files_expires ON files(expires_at);
	CREATE INDEX IF NOT EXISTS idx_files_created ON files(created_at);
	`
	_, err := idx.db.Exec(schema)
	return err
}

func (idx *index) close() error {
	return idx.db.Close()
}

type fileRow struct {
	meta types.FileMetadata
	hash string
	mime string
}

func (idx *index) insert(ref types.FileRef, filename string, expiresAt *time.Time, metaJSON string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := time.Now().UTC()
	_, err := idx.db.Exec(`
		INSERT INTO files (file_id, session_id, filename, size, hash, mime, metadata_json,
			created_at, last_accessed_at, access_count, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			session_id = excluded.session_id,
			filename = excluded.filename,
			size = excluded.size,
			hash = excluded.hash,
			mime = excluded.mime,
			metadata_json = excluded.metadata_json,
			expires_at = excluded.expires_at
	`, ref.FileID, ref.SessionID, filename, ref.Size, ref.Hash, ref.MIME, metaJSON,
		now, now, expiresAt)
	return err
}

func (idx *index) touch(fileID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.db.Exec(`
		UPDATE files SET access_count = access_count + 1, last_accessed_at = ?
		WHERE file_id = ?
	`, time.Now().UTC(), fileID)
	return err
}

func (idx *index) delete(fileID string) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	res, err := idx.db.Exec(`DELETE FROM files WHERE file_id = ?`, fileID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (idx *index) get(fileID string) (*fileRow, error) {
	var (
		sessionID, filename, hash, mime, metadataJSON sql.NullString
		size, accessCount int64
		createdAt, lastAccessedAt time.Time
		expiresAt sql.NullTime
	)
	err := idx.db.QueryRow(`
		SELECT session_id, filename, size, hash, mime, metadata_json, created_at, last_accessed_at, access_count, expires_at
		FROM files WHERE file_id = ?
	`, fileID).Scan(&sessionID, &filename, &size, &hash, &mime, &metadataJSON, &createdAt, &lastAccessedAt, &accessCount, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row := &fileRow{
		hash: hash.String,
		mime: mime.String,
		meta: types.FileMetadata{
			FileRef: types.FileRef{
				FileID: fileID,
				SessionID: sessionID.String,
				Size: size,
				Hash: hash.String,
				MIME: mime.String,
				CreatedAt: createdAt,
				Metadata: decodeMetadataJSON(metadataJSON.String),
			},
			Filename: filename.String,
			AccessCount: accessCount,
			LastAccessedAt: lastAccessedAt,
		},
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		row.meta.ExpiresAt = &t
	}
	return row, nil
}

// decodeMetadataJSON unmarshals a metadata_json column back into the map
// form FileRef.Metadata carries in memory; a missing or malformed column
// (e.g. the bare "{}" written when no metadata was given) just means no
// metadata, not an error.
func decodeMetadataJSON(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// listFilters restricts listFiles; zero values mean "no restriction".
type listFilters struct {
	SessionID string
}

func (idx *index) listFiles(filters listFilters) ([]types.FileMetadata, error) {
	query := `
		SELECT file_id, session_id, filename, size, hash, mime, metadata_json, created_at, last_accessed_at, access_count, expires_at
		FROM files
	`
	args := []interface{}{}
	if filters.SessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, filters.SessionID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.FileMetadata
	for rows.Next() {
		var (
			fileID, mime string
			sessionID, filename, hash, metadataJSON sql.NullString
			size, accessCount int64
			createdAt, lastAccessedAt time.Time
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&fileID, &sessionID, &filename, &size, &hash, &mime, &metadataJSON,
			&createdAt, &lastAccessedAt, &accessCount, &expiresAt); err != nil {
			continue
		}
		md := types.FileMetadata{
			FileRef: types.FileRef{
				FileID: fileID,
				SessionID: sessionID.String,
				Size: size,
				Hash: hash.String,
				MIME: mime,
				CreatedAt: createdAt,
				Metadata: decodeMetadataJSON(metadataJSON.String),
			},
			Filename: filename.String,
			AccessCount: accessCount,
			LastAccessedAt: lastAccessedAt,
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			md.ExpiresAt = &t
		}
		out = append(out, md)
	}
	return out, nil
}

// listAllFileIDs is used by the startup dangling-row sweep.
func (idx *index) listAllFileIDs() ([]string, error) {
	rows, err := idx.db.Query(`SELECT file_id FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// expired returns file_ids whose expires_at has elapsed as of now.
func (idx *index) expired(now time.Time) ([]string, error) {
	rows, err := idx.db.Query(`SELECT file_id FROM files WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
