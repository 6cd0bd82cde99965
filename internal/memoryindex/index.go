package memoryindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"

	"ba-agent-core/internal/config"
	"ba-agent-core/internal/logging"
	"ba-agent-core/pkg/types"
)

// dbHandle wraps one SQLite index file - either the active (writable) file
// or one of the rotated (read-only, still queried) files.
type dbHandle struct {
	db *sql.DB
	path string
	ftsAvailable bool
}

// Index is the C2 memory index: chunking, FTS, optional vectors, and
// rank-fused hybrid search across the active index file and any rotated
// siblings.
type Index struct {
	searchCfg config.SearchConfig
	rotCfg config.RotationConfig
	dir string
	embedder EmbeddingProvider
	log logging.Logger

	mu sync.Mutex // serializes writes to the active index file
	active *dbHandle
	rotated []*dbHandle

	cache *lru.Cache[string, types.Chunk]
}

// IndexResult reports the outcome of one index_file call.
type IndexResult struct {
	Updated bool
	ChunksAdded int
}

// Open opens (creating if absent) the index directory, the active index
// file, and any previously rotated siblings discovered on disk.
func Open(searchCfg config.SearchConfig, rotCfg config.RotationConfig, baseDir string, embedder EmbeddingProvider, log logging.Logger) (*Index, error) {
	if log == nil {
		log = logging.NewLogger(logging.INFO)
	}
	if embedder == nil {
		embedder = NullProvider{}
	}
	dir := rotCfg.IndexDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, rotCfg.IndexDir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	idx := &Index{
		searchCfg: searchCfg,
		rotCfg: rotCfg,
		dir: dir,
		embedder: embedder,
		log: log.WithComponent("memoryindex"),
	}

	cache, err := lru.New[string, types.Chunk](2048)
	if err != nil {
		return nil, err
	}
	idx.cache = cache

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := rotCfg.IndexPrefix
	var rotatedPaths []string
	activePath := filepath.Join(dir, prefix+".db")
	for _, e := range entries {
		name := e.Name()
		if name == prefix+".db" || filepath.Ext(name) != ".db" {
			continue
		}
		if len(name) > len(prefix) && name[:len(prefix)+1] == prefix+"-" {
			rotatedPaths = append(rotatedPaths, filepath.Join(dir, name))
		}
	}
	sort.Strings(rotatedPaths)

	handle, err := openDBHandle(activePath)
	if err != nil {
		return nil, err
	}
	idx.active = handle

	for _, p := range rotatedPaths {
		h, err := openDBHandle(p)
		if err != nil {
			idx.log.Warn("skipping unreadable rotated index", "path", p, "error", err.Error())
			continue
		}
		idx.rotated = append(idx.rotated, h)
	}

	return idx, nil
}

func openDBHandle(path string) (*dbHandle, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index file %s: %w", path, err)
	}
	ftsOK, err := initSchema(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &dbHandle{db: db, path: path, ftsAvailable: ftsOK}, nil
}

// Close releases every open index file handle.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var firstErr error
	if idx.active != nil {
		if err := idx.active.db.Close(); err != nil {
			firstErr = err
		}
	}
	for _, h := range idx.rotated {
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IndexFile runs the index_file algorithm against the active
// index file: compare content hash, skip if unchanged, else delete that
// path's old chunks/FTS rows/vectors and insert the new chunks and FTS rows
// in one transaction; vectors for the new chunks are written after commit.
func (idx *Index) IndexFile(ctx context.Context, path, source, text string) (IndexResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	hash := types.HashText(text)
	var existingHash string
	err := idx.active.db.QueryRowContext(ctx, `SELECT hash FROM files WHERE path = ?`, path).Scan(&existingHash)
	if err != nil && err != sql.ErrNoRows {
		return IndexResult{}, fmt.Errorf("check existing file hash: %w", err)
	}
	if existingHash == hash {
		return IndexResult{Updated: false}, nil
	}

	tx, err := idx.active.db.BeginTx(ctx, nil)
	if err != nil {
		return IndexResult{}, err
	}
	defer tx.Rollback()

	if idx.active.ftsAvailable {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM chunks_fts WHERE id IN (SELECT id FROM chunks WHERE path = ?)
		`, path); err != nil {
			// best-effort: stale FTS rows are dropped by search's join
			// against chunks, so log and continue.
			idx.log.Warn("fts cleanup skipped", "path", path, "error", err.Error())
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE chunk_id IN (SELECT id FROM chunks WHERE path = ?)`, path); err != nil {
		return IndexResult{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return IndexResult{}, err
	}

	params := ChunkParams{ChunkSize: idx.searchCfg.ChunkTokens, Overlap: idx.searchCfg.ChunkOverlap}
	chunks := chunkMemoryAwareText(path, source, text, params)

	now := time.Now().UTC()
	for _, c := range chunks {
		c.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, path, source, start_line, end_line, hash, text, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at
		`, c.ID, c.Path, c.Source, c.StartLine, c.EndLine, c.ContentHash, c.Text, now); err != nil {
			return IndexResult{}, err
		}
		if idx.active.ftsAvailable {
			if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts (id, text) VALUES (?, ?)`, c.ID, c.Text); err != nil {
				idx.log.Warn("fts insert failed", "chunk_id", c.ID, "error", err.Error())
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (path, source, hash, mtime, size) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET source = excluded.source, hash = excluded.hash, mtime = excluded.mtime, size = excluded.size
	`, path, source, hash, now, len(text)); err != nil {
		return IndexResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return IndexResult{}, err
	}

	if idx.embedder.Name() != "none" && len(chunks) > 0 {
		if err := idx.embedChunks(ctx, chunks); err != nil {
			idx.log.Warn("embedding generation failed, index remains FTS-only for these chunks", "path", path, "error", err.Error())
		}
	}

	if err := idx.rotateIfNeeded(); err != nil {
		idx.log.Warn("index rotation check failed", "error", err.Error())
	}

	return IndexResult{Updated: true, ChunksAdded: len(chunks)}, nil
}

// embedChunks generates and stores vectors for freshly (re)indexed chunks,
// using the embedding_cache keyed by content hash to avoid recomputing
// embeddings for text seen before.
func (idx *Index) embedChunks(ctx context.Context, chunks []types.Chunk) error {
	var toEmbed []types.Chunk
	cached := make(map[string][]float32)
	for _, c := range chunks {
		var blob []byte
		var dims int
		err := idx.active.db.QueryRowContext(ctx, `
			SELECT embedding, dims FROM embedding_cache WHERE provider = ? AND model = ? AND content_hash = ?
		`, idx.embedder.Name(), idx.searchCfg.Model, c.ContentHash).Scan(&blob, &dims)
		if err == nil {
			cached[c.ID] = decodeVector(blob)
			continue
		}
		toEmbed = append(toEmbed, c)
	}

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, c := range toEmbed {
			texts[i] = c.Text
		}
		vectors, err := idx.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i, c := range toEmbed {
			if i >= len(vectors) {
				break
			}
			v := vectors[i]
			blob := encodeVector(v)
			_, _ = idx.active.db.ExecContext(ctx, `
				INSERT INTO embedding_cache (provider, model, content_hash, embedding, dims, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(provider, model, content_hash) DO UPDATE SET embedding = excluded.embedding, dims = excluded.dims, updated_at = excluded.updated_at
			`, idx.embedder.Name(), idx.searchCfg.Model, c.ContentHash, blob, len(v), now)
			cached[c.ID] = v
		}
	}

	now := time.Now().UTC()
	for _, c := range chunks {
		v, ok := cached[c.ID]
		if !ok {
			continue
		}
		blob := encodeVector(v)
		if _, err := idx.active.db.ExecContext(ctx, `
			INSERT INTO chunk_vectors (chunk_id, embedding, dims, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET embedding = excluded.embedding, dims = excluded.dims, updated_at = excluded.updated_at
		`, c.ID, blob, len(v), now); err != nil {
			return err
		}
	}
	return nil
}

// BindFileRef records that chunkID's source content is also reachable via
// fileID/category (its chunk_file_refs table).
func (idx *Index) BindFileRef(ctx context.Context, chunkID string, ref types.FileRef, metadataJSON string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.active.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chunk_file_refs (chunk_id, file_id, category, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, chunkID, ref.FileID, string(ref.Category), metadataJSON, time.Now().UTC())
	return err
}

// rotateIfNeeded implements index rotation: when the active
// index file exceeds max_index_size_mb, the active handle is swapped for a
// new one and the previous active file becomes a rotated (read-only for
// writes, still read for queries) sibling. The swap happens under idx.mu,
// the same write-mutex that serializes all writes to the active file, so a
// rotation is itself a single atomic write (Open Question #3).
func (idx *Index) rotateIfNeeded() error {
	if idx.rotCfg.MaxSizeMB <= 0 {
		return nil
	}
	info, err := os.Stat(idx.active.path)
	if err != nil {
		return err
	}
	if info.Size() < int64(idx.rotCfg.MaxSizeMB)*1024*1024 {
		return nil
	}

	n := len(idx.rotated) + 1
	newActivePath := filepath.Join(idx.dir, fmt.Sprintf("%s-%d.db", idx.rotCfg.IndexPrefix, n))
	newHandle, err := openDBHandle(newActivePath)
	if err != nil {
		return err
	}

	idx.rotated = append(idx.rotated, idx.active)
	idx.active = newHandle
	return nil
}

func (idx *Index) allHandles() []*dbHandle {
	all := make([]*dbHandle, 0, len(idx.rotated)+1)
	all = append(all, idx.active)
	all = append(all, idx.rotated...)
	return all
}
