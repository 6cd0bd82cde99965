// Package filestore implements the category-partitioned, TTL-governed blob
// store (C1): uniform store/retrieve/delete/exists/list_files semantics
// with per-category policy overrides, path sandboxing, and a background
// janitor.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"ba-agent-core/internal/config"
	"ba-agent-core/internal/errors"
	"ba-agent-core/internal/logging"
	"ba-agent-core/pkg/types"
)

// Store is the concrete C1 implementation. One Store serves every category;
// each indexed category gets its own SQLite index file under its directory.
type Store struct {
	cfg *config.FileStoreConfig
	baseDir string
	log logging.Logger

	mu sync.Mutex
	indices map[types.Category]*index
}

// StoreOptions are the caller-supplied fields of a store() call.
type StoreOptions struct {
	Filename string
	SessionID string
	MIME string
	Metadata map[string]string
	// FileID overrides auto-generation; used by content-addressed callers
	// (C3 markdown flush files, C5 memoization) that want a deterministic id.
	FileID string
}

// New opens (creating if absent) the category directory tree and the
// per-category indices for every indexed category, then runs the startup
// orphan/dangling-row sweep.
func New(cfg *config.FileStoreConfig, log logging.Logger) (*Store, error) {
	s, err := newStore(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := s.startupSweep(); err != nil {
		s.log.Warn("startup sweep encountered errors", "error", err.Error())
	}
	return s, nil
}

// NewWithoutSweep opens the store like New but skips the startup orphan
// sweep. The migrate CLI uses this: its job is to reconcile on-disk files
// against the index, and the ordinary sweep would delete exactly the
// unindexed files RebuildIndex is meant to recover.
func NewWithoutSweep(cfg *config.FileStoreConfig, log logging.Logger) (*Store, error) {
	return newStore(cfg, log)
}

func newStore(cfg *config.FileStoreConfig, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewLogger(logging.INFO)
	}
	s := &Store{
		cfg: cfg,
		baseDir: cfg.BaseDir,
		log: log.WithComponent("filestore"),
		indices: make(map[types.Category]*index),
	}
	for catName, policy := range cfg.Categories {
		cat := types.Category(catName)
		if !cat.Valid() {
			continue
		}
		dir := s.categoryDir(cat)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create category dir %s: %w", catName, err)
		}
		if policy.Indexed {
			idx, err := openIndex(dir)
			if err != nil {
				return nil, fmt.Errorf("open index for %s: %w", catName, err)
			}
			s.indices[cat] = idx
		}
	}
	return s, nil
}

// Close releases every open index handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, idx := range s.indices {
		if err := idx.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) categoryDir(cat types.Category) string {
	return filepath.Join(s.baseDir, string(cat))
}

func (s *Store) policyFor(cat types.Category) config.CategoryPolicy {
	if p, ok := s.cfg.Categories[string(cat)]; ok {
		return p
	}
	return config.CategoryPolicy{MaxSizeMB: 50, TTLHours: 24, Indexed: false, Sessioned: true}
}

// Store writes content into cat, returning the emitted FileRef. It computes
// a deterministic SHA-256 hash unconditionally (SPEC_FULL's "checksum"
// addition), picks or accepts a file_id, enforces the category's size cap,
// and writes atomically (write-tmp-then-rename), only then committing the
// index row - so a crash between the two never leaves a reachable orphan.
func (s *Store) Store(cat types.Category, content []byte, opts StoreOptions) (types.FileRef, error) {
	if !cat.Valid() {
		return types.FileRef{}, errors.New(errors.KindBadInput, "unknown category").WithDetails(map[string]interface{}{"category": string(cat)})
	}
	policy := s.policyFor(cat)
	if policy.MaxSizeMB > 0 && int64(len(content)) > int64(policy.MaxSizeMB)*1024*1024 {
		return types.FileRef{}, errors.New(errors.KindSizeExceeded, "content exceeds category max size").
			WithDetails(map[string]interface{}{"category": string(cat), "max_mb": policy.MaxSizeMB, "size": len(content)})
	}

	fileID := opts.FileID
	if fileID == "" {
		fileID = uuid.NewString()
	}
	if err := types.ValidateFileID(fileID); err != nil {
		return types.FileRef{}, errors.Wrap(errors.KindPathViolation, "invalid file id", err)
	}

	dir := s.categoryDir(cat)
	dest, err := resolvePath(dir, fileID)
	if err != nil {
		return types.FileRef{}, err
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	tmp := dest + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return types.FileRef{}, errors.Wrap(errors.KindInternal, "write temp file", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return types.FileRef{}, errors.Wrap(errors.KindInternal, "rename into place", err)
	}

	metadata := opts.Metadata
	if cat == types.CategoryCheckpoint && opts.SessionID != "" {
		sessionHash, err := hashCheckpointSession(opts.SessionID)
		if err != nil {
			os.Remove(dest)
			return types.FileRef{}, err
		}
		metadata = make(map[string]string, len(opts.Metadata)+1)
		for k, v := range opts.Metadata {
			metadata[k] = v
		}
		metadata[sessionHashKey] = sessionHash
	}

	ref := types.FileRef{
		FileID: fileID,
		Category: cat,
		SessionID: opts.SessionID,
		Size: int64(len(content)),
		Hash: hash,
		MIME: opts.MIME,
		CreatedAt: time.Now().UTC(),
		Metadata: metadata,
	}

	if idx, ok := s.indices[cat]; ok {
		var expiresAt *time.Time
		if policy.TTLHours > 0 {
			t := ref.CreatedAt.Add(time.Duration(policy.TTLHours * float64(time.Hour)))
			expiresAt = &t
		}
		metaJSON := "{}"
		if len(metadata) > 0 {
			if b, err := json.Marshal(metadata); err == nil {
				metaJSON = string(b)
			}
		}
		if err := idx.insert(ref, opts.Filename, expiresAt, metaJSON); err != nil {
			os.Remove(dest)
			return types.FileRef{}, errors.Wrap(errors.KindInternal, "commit index row", err)
		}
	}

	return ref, nil
}

// Retrieve returns the stored bytes, or nil if missing or expired.
func (s *Store) Retrieve(ref types.FileRef) ([]byte, error) {
	if !ref.Category.Valid() {
		return nil, errors.New(errors.KindBadInput, "unknown category")
	}
	if idx, ok := s.indices[ref.Category]; ok {
		row, err := idx.get(ref.FileID)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, "read index row", err)
		}
		if row == nil {
			return nil, nil
		}
		if row.meta.Expired(time.Now().UTC()) {
			s.evict(ref.Category, ref.FileID)
			return nil, nil
		}
		_ = idx.touch(ref.FileID)
	}

	path, err := resolvePath(s.categoryDir(ref.Category), ref.FileID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "read file", err)
	}
	return data, nil
}

// Delete removes the file and its index row; idempotent.
func (s *Store) Delete(ref types.FileRef) (bool, error) {
	if !ref.Category.Valid() {
		return false, errors.New(errors.KindBadInput, "unknown category")
	}
	path, err := resolvePath(s.categoryDir(ref.Category), ref.FileID)
	if err != nil {
		return false, err
	}
	existed := false
	if _, statErr := os.Stat(path); statErr == nil {
		existed = true
		if rmErr := os.Remove(path); rmErr != nil {
			return false, errors.Wrap(errors.KindInternal, "remove file", rmErr)
		}
	}
	if idx, ok := s.indices[ref.Category]; ok {
		rowExisted, err := idx.delete(ref.FileID)
		if err != nil {
			return false, errors.Wrap(errors.KindInternal, "delete index row", err)
		}
		existed = existed || rowExisted
	}
	return existed, nil
}

// Exists reports whether ref is present and unexpired. For indexed
// categories this also lazily evicts an expired entry.
func (s *Store) Exists(ref types.FileRef) (bool, error) {
	if !ref.Category.Valid() {
		return false, errors.New(errors.KindBadInput, "unknown category")
	}
	if idx, ok := s.indices[ref.Category]; ok {
		row, err := idx.get(ref.FileID)
		if err != nil {
			return false, errors.Wrap(errors.KindInternal, "read index row", err)
		}
		if row == nil {
			return false, nil
		}
		if row.meta.Expired(time.Now().UTC()) {
			s.evict(ref.Category, ref.FileID)
			return false, nil
		}
		return true, nil
	}
	path, err := resolvePath(s.categoryDir(ref.Category), ref.FileID)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	return statErr == nil, nil
}

// ListFiles lists metadata for an indexed category, newest-first.
func (s *Store) ListFiles(cat types.Category, sessionID string) ([]types.FileMetadata, error) {
	idx, ok := s.indices[cat]
	if !ok {
		return nil, errors.New(errors.KindBadInput, "category is not indexed").WithDetails(map[string]interface{}{"category": string(cat)})
	}
	return idx.listFiles(listFilters{SessionID: sessionID})
}

func (s *Store) evict(cat types.Category, fileID string) {
	path, err := resolvePath(s.categoryDir(cat), fileID)
	if err == nil {
		os.Remove(path)
	}
	if idx, ok := s.indices[cat]; ok {
		_, _ = idx.delete(fileID)
	}
}

// RebuildResult reports what RebuildIndex found and repaired.
type RebuildResult struct {
	Scanned  int
	Inserted int
}

// RebuildIndex is the inverse of the startup orphan sweep: instead of
// deleting an on-disk file with no index row, it walks the category's
// directory and inserts the missing row, recomputing hash and size from
// the file itself. Used by the migrate CLI after manual recovery of a
// category directory from backup, where the files exist but the SQLite
// index does not (or is stale).
func (s *Store) RebuildIndex(cat types.Category) (RebuildResult, error) {
	idx, ok := s.indices[cat]
	if !ok {
		return RebuildResult{}, errors.New(errors.KindBadInput, "category is not indexed").WithDetails(map[string]interface{}{"category": string(cat)})
	}

	dir := s.categoryDir(cat)
	ids, err := idx.listAllFileIDs()
	if err != nil {
		return RebuildResult{}, errors.Wrap(errors.KindInternal, "list index rows", err)
	}
	tracked := make(map[string]bool, len(ids))
	for _, id := range ids {
		tracked[id] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return RebuildResult{}, errors.Wrap(errors.KindInternal, "read category dir", err)
	}

	policy := s.policyFor(cat)
	var result RebuildResult
	for _, e := range entries {
		if e.IsDir() || e.Name() == ".index.db" || filepath.Ext(e.Name()) == ".tmp" {
			continue
		}
		result.Scanned++
		if tracked[e.Name()] {
			continue
		}

		path := filepath.Join(dir, e.Name())
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			s.log.Warn("rebuild: could not read file, skipping", "category", string(cat), "file_id", e.Name(), "error", readErr.Error())
			continue
		}
		info, statErr := e.Info()
		if statErr != nil {
			s.log.Warn("rebuild: could not stat file, skipping", "category", string(cat), "file_id", e.Name(), "error", statErr.Error())
			continue
		}

		sum := sha256.Sum256(content)
		ref := types.FileRef{
			FileID:    e.Name(),
			Category:  cat,
			Size:      info.Size(),
			Hash:      hex.EncodeToString(sum[:]),
			CreatedAt: info.ModTime().UTC(),
		}
		var expiresAt *time.Time
		if policy.TTLHours > 0 {
			t := ref.CreatedAt.Add(time.Duration(policy.TTLHours * float64(time.Hour)))
			expiresAt = &t
		}
		if insertErr := idx.insert(ref, e.Name(), expiresAt, "{}"); insertErr != nil {
			s.log.Warn("rebuild: could not insert index row", "category", string(cat), "file_id", e.Name(), "error", insertErr.Error())
			continue
		}
		result.Inserted++
		s.log.Info("rebuild: inserted index row for on-disk file with no row", "category", string(cat), "file_id", e.Name())
	}
	return result, nil
}

// startupSweep implements the Atomicity clause: delete untracked files in
// indexed categories (orphans), and delete index rows whose file is missing
// (dangling rows, logged at WARN).
func (s *Store) startupSweep() error {
	for catName := range s.cfg.Categories {
		cat := types.Category(catName)
		idx, ok := s.indices[cat]
		if !ok {
			continue
		}
		dir := s.categoryDir(cat)
		tracked := make(map[string]bool)
		ids, err := idx.listAllFileIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			tracked[id] = true
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		onDisk := make(map[string]bool)
		for _, e := range entries {
			if e.IsDir() || e.Name() == ".index.db" || filepath.Ext(e.Name()) == ".tmp" {
				continue
			}
			onDisk[e.Name()] = true
			if !tracked[e.Name()] {
				os.Remove(filepath.Join(dir, e.Name()))
				s.log.Warn("removed orphaned file with no index row", "category", catName, "file_id", e.Name())
			}
		}
		for id := range tracked {
			if !onDisk[id] {
				_, _ = idx.delete(id)
				s.log.Warn("removed dangling index row with no file", "category", catName, "file_id", id)
			}
		}
	}
	return nil
}
