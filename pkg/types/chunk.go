package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Chunk is a contiguous, hashed line range of a source file - the unit of
// indexing and retrieval for the memory index.
type Chunk struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Source      string    `json:"source"`
	StartLine   int       `json:"start_line"` // 1-based, inclusive
	EndLine     int       `json:"end_line"` // 1-based, inclusive
	ContentHash string    `json:"content_hash"`
	Text        string    `json:"text"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HashText returns the content hash of text alone, : "a chunk's
// content_hash is derived only from text".
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NewChunkID builds the canonical "<path>:<start>:<end>:<hash>" chunk id.
func NewChunkID(path string, start, end int, hash string) string {
	return fmt.Sprintf("%s:%d:%d:%s", path, start, end, hash)
}

// Embedding is an embedding vector, keyed independently of any chunk so it
// can be cached across chunks sharing identical text.
type Embedding struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"vector"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SearchResult is one hit returned from the memory index's fused search.
type SearchResult struct {
	Chunk       Chunk     `json:"chunk"`
	Score       float64   `json:"score"` // in [0,1]
	ContextPre  string    `json:"context_pre,omitempty"`
	ContextPost string    `json:"context_post,omitempty"`
	FileRefs    []FileRef `json:"file_refs,omitempty"`
}
