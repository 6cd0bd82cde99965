// Package types provides the core data structures shared by every
// component of the agent runtime: FileRef, Chunk, Embedding, memory
// records, conversation state, and tool execution results.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Category partitions the file store into namespaces, each with its own
// size limit, TTL, indexing choice, and access rules.
type Category string

const (
	CategoryArtifact Category = "artifact"
	CategoryUpload Category = "upload"
	CategoryReport Category = "report"
	CategoryChart Category = "chart"
	CategoryCache Category = "cache"
	CategoryTemp Category = "temp"
	CategoryMemory Category = "memory"
	CategoryCode Category = "code"
	CategoryCheckpoint Category = "checkpoint"
)

// Valid reports whether c is one of the nine known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryArtifact, CategoryUpload, CategoryReport, CategoryChart,
		CategoryCache, CategoryTemp, CategoryMemory, CategoryCode, CategoryCheckpoint:
		return true
	}
	return false
}

// FileRef is the opaque handle the core uses in place of filesystem paths.
// It is immutable once emitted by a store call.
type FileRef struct {
	FileID    string            `json:"file_id"`
	Category  Category          `json:"category"`
	SessionID string            `json:"session_id,omitempty"`
	Size      int64             `json:"size"`
	Hash      string            `json:"hash"`
	MIME      string            `json:"mime,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// String renders the canonical "<category>:<file_id>" form.
func (r FileRef) String() string {
	return fmt.Sprintf("%s:%s", r.Category, r.FileID)
}

// ParseFileRef parses the canonical string form back into category/file_id.
// It does not populate Size/Hash/CreatedAt - those live in the index.
func ParseFileRef(s string) (FileRef, error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return FileRef{}, fmt.Errorf("malformed file ref %q", s)
	}
	cat := Category(s[:idx])
	if !cat.Valid() {
		return FileRef{}, fmt.Errorf("unknown category %q in file ref %q", cat, s)
	}
	id := s[idx+1:]
	if err := ValidateFileID(id); err != nil {
		return FileRef{}, err
	}
	return FileRef{Category: cat, FileID: id}, nil
}

// ValidateFileID enforces its ban on path separators, "..", and
// control bytes in a file_id, independent of where the id came from.
func ValidateFileID(id string) error {
	if id == "" {
		return fmt.Errorf("file_id cannot be empty")
	}
	if strings.Contains(id, "/") || strings.Contains(id, "\\") || strings.Contains(id, "..") {
		return fmt.Errorf("file_id %q contains a path separator or traversal sequence", id)
	}
	for _, r := range id {
		if r == 0 || r == '\r' || r == '\n' {
			return fmt.Errorf("file_id %q contains a control byte", id)
		}
	}
	return nil
}

// FileMetadata is the mutable side-table tracked in a category's index.
type FileMetadata struct {
	FileRef        FileRef    `json:"file_ref"`
	Filename       string     `json:"filename,omitempty"`
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the metadata's TTL has elapsed as of now.
func (m FileMetadata) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// Caller identifies who is making a file store request, for access control.
type Caller struct {
	SessionID string
	UserID string
}

// CanAccess implements its access-control rule.
func (c Caller) CanAccess(ref FileRef) bool {
	switch ref.Category {
	case CategoryMemory:
		return true
	case CategoryCache, CategoryChart:
		if ref.SessionID == "" {
			return true
		}
	}
	return ref.SessionID != "" && ref.SessionID == c.SessionID
}
