package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MemoryKind is one of the four Retain record kinds.
type MemoryKind string

const (
	KindWorldFact MemoryKind = "W"
	KindBiographical MemoryKind = "B"
	KindOpinion MemoryKind = "O"
	KindSummary MemoryKind = "S"
)

// Valid reports whether k is one of W/B/O/S.
func (k MemoryKind) Valid() bool {
	switch k {
	case KindWorldFact, KindBiographical, KindOpinion, KindSummary:
		return true
	}
	return false
}

// MemoryRecord is one durable fact extracted from a conversation, rendered
// as a single Markdown line in the Retain-line grammar.
type MemoryRecord struct {
	Kind       MemoryKind
	Entity     string  // without the leading "@"
	Confidence float64 // only meaningful for KindOpinion, in [0,1]
	Content    string
}

var retainLineRE = regexp.MustCompile(`^(W|B|O|S)(\(c=([0-9.]+)\))?(\s+@([^:]+))?:\s(.*)$`)

// Render serializes the record into the Retain-line grammar:
// "W @entity: content" / "O(c=0.8) @entity: content" / etc.
func (r MemoryRecord) Render() string {
	var b strings.Builder
	b.WriteString(string(r.Kind))
	if r.Kind == KindOpinion {
		fmt.Fprintf(&b, "(c=%.2g)", r.Confidence)
	}
	if r.Entity != "" {
		fmt.Fprintf(&b, " @%s", r.Entity)
	}
	b.WriteString(": ")
	b.WriteString(r.Content)
	return b.String()
}

// ParseRetainLine parses a single Markdown line against the grammar:
//
//	LINE := TYPE CONF? ENTITY? ':' SP CONTENT
//
// It returns ok=false for lines that do not match any grammatical form and
// do not even begin with a type letter - those are discarded outright.
// Lines that begin with a type letter but otherwise fail to parse cleanly
// are kept as-is with best-effort fields.
func ParseRetainLine(line string) (rec MemoryRecord, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return MemoryRecord{}, false
	}
	if m := retainLineRE.FindStringSubmatch(trimmed); m != nil {
		rec.Kind = MemoryKind(m[1])
		if m[3] != "" {
			if conf, err := strconv.ParseFloat(m[3], 64); err == nil {
				rec.Confidence = conf
			}
		}
		rec.Entity = m[5]
		rec.Content = m[6]
		return rec, true
	}
	// Unparseable lines that begin with a type letter are kept as-is.
	if len(trimmed) > 0 && strings.ContainsRune("WBOS", rune(trimmed[0])) {
		return MemoryRecord{Kind: MemoryKind(trimmed[0:1]), Content: trimmed}, true
	}
	return MemoryRecord{}, false
}
