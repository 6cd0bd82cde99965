package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRefRoundTrip(t *testing.T) {
	ref := FileRef{Category: CategoryArtifact, FileID: "abc123"}
	parsed, err := ParseFileRef(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref.Category, parsed.Category)
	assert.Equal(t, ref.FileID, parsed.FileID)
}

func TestValidateFileIDRejectsTraversal(t *testing.T) {
	for _, bad := range []string{"../etc/passwd", "a/b", "a\\b", "a..b/c", "bad\x00id", "bad\nid"} {
		assert.Error(t, ValidateFileID(bad), bad)
	}
	assert.NoError(t, ValidateFileID("plain-uuid-1234"))
}

func TestParseFileRefRejectsBadCategory(t *testing.T) {
	_, err := ParseFileRef("bogus:abc")
	assert.Error(t, err)
}

func TestCallerCanAccess(t *testing.T) {
	owner := Caller{SessionID: "s1"}
	other := Caller{SessionID: "s2"}
	memRef := FileRef{Category: CategoryMemory, FileID: "x"}
	assert.True(t, owner.CanAccess(memRef))
	assert.True(t, other.CanAccess(memRef))

	uploadRef := FileRef{Category: CategoryUpload, FileID: "x", SessionID: "s1"}
	assert.True(t, owner.CanAccess(uploadRef))
	assert.False(t, other.CanAccess(uploadRef))

	cacheRef := FileRef{Category: CategoryCache, FileID: "x"}
	assert.True(t, other.CanAccess(cacheRef))
}

func TestParseRetainLine(t *testing.T) {
	rec, ok := ParseRetainLine("W @acme: uses PostgreSQL for its warehouse")
	require.True(t, ok)
	assert.Equal(t, KindWorldFact, rec.Kind)
	assert.Equal(t, "acme", rec.Entity)
	assert.Equal(t, "uses PostgreSQL for its warehouse", rec.Content)

	rec2, ok := ParseRetainLine("O(c=0.8) @acme: likely to churn next quarter")
	require.True(t, ok)
	assert.Equal(t, KindOpinion, rec2.Kind)
	assert.InDelta(t, 0.8, rec2.Confidence, 0.001)

	_, ok = ParseRetainLine("   ")
	assert.False(t, ok)

	_, ok = ParseRetainLine("not a retain line at all")
	assert.False(t, ok)

	rec3, ok := ParseRetainLine("W garbled line missing colon structure")
	require.True(t, ok)
	assert.Equal(t, KindWorldFact, rec3.Kind)
}

func TestMemoryRecordRenderRoundTrips(t *testing.T) {
	rec := MemoryRecord{Kind: KindOpinion, Entity: "acme", Confidence: 0.8, Content: "likely to churn"}
	line := rec.Render()
	parsed, ok := ParseRetainLine(line)
	require.True(t, ok)
	assert.Equal(t, rec.Kind, parsed.Kind)
	assert.Equal(t, rec.Entity, parsed.Entity)
	assert.Equal(t, rec.Content, parsed.Content)
}
