package memoryindex

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLines(n int) string {
	lines := make([]string, n)
	for i := 0; i < n; i++ {
		lines[i] = "line " + strconv.Itoa(i+1)
	}
	return strings.Join(lines, "\n")
}

func TestChunkTextMonotoneAndOverlap(t *testing.T) {
	text := makeLines(1000)
	chunks := chunkText("f.md", "test", text, ChunkParams{ChunkSize: 400, Overlap: 80})
	require.NotEmpty(t, chunks)

	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i].StartLine, chunks[i-1].StartLine)
	}
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 1000, chunks[len(chunks)-1].EndLine)

	if len(chunks) > 1 {
		overlap := chunks[0].EndLine - chunks[1].StartLine + 1
		assert.Equal(t, 80, overlap)
	}
}

func TestChunkTextSkipsEmptyChunks(t *testing.T) {
	chunks := chunkText("f.md", "test", "\n\n   \n", ChunkParams{ChunkSize: 400, Overlap: 80})
	assert.Empty(t, chunks)
}

func TestChunkTextEmptyFile(t *testing.T) {
	chunks := chunkText("f.md", "test", "", ChunkParams{ChunkSize: 400, Overlap: 80})
	assert.Empty(t, chunks)
}

func TestChunkIDIdempotentOnIdenticalText(t *testing.T) {
	c1 := chunkText("a.md", "test", "same content\nhere", ChunkParams{ChunkSize: 400, Overlap: 80})
	c2 := chunkText("b.md", "test", "same content\nhere", ChunkParams{ChunkSize: 400, Overlap: 80})
	require.Len(t, c1, 1)
	require.Len(t, c2, 1)
	assert.NotEqual(t, c1[0].ID, c2[0].ID, "identical text in different files must have distinct ids")
	assert.Equal(t, c1[0].ContentHash, c2[0].ContentHash)
}

func TestChunkMemoryAwareTextFallsBackWithoutFlushHeadings(t *testing.T) {
	text := makeLines(50)
	aware := chunkMemoryAwareText("f.md", "test", text, ChunkParams{ChunkSize: 400, Overlap: 80})
	plain := chunkText("f.md", "test", text, ChunkParams{ChunkSize: 400, Overlap: 80})
	require.Equal(t, plain, aware)
}

func TestChunkMemoryAwareTextNeverStraddlesAFlushBlock(t *testing.T) {
	text := "## Memory Flush (2026-07-29T10:00:00Z)\n" + makeLines(10) + "\n\n" +
		"## Memory Flush (2026-07-30T10:00:00Z)\n" + makeLines(10)

	chunks := chunkMemoryAwareText("memory/2026-07-30.md", "watcher", text, ChunkParams{ChunkSize: 5, Overlap: 1})
	require.NotEmpty(t, chunks)

	firstHeadingLine := strings.Count(text[:strings.Index(text, "## Memory Flush (2026-07-30T10:00:00Z)")], "\n") + 1
	for _, c := range chunks {
		crossesBoundary := c.StartLine < firstHeadingLine && c.EndLine >= firstHeadingLine
		assert.False(t, crossesBoundary, "chunk %d-%d straddles the second flush block's heading at line %d", c.StartLine, c.EndLine, firstHeadingLine)
	}
}
