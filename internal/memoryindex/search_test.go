package memoryindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuseRRFOrdersByCombinedScore(t *testing.T) {
	fts := []scoredChunkID{{ChunkID: "a", Score: 1}, {ChunkID: "b", Score: 0.5}}
	vec := []scoredChunkID{{ChunkID: "b", Score: 1}, {ChunkID: "a", Score: 0.3}}

	fused := fuseRRF(fts, vec, 0.3, 0.7)
	assert.Len(t, fused, 2)
	for _, f := range fused {
		assert.GreaterOrEqual(t, f.Score, 0.0)
		assert.LessOrEqual(t, f.Score, 1.0)
	}
	// b ranks first in the vector branch (weighted 0.7) and second in fts
	// (weighted 0.3); a is the reverse - b should win the heavier weight.
	assert.Equal(t, "b", fused[0].ChunkID)
}

func TestFuseRRFHandlesFTSOnly(t *testing.T) {
	fts := []scoredChunkID{{ChunkID: "x", Score: 1}}
	fused := fuseRRF(fts, nil, 0.3, 0.7)
	assert.Len(t, fused, 1)
	assert.Equal(t, "x", fused[0].ChunkID)
}

func TestCosineSimilarityBasics(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, cosineSimilarity(a, b), 0.001)

	c := []float32{0, 1, 0}
	assert.InDelta(t, 0.0, cosineSimilarity(a, c), 0.001)
}
