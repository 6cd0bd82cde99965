// Package memoryindex implements the memory corpus's chunking, full-text,
// vector, and hybrid-fusion retrieval layer (C2).
package memoryindex

import (
	"strings"

	"ba-agent-core/pkg/types"
)

// ChunkParams controls the line-range chunker. Sizes are in
// line-units, not tokens, matching the source's line-based splitter.
type ChunkParams struct {
	ChunkSize int
	Overlap int
}

// DefaultChunkParams mirrors its defaults.
func DefaultChunkParams() ChunkParams {
	return ChunkParams{ChunkSize: 400, Overlap: 80}
}

// chunkMemoryAwareText is the entry point IndexFile calls. It first splits
// text on "## Memory Flush (...)" headings so a chunk window never straddles
// two flush blocks, then runs the ordinary line-range chunker within each
// block. Text with no such headings (every file that isn't a compactor
// daily flush) comes back as a single block, so this is equivalent to
// chunkText for all other sources.
func chunkMemoryAwareText(path, source, text string, params ChunkParams) []types.Chunk {
	blocks := splitMemoryFlushBlocks([]byte(text))
	if len(blocks) <= 1 {
		return chunkText(path, source, text, params)
	}

	var all []types.Chunk
	consumed := 0
	for _, block := range blocks {
		lineOffset := strings.Count(text[:consumed], "\n")
		// a block ends with the newline before the next heading; drop it so
		// the empty string after it is not counted as a line of this block
		for _, c := range chunkText(path, source, strings.TrimSuffix(block, "\n"), params) {
			c.StartLine += lineOffset
			c.EndLine += lineOffset
			c.ID = types.NewChunkID(path, c.StartLine, c.EndLine, c.ContentHash)
			all = append(all, c)
		}
		consumed += len(block)
	}
	return all
}

// chunkText splits text into line-range chunks per its algorithm:
// windows of chunk_size lines advancing by (chunk_size - overlap), the final
// chunk covering through the last line even if shorter; empty/whitespace
// chunks are skipped.
func chunkText(path, source, text string, params ChunkParams) []types.Chunk {
	if params.ChunkSize <= params.Overlap {
		params = DefaultChunkParams()
	}
	lines := strings.Split(text, "\n")
	n := len(lines)
	if n == 0 {
		return nil
	}

	stride := params.ChunkSize - params.Overlap
	if stride <= 0 {
		stride = params.ChunkSize
	}

	var chunks []types.Chunk
	for start := 1; start <= n; start += stride {
		end := start + params.ChunkSize - 1
		if end > n {
			end = n
		}
		body := strings.Join(lines[start-1:end], "\n")
		if strings.TrimSpace(body) != "" {
			hash := types.HashText(body)
			chunks = append(chunks, types.Chunk{
				ID: types.NewChunkID(path, start, end, hash),
				Path: path,
				Source: source,
				StartLine: start,
				EndLine: end,
				ContentHash: hash,
				Text: body,
			})
		}
		if end >= n {
			break
		}
	}
	return chunks
}
