package memoryindex

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"ba-agent-core/pkg/types"
)

// rrfK is the standard Reciprocal Rank Fusion smoothing constant.
const rrfK = 60

// SearchOptions configures one search() call.
type SearchOptions struct {
	K int
	MinScore float64
	SourceFilter string
	UseHybrid bool
	ContextLines int
}

// Search runs the hybrid query algorithm: FTS (or LIKE fallback) branch,
// optional vector branch, Reciprocal Rank Fusion, min-max score
// normalisation, then context/file-ref enrichment.
func (idx *Index) Search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchResult, error) {
	if opts.K <= 0 {
		opts.K = idx.searchCfg.MaxResults
	}
	topN := opts.K * 2
	if topN <= 0 {
		topN = 20
	}

	ftsRanked, err := idx.ftsBranch(ctx, query, topN, opts.SourceFilter)
	if err != nil {
		idx.log.Warn("fts branch failed, continuing with vector branch only", "error", err.Error())
		ftsRanked = nil
	}

	var vecRanked []scoredChunkID
	useHybrid := opts.UseHybrid && idx.searchCfg.HybridEnabled && idx.embedder.Name() != "none"
	if useHybrid {
		vecRanked, err = idx.vectorBranch(ctx, query, topN)
		if err != nil {
			idx.log.Warn("vector branch failed, degrading to fts-only", "error", err.Error())
			vecRanked = nil
		}
	}

	fused := fuseRRF(ftsRanked, vecRanked, idx.searchCfg.TextWeight, idx.searchCfg.VectorWeight)

	var out []types.SearchResult
	for _, f := range fused {
		if f.Score < opts.MinScore {
			continue
		}
		chunk, ok := idx.getChunk(ctx, f.ChunkID)
		if !ok {
			continue // the chunk id may no longer exist in any index file
		}
		result := types.SearchResult{Chunk: chunk, Score: f.Score}
		if opts.ContextLines > 0 {
			result.ContextPre, result.ContextPost = idx.surroundingContext(ctx, chunk, opts.ContextLines)
		}
		result.FileRefs = idx.fileRefsFor(ctx, f.ChunkID)
		out = append(out, result)
		if len(out) >= opts.K {
			break
		}
	}
	return out, nil
}

// ftsBranch runs FTS5 MATCH when available, else degrades to a LIKE scan
// with score = min(1, match_count/10).
func (idx *Index) ftsBranch(ctx context.Context, query string, topN int, sourceFilter string) ([]scoredChunkID, error) {
	var out []scoredChunkID
	for _, h := range idx.allHandles() {
		var rows *sql.Rows
		var err error
		if h.ftsAvailable {
			q := `SELECT c.id, bm25(chunks_fts) FROM chunks_fts f JOIN chunks c ON c.id = f.id WHERE chunks_fts MATCH ?`
			args := []interface{}{query}
			if sourceFilter != "" {
				q += ` AND c.source = ?`
				args = append(args, sourceFilter)
			}
			q += ` ORDER BY bm25(chunks_fts) LIMIT ?`
			args = append(args, topN)
			rows, err = h.db.QueryContext(ctx, q, args...)
			if err == nil {
				defer rows.Close()
				rank := 0
				for rows.Next() {
					var id string
					var bm25 float64
					if err := rows.Scan(&id, &bm25); err != nil {
						continue
					}
					rank++
					// bm25() returns lower-is-better; invert into an
					// ascending "goodness" proxy used only for ranking.
					out = append(out, scoredChunkID{ChunkID: id, Score: 1.0 / float64(rank)})
				}
				continue
			}
			idx.log.Warn("fts query failed, falling back to LIKE for this index file", "error", err.Error())
		}

		like := "%" + strings.ToLower(query) + "%"
		q := `SELECT id, text FROM chunks WHERE LOWER(text) LIKE ?`
		args := []interface{}{like}
		if sourceFilter != "" {
			q += ` AND source = ?`
			args = append(args, sourceFilter)
		}
		q += ` LIMIT ?`
		args = append(args, topN)
		rows, err = h.db.QueryContext(ctx, q, args...)
		if err != nil {
			return out, err
		}
		func() {
			defer rows.Close()
			terms := strings.Fields(strings.ToLower(query))
			for rows.Next() {
				var id, text string
				if err := rows.Scan(&id, &text); err != nil {
					continue
				}
				matchCount := 0
				lower := strings.ToLower(text)
				for _, t := range terms {
					matchCount += strings.Count(lower, t)
				}
				score := float64(matchCount) / 10.0
				if score > 1 {
					score = 1
				}
				out = append(out, scoredChunkID{ChunkID: id, Score: score})
			}
		}()
	}
	sortScoredDesc(out)
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func (idx *Index) vectorBranch(ctx context.Context, query string, topN int) ([]scoredChunkID, error) {
	queryVecs, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil || len(queryVecs) == 0 {
		return nil, err
	}
	qVec := queryVecs[0]

	var all []scoredChunkID
	for _, h := range idx.allHandles() {
		rows, err := h.db.QueryContext(ctx, `SELECT chunk_id, embedding FROM chunk_vectors`)
		if err != nil {
			continue
		}
		var vrows []vectorRow
		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				continue
			}
			vrows = append(vrows, vectorRow{ChunkID: id, Vector: decodeVector(blob)})
		}
		rows.Close()
		all = append(all, naiveVectorSearch(vrows, qVec, topN)...)
	}
	sortScoredDesc(all)
	if len(all) > topN {
		all = all[:topN]
	}
	return all, nil
}

// fuseRRF computes Reciprocal Rank Fusion across the two already-ranked
// branches, then min-max normalises the fused scores into [0,1].
// Branch inputs are assumed sorted best-first.
func fuseRRF(ftsRanked, vecRanked []scoredChunkID, textWeight, vectorWeight float64) []scoredChunkID {
	type acc struct {
		score float64
	}
	fused := make(map[string]*acc)
	order := []string{}

	// A ChunkID can appear more than once in one branch's ranked list when
	// a rotated index file still holds a chunk that was re-indexed,
	// unchanged, into the new active file. Duplicates resolve to the
	// highest-scoring occurrence, so within one branch only the best
	// (lowest) rank contributes, not the sum of every occurrence.
	addBranch := func(ranked []scoredChunkID, weight float64) {
		seenInBranch := make(map[string]bool, len(ranked))
		for i, r := range ranked {
			if seenInBranch[r.ChunkID] {
				continue
			}
			seenInBranch[r.ChunkID] = true

			rank := i + 1
			a, ok := fused[r.ChunkID]
			if !ok {
				a = &acc{}
				fused[r.ChunkID] = a
				order = append(order, r.ChunkID)
			}
			a.score += weight / float64(rrfK+rank)
		}
	}
	addBranch(ftsRanked, textWeight)
	addBranch(vecRanked, vectorWeight)

	out := make([]scoredChunkID, 0, len(order))
	minS, maxS := 0.0, 0.0
	first := true
	for _, id := range order {
		s := fused[id].score
		if first {
			minS, maxS = s, s
			first = false
		}
		if s < minS {
			minS = s
		}
		if s > maxS {
			maxS = s
		}
		out = append(out, scoredChunkID{ChunkID: id, Score: s})
	}
	spread := maxS - minS
	for i := range out {
		if spread > 0 {
			out[i].Score = (out[i].Score - minS) / spread
		} else {
			out[i].Score = 1.0
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (idx *Index) getChunk(ctx context.Context, chunkID string) (types.Chunk, bool) {
	if c, ok := idx.cache.Get(chunkID); ok {
		return c, true
	}
	for _, h := range idx.allHandles() {
		var c types.Chunk
		err := h.db.QueryRowContext(ctx, `
			SELECT id, path, source, start_line, end_line, hash, text, updated_at
			FROM chunks WHERE id = ?
		`, chunkID).Scan(&c.ID, &c.Path, &c.Source, &c.StartLine, &c.EndLine, &c.ContentHash, &c.Text, &c.UpdatedAt)
		if err == nil {
			idx.cache.Add(chunkID, c)
			return c, true
		}
	}
	return types.Chunk{}, false
}

func (idx *Index) surroundingContext(ctx context.Context, chunk types.Chunk, lines int) (pre, post string) {
	for _, h := range idx.allHandles() {
		var preText, postText sql.NullString
		_ = h.db.QueryRowContext(ctx, `
			SELECT text FROM chunks WHERE path = ? AND end_line < ? ORDER BY end_line DESC LIMIT 1
		`, chunk.Path, chunk.StartLine).Scan(&preText)
		_ = h.db.QueryRowContext(ctx, `
			SELECT text FROM chunks WHERE path = ? AND start_line > ? ORDER BY start_line ASC LIMIT 1
		`, chunk.Path, chunk.EndLine).Scan(&postText)
		if preText.Valid || postText.Valid {
			return tailLines(preText.String, lines), headLines(postText.String, lines)
		}
	}
	return "", ""
}

func tailLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func headLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[:n], "\n")
}

func (idx *Index) fileRefsFor(ctx context.Context, chunkID string) []types.FileRef {
	var refs []types.FileRef
	for _, h := range idx.allHandles() {
		rows, err := h.db.QueryContext(ctx, `SELECT file_id, category FROM chunk_file_refs WHERE chunk_id = ?`, chunkID)
		if err != nil {
			continue
		}
		for rows.Next() {
			var fileID, category string
			if err := rows.Scan(&fileID, &category); err != nil {
				continue
			}
			refs = append(refs, types.FileRef{FileID: fileID, Category: types.Category(category)})
		}
		rows.Close()
	}
	return refs
}
