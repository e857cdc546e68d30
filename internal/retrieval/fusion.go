package retrieval

import "sort"

// Fuse merges the vector and keyword result sets into one list ranked by
// weighted score. Raw scores are min-max normalized per source before
// weighting, so the two indexes' score scales never leak into each other.
// A chunk present in both sets gets v*vectorWeight + k*keywordWeight; a chunk
// present in one set keeps its single weighted contribution. Deduplication is
// by chunk id. The output is deterministic regardless of input ordering:
// ties on fused score break by chunk id.
func Fuse(vectorResults, keywordResults []Chunk, vectorWeight, keywordWeight float64, limit int) []RankedChunk {
	vectorNorm := normalizeScores(vectorResults)
	keywordNorm := normalizeScores(keywordResults)

	merged := make(map[string]*RankedChunk, len(vectorResults)+len(keywordResults))

	for i, c := range vectorResults {
		merged[c.ID] = &RankedChunk{
			Chunk:      c,
			FusedScore: vectorNorm[i] * vectorWeight,
			Sources:    []Source{SourceVector},
		}
	}

	for i, c := range keywordResults {
		if existing, ok := merged[c.ID]; ok {
			existing.FusedScore += keywordNorm[i] * keywordWeight
			existing.Sources = append(existing.Sources, SourceKeyword)
			continue
		}
		merged[c.ID] = &RankedChunk{
			Chunk:      c,
			FusedScore: keywordNorm[i] * keywordWeight,
			Sources:    []Source{SourceKeyword},
		}
	}

	fused := make([]RankedChunk, 0, len(merged))
	for _, rc := range merged {
		fused = append(fused, *rc)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		return fused[i].ID < fused[j].ID
	})

	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}

	return fused
}

// normalizeScores maps raw scores onto [0,1] per source. A degenerate set
// where every score is identical normalizes to 1.0 so a sole result is not
// zeroed out.
func normalizeScores(chunks []Chunk) []float64 {
	norm := make([]float64, len(chunks))
	if len(chunks) == 0 {
		return norm
	}

	min, max := chunks[0].Score, chunks[0].Score
	for _, c := range chunks[1:] {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}

	if max == min {
		for i := range norm {
			norm[i] = 1.0
		}
		return norm
	}

	for i, c := range chunks {
		norm[i] = (c.Score - min) / (max - min)
	}
	return norm
}
