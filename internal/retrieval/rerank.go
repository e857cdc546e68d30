package retrieval

import (
	"sort"
	"strings"
)

type RerankConfig struct {
	MinChunkWords     int
	ShortChunkPenalty float64
	OverlapBoost      float64
	MaxResults        int
}

func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		MinChunkWords:     100,
		ShortChunkPenalty: 0.8,
		OverlapBoost:      0.3,
		MaxResults:        5,
	}
}

// Rerank adjusts fused scores by secondary heuristics: very short chunks are
// penalized and chunks sharing terms with the query are boosted in proportion
// to the overlapped fraction of query terms. Pure function of its inputs;
// no index calls.
func Rerank(query string, candidates []RankedChunk, cfg RerankConfig) []RankedChunk {
	if len(candidates) == 0 {
		return candidates
	}

	queryTerms := termSet(query)

	ranked := make([]RankedChunk, len(candidates))
	copy(ranked, candidates)

	for i := range ranked {
		adjusted := ranked[i].FusedScore

		if wordCount(ranked[i].Text) < cfg.MinChunkWords {
			adjusted *= cfg.ShortChunkPenalty
		}

		if len(queryTerms) > 0 {
			chunkTerms := termSet(ranked[i].Text)
			overlap := 0
			for t := range queryTerms {
				if _, ok := chunkTerms[t]; ok {
					overlap++
				}
			}
			fraction := float64(overlap) / float64(len(queryTerms))
			adjusted *= 1 + fraction*cfg.OverlapBoost
		}

		if adjusted < 0 {
			adjusted = 0
		}
		ranked[i].AdjustedScore = adjusted
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].AdjustedScore != ranked[j].AdjustedScore {
			return ranked[i].AdjustedScore > ranked[j].AdjustedScore
		}
		return ranked[i].ID < ranked[j].ID
	})

	if cfg.MaxResults > 0 && len(ranked) > cfg.MaxResults {
		ranked = ranked[:cfg.MaxResults]
	}

	return ranked
}

func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
