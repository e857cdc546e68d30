package retrieval

// Source identifies which index produced a chunk.
type Source string

const (
	SourceVector  Source = "vector"
	SourceKeyword Source = "keyword"
)

// Chunk is a raw retrieval candidate as returned by one index. Chunks are
// ephemeral: they live only for the duration of a single request.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Score      float64
	Source     Source
	Metadata   map[string]string
}

// RankedChunk is a fused candidate. FusedScore combines the normalized
// per-source scores; AdjustedScore is set by the re-ranker and is never
// negative.
type RankedChunk struct {
	Chunk
	FusedScore    float64
	AdjustedScore float64
	Sources       []Source
}

func wordCount(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}
