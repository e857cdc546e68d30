package complexity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeScoreBounds(t *testing.T) {
	queries := []string{
		"",
		"hi",
		"What is S3?",
		"Why does the architecture of the implementation require an algorithm for optimization and how do I compare the function versus the class and the api given that everything is based on the difference? And what else?",
		strings.Repeat("word ", 120),
	}

	for _, q := range queries {
		result := Analyze(q)
		assert.GreaterOrEqual(t, result.Score, 0, "query: %q", q)
		assert.LessOrEqual(t, result.Score, 100, "query: %q", q)
	}
}

func TestAnalyzeSimpleFactualQuery(t *testing.T) {
	result := Analyze("What is S3?")

	assert.LessOrEqual(t, result.Score, 30)
	assert.Contains(t, result.Factors, "short")
	assert.Contains(t, result.Factors, "factual")

	tier := SelectTier(result.Score, 0)
	assert.Equal(t, TierSimple, tier)
}

func TestAnalyzeComparisonQuery(t *testing.T) {
	result := Analyze("Compare microservices versus monolith architectures considering scalability")

	assert.Contains(t, result.Factors, "comparison")
	assert.Contains(t, result.Factors, "technical")
	assert.GreaterOrEqual(t, result.Score, 61)

	tier := SelectTier(result.Score, 0)
	assert.Equal(t, TierAdvanced, tier)
}

func TestAnalyzeDeterministic(t *testing.T) {
	query := "How does the caching algorithm work based on the given architecture?"

	first := Analyze(query)
	second := Analyze(query)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Factors, second.Factors)
}

func TestAnalyzeLongQuery(t *testing.T) {
	long := strings.Repeat("describe the system in detail please ", 10)
	result := Analyze(long)
	assert.Contains(t, result.Factors, "long")
}

func TestAnalyzeMultiPart(t *testing.T) {
	result := Analyze("What is a queue? And what is a topic?")
	assert.Contains(t, result.Factors, "multi_part")
}

func TestSelectTierBands(t *testing.T) {
	tests := []struct {
		name          string
		score         int
		historyLength int
		want          string
	}{
		{"low score", 10, 0, TierSimple},
		{"band edge simple", 30, 0, TierSimple},
		{"band edge standard low", 31, 0, TierStandard},
		{"band edge standard high", 60, 0, TierStandard},
		{"band edge advanced", 61, 0, TierAdvanced},
		{"max score", 100, 0, TierAdvanced},
		{"long conversation override", 45, 6, TierAdvanced},
		{"long conversation below override threshold", 40, 6, TierStandard},
		{"short conversation no override", 45, 5, TierStandard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectTier(tt.score, tt.historyLength))
		})
	}
}
