package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-assistant/backend/internal/retrieval"
	"github.com/knowledge-assistant/backend/internal/storage/models"
	"github.com/knowledge-assistant/backend/pkg/config"
)

func testPromptConfig() config.PromptConfig {
	return config.PromptConfig{
		ContextTokenBudget: 3000,
		SystemReserve:      300,
		HistoryReserve:     600,
		QueryReserve:       200,
		HistoryExchanges:   3,
	}
}

func chunkOfTokens(id string, tokens int) retrieval.RankedChunk {
	// EstimateTokens is len/4, so 4 chars per token.
	return retrieval.RankedChunk{
		Chunk: retrieval.Chunk{ID: id, Text: strings.Repeat("abc ", tokens)},
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}

func TestSelectWithinBudgetNeverExceeds(t *testing.T) {
	chunks := []retrieval.RankedChunk{
		chunkOfTokens("a", 400),
		chunkOfTokens("b", 400),
		chunkOfTokens("c", 400),
	}

	selected := SelectWithinBudget(chunks, 900)

	total := 0
	for _, c := range selected {
		total += EstimateTokens(c.Text)
	}
	assert.LessOrEqual(t, total, 900)
	assert.Len(t, selected, 2)
}

func TestSelectWithinBudgetNeverSplitsChunks(t *testing.T) {
	chunks := []retrieval.RankedChunk{chunkOfTokens("a", 500)}

	selected := SelectWithinBudget(chunks, 100)
	assert.Empty(t, selected)
}

func TestSelectWithinBudgetStopsAtFirstOverflow(t *testing.T) {
	// "b" overflows; "c" would fit the remaining budget but selection stops,
	// preserving rank order semantics.
	chunks := []retrieval.RankedChunk{
		chunkOfTokens("a", 300),
		chunkOfTokens("b", 600),
		chunkOfTokens("c", 50),
	}

	selected := SelectWithinBudget(chunks, 500)

	require.Len(t, selected, 1)
	assert.Equal(t, "a", selected[0].ID)
}

func TestSelectWithinBudgetZeroBudget(t *testing.T) {
	assert.Empty(t, SelectWithinBudget([]retrieval.RankedChunk{chunkOfTokens("a", 1)}, 0))
}

func TestContextBudget(t *testing.T) {
	b := NewBuilder(testPromptConfig())
	assert.Equal(t, 1900, b.ContextBudget())

	small := NewBuilder(config.PromptConfig{ContextTokenBudget: 100, SystemReserve: 300})
	assert.Equal(t, 0, small.ContextBudget())
}

func TestBuildSectionOrder(t *testing.T) {
	b := NewBuilder(testPromptConfig())

	chunks := []retrieval.RankedChunk{
		{Chunk: retrieval.Chunk{ID: "c1", Text: "S3 is object storage."}, AdjustedScore: 0.91},
		{Chunk: retrieval.Chunk{ID: "c2", Text: "EC2 is compute."}, AdjustedScore: 0.55},
	}
	history := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "What is AWS?"},
		{Role: models.RoleAssistant, Content: "A cloud provider."},
	}

	p := b.Build("What is S3?", chunks, history)

	assert.True(t, strings.HasPrefix(p, "You are a helpful, accurate, and concise knowledge assistant."))
	assert.Contains(t, p, `say "I don't have enough information to answer this question."`)
	assert.Contains(t, p, "--- Document 1 (Relevance: 0.91) ---\nS3 is object storage.")
	assert.Contains(t, p, "--- Document 2 (Relevance: 0.55) ---\nEC2 is compute.")
	assert.Contains(t, p, "Previous conversation:\nHuman: What is AWS?\nAssistant: A cloud provider.")
	assert.True(t, strings.HasSuffix(p, "\nHuman: What is S3?\n\nAssistant:"))

	// Sections appear in fixed order.
	ctxIdx := strings.Index(p, "--- Document 1")
	histIdx := strings.Index(p, "Previous conversation:")
	queryIdx := strings.LastIndex(p, "Human: What is S3?")
	assert.Less(t, ctxIdx, histIdx)
	assert.Less(t, histIdx, queryIdx)
}

func TestBuildNoContext(t *testing.T) {
	b := NewBuilder(testPromptConfig())

	p := b.Build("What is S3?", nil, nil)

	assert.Contains(t, p, "No relevant context found.")
	assert.NotContains(t, p, "Previous conversation:")
}

func TestBuildTrimsHistoryToLastExchanges(t *testing.T) {
	b := NewBuilder(testPromptConfig())

	var history []models.ConversationTurn
	for i := 0; i < 10; i++ {
		history = append(history,
			models.ConversationTurn{Role: models.RoleUser, Content: "question"},
			models.ConversationTurn{Role: models.RoleAssistant, Content: "answer"},
		)
	}

	p := b.Build("next", nil, history)

	// Three exchanges means at most three Human lines from history plus the
	// current query.
	assert.Equal(t, 4, strings.Count(p, "Human: "))
}
