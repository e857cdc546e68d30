package prompt

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/retrieval"
	"github.com/knowledge-assistant/backend/internal/storage/models"
	"github.com/knowledge-assistant/backend/pkg/config"
	"github.com/knowledge-assistant/backend/pkg/logger"
)

const systemInstructions = `You are a helpful, accurate, and concise knowledge assistant.
Answer questions based only on the provided context.
If you don't have enough information to answer the question, say "I don't have enough information to answer this question."
Do not make up information or use knowledge outside of the provided context.

Context information:
`

// EstimateTokens approximates token count as characters divided by four. The
// estimate only has to be consistent, not exact: the same formula sizes the
// budget and the chunks, so admission decisions are stable.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Builder assembles the final model prompt from context chunks, conversation
// history, and the current query under a fixed token budget.
type Builder struct {
	cfg config.PromptConfig
}

func NewBuilder(cfg config.PromptConfig) *Builder {
	return &Builder{cfg: cfg}
}

// ContextBudget is the token allowance left for retrieved chunks after the
// fixed sections take their reserves.
func (b *Builder) ContextBudget() int {
	budget := b.cfg.ContextTokenBudget - b.cfg.SystemReserve - b.cfg.HistoryReserve - b.cfg.QueryReserve
	if budget < 0 {
		return 0
	}
	return budget
}

// SelectWithinBudget admits chunks in rank order until the next chunk would
// overflow the budget, then stops. Chunks are never truncated: a chunk either
// fits whole or is excluded, and no chunk after the first overflow is
// admitted even if it would fit.
func SelectWithinBudget(chunks []retrieval.RankedChunk, budgetTokens int) []retrieval.RankedChunk {
	var selected []retrieval.RankedChunk
	used := 0

	for _, chunk := range chunks {
		cost := EstimateTokens(chunk.Text)
		if used+cost > budgetTokens {
			break
		}
		selected = append(selected, chunk)
		used += cost
	}

	return selected
}

// Build renders the four prompt sections in fixed order: system instructions,
// context documents, recent conversation history, current query.
func (b *Builder) Build(query string, chunks []retrieval.RankedChunk, history []models.ConversationTurn) string {
	var sb strings.Builder
	sb.WriteString(systemInstructions)

	if len(chunks) > 0 {
		for i, chunk := range chunks {
			sb.WriteString(fmt.Sprintf("\n--- Document %d (Relevance: %.2f) ---\n%s\n", i+1, chunk.AdjustedScore, chunk.Text))
		}
	} else {
		sb.WriteString("\nNo relevant context found.\n")
	}

	if len(history) > 0 {
		sb.WriteString("\nPrevious conversation:\n")
		for _, turn := range lastExchanges(history, b.cfg.HistoryExchanges) {
			switch turn.Role {
			case models.RoleUser:
				sb.WriteString("Human: " + turn.Content + "\n")
			case models.RoleAssistant:
				sb.WriteString("Assistant: " + turn.Content + "\n")
			}
		}
	}

	sb.WriteString("\nHuman: " + query + "\n\nAssistant:")

	prompt := sb.String()
	logger.Debug("Prompt assembled",
		zap.Int("chunks", len(chunks)),
		zap.Int("history_turns", len(history)),
		zap.Int("estimated_tokens", EstimateTokens(prompt)),
	)

	return prompt
}

// lastExchanges keeps the trailing turns covering at most n user/assistant
// exchanges.
func lastExchanges(history []models.ConversationTurn, n int) []models.ConversationTurn {
	keep := n * 2
	if len(history) <= keep {
		return history
	}
	return history[len(history)-keep:]
}
