package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-assistant/backend/internal/audit"
	"github.com/knowledge-assistant/backend/internal/inference"
	"github.com/knowledge-assistant/backend/internal/prompt"
	"github.com/knowledge-assistant/backend/internal/retrieval"
	"github.com/knowledge-assistant/backend/internal/safety"
	"github.com/knowledge-assistant/backend/internal/storage/models"
	"github.com/knowledge-assistant/backend/pkg/config"
)

type fakeGate struct {
	inputSafe   bool
	inputReason string
	outputSafe  bool
	redact      bool
	piiErr      error
}

func (g *fakeGate) CheckInput(_ context.Context, _ string) (safety.Decision, error) {
	return safety.Decision{Safe: g.inputSafe, Reason: g.inputReason}, nil
}

func (g *fakeGate) CheckOutput(_ context.Context, _ string) (safety.Decision, error) {
	return safety.Decision{Safe: g.outputSafe}, nil
}

func (g *fakeGate) DetectAndRedactPII(_ context.Context, text string) (safety.PIIResult, error) {
	if g.piiErr != nil {
		return safety.PIIResult{}, g.piiErr
	}
	if !g.redact {
		return safety.PIIResult{HasPII: false, RedactedText: text}, nil
	}
	redacted := strings.ReplaceAll(text, "user@example.com", "[EMAIL]")
	return safety.PIIResult{HasPII: true, RedactedText: redacted, Types: []string{"EMAIL"}}, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) GetResponse(_ context.Context, key string, out interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (c *fakeCache) SetResponse(_ context.Context, key string, payload interface{}, _ time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

type fakeConversations struct {
	mu    sync.Mutex
	turns map[string][]models.ConversationTurn
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{turns: make(map[string][]models.ConversationTurn)}
}

func (s *fakeConversations) AppendTurn(_ context.Context, turn *models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.ConversationID] = append(s.turns[turn.ConversationID], *turn)
	return nil
}

func (s *fakeConversations) History(_ context.Context, conversationID string, limit int) ([]models.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[conversationID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

type fakeEvals struct {
	mu      sync.Mutex
	records []models.EvaluationRecord
}

func (e *fakeEvals) InsertEvaluationRecord(_ context.Context, rec *models.EvaluationRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, *rec)
	return nil
}

type fakeRetriever struct {
	chunks    []retrieval.RankedChunk
	err       error
	lastQuery string
}

func (r *fakeRetriever) Retrieve(_ context.Context, query string) ([]retrieval.RankedChunk, error) {
	r.lastQuery = query
	return r.chunks, r.err
}

type fakeInvoker struct {
	result     *inference.Result
	err        error
	lastTier   string
	lastPrompt string
	calls      int
}

func (i *fakeInvoker) Invoke(_ context.Context, tier, promptText string) (*inference.Result, error) {
	i.calls++
	i.lastTier = tier
	i.lastPrompt = promptText
	return i.result, i.err
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *fakeAuditor) Emit(_ context.Context, event *models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *event)
}

func (a *fakeAuditor) byType(eventType string) []models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditEvent
	for _, e := range a.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type engineFixture struct {
	engine    *Engine
	gate      *fakeGate
	cache     *fakeCache
	convs     *fakeConversations
	evals     *fakeEvals
	retriever *fakeRetriever
	invoker   *fakeInvoker
	auditor   *fakeAuditor
}

func goodResult() *inference.Result {
	return &inference.Result{
		Response:       "S3 is an object storage service that keeps data in buckets.",
		Tier:           "simple",
		ModelID:        "gpt-3.5-turbo",
		PromptTokens:   120,
		ResponseTokens: 40,
		CostUSD:        0.0002,
		Attempts:       []inference.Attempt{{Tier: "simple", ModelID: "gpt-3.5-turbo"}},
	}
}

func newFixture() *engineFixture {
	f := &engineFixture{
		gate:      &fakeGate{inputSafe: true, outputSafe: true},
		cache:     newFakeCache(),
		convs:     newFakeConversations(),
		evals:     &fakeEvals{},
		retriever: &fakeRetriever{},
		invoker:   &fakeInvoker{result: goodResult()},
		auditor:   &fakeAuditor{},
	}

	builder := prompt.NewBuilder(config.PromptConfig{
		ContextTokenBudget: 3000,
		SystemReserve:      300,
		HistoryReserve:     600,
		QueryReserve:       200,
		HistoryExchanges:   3,
	})

	f.engine = NewEngine(
		f.gate, f.cache, f.convs, f.evals, f.retriever, f.invoker, f.auditor,
		builder,
		retrieval.RerankConfig{MinChunkWords: 100, ShortChunkPenalty: 0.8, OverlapBoost: 0.3, MaxResults: 5},
		Config{
			RequestTimeout:   10 * time.Second,
			RetrievalTimeout: 2 * time.Second,
			HistoryLimit:     10,
			CacheTTL:         time.Hour,
		},
	)
	return f
}

func TestProcessQuerySuccess(t *testing.T) {
	f := newFixture()

	resp, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "What is S3?"})
	require.NoError(t, err)

	assert.Equal(t, goodResult().Response, resp.Response)
	assert.NotEmpty(t, resp.RequestID)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "gpt-3.5-turbo", resp.ModelUsed)
	assert.Equal(t, "simple", resp.ModelTier)
	assert.False(t, resp.Cached)
	assert.True(t, resp.Governance.GuardrailsApplied)
	assert.True(t, resp.Governance.AuditLogged)
	assert.False(t, resp.Governance.PIIDetected)
	assert.Equal(t, 160, resp.Metadata.Tokens.Total)

	// Both turns persisted.
	turns := f.convs.turns[resp.ConversationID]
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)

	// Exactly one evaluation record.
	assert.Len(t, f.evals.records, 1)

	// Every request emits QUERY_PROCESSED.
	assert.NotEmpty(t, f.auditor.byType(audit.EventQueryProcessed))
}

func TestProcessQueryEmptyQuery(t *testing.T) {
	f := newFixture()

	_, err := f.engine.ProcessQuery(context.Background(), &Request{Query: ""})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Zero(t, f.invoker.calls)
}

func TestProcessQueryInputBlocked(t *testing.T) {
	f := newFixture()
	f.gate.inputSafe = false
	f.gate.inputReason = "violence"

	_, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "something hostile"})

	var blocked *SafetyBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "violence", blocked.Reason)
	assert.NotEmpty(t, blocked.RequestID)

	// No retrieval or inference after an input block.
	assert.Zero(t, f.invoker.calls)
	assert.Empty(t, f.retriever.lastQuery)

	// The block is audited and QUERY_PROCESSED still fires.
	assert.NotEmpty(t, f.auditor.byType(audit.EventContentBlocked))
	assert.NotEmpty(t, f.auditor.byType(audit.EventQueryProcessed))
}

func TestProcessQueryPIIFailureStillAudited(t *testing.T) {
	f := newFixture()
	f.gate.piiErr = context.DeadlineExceeded

	_, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "email me at user@example.com"})

	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Zero(t, f.invoker.calls)

	// Even this fatal path leaves an audit trail before returning.
	assert.NotEmpty(t, f.auditor.byType(audit.EventContentBlocked))
	assert.NotEmpty(t, f.auditor.byType(audit.EventQueryProcessed))
}

func TestProcessQueryInvokerDeadlineReturnsBudgetError(t *testing.T) {
	f := newFixture()
	f.invoker.result = nil
	f.invoker.err = context.DeadlineExceeded

	_, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "What is S3?"})

	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.NotEmpty(t, f.auditor.byType(audit.EventQueryProcessed))
}

func TestProcessQueryCacheHit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := &Request{Query: "What is S3?", ConversationID: "conv-1"}

	first, err := f.engine.ProcessQuery(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := f.engine.ProcessQuery(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Response, second.Response)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.GreaterOrEqual(t, second.Metadata.CacheAgeSeconds, 0)

	// The second call never reached inference.
	assert.Equal(t, 1, f.invoker.calls)
}

func TestProcessQueryCacheKeyNormalization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.engine.ProcessQuery(ctx, &Request{Query: "What is S3?", ConversationID: "conv-1"})
	require.NoError(t, err)

	second, err := f.engine.ProcessQuery(ctx, &Request{Query: "  WHAT IS S3?  ", ConversationID: "conv-1"})
	require.NoError(t, err)

	assert.True(t, second.Cached)
}

func TestProcessQueryPIIRedactionFlowsDownstream(t *testing.T) {
	f := newFixture()
	f.gate.redact = true

	resp, err := f.engine.ProcessQuery(context.Background(), &Request{
		Query: "Email user@example.com about what is S3?",
	})
	require.NoError(t, err)

	assert.True(t, resp.Governance.PIIDetected)

	// Retrieval and prompting see only the redacted text.
	assert.Contains(t, f.retriever.lastQuery, "[EMAIL]")
	assert.NotContains(t, f.retriever.lastQuery, "user@example.com")
	assert.NotContains(t, f.invoker.lastPrompt, "user@example.com")

	// The persisted user turn is the redacted text too.
	turns := f.convs.turns[resp.ConversationID]
	require.NotEmpty(t, turns)
	assert.NotContains(t, turns[0].Content, "user@example.com")

	assert.NotEmpty(t, f.auditor.byType(audit.EventPIIDetected))
}

func TestProcessQueryRetrievalFailureDegrades(t *testing.T) {
	f := newFixture()
	f.retriever.err = errors.New("index unreachable")

	resp, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "What is S3?"})
	require.NoError(t, err)

	assert.Equal(t, 0, resp.Metadata.SourceDocuments)
	assert.Contains(t, f.invoker.lastPrompt, "No relevant context found.")
}

func TestProcessQueryOutputBlocked(t *testing.T) {
	f := newFixture()
	f.gate.outputSafe = false

	resp, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "What is S3?"})
	require.NoError(t, err)

	assert.Equal(t, safety.BlockedResponseMessage, resp.Response)
	assert.NotEmpty(t, f.auditor.byType(audit.EventResponseBlocked))

	// A blocked response is never cached.
	key := cacheKeyFor(t, f, "What is S3?", resp.ConversationID)
	var envelope cacheEnvelope
	hit, err := f.cache.GetResponse(context.Background(), key, &envelope)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestProcessQueryDegradedResponseNotCached(t *testing.T) {
	f := newFixture()
	f.invoker.result = &inference.Result{
		Response: inference.ApologyMessage,
		Tier:     "simple",
		Degraded: true,
		Attempts: []inference.Attempt{{Tier: "simple", Err: errors.New("down")}},
	}

	resp, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "What is S3?", ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, inference.ApologyMessage, resp.Response)

	second, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "What is S3?", ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.False(t, second.Cached)
}

func TestProcessQueryTierSelectionFollowsComplexity(t *testing.T) {
	f := newFixture()

	_, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "What is S3?"})
	require.NoError(t, err)
	assert.Equal(t, "simple", f.invoker.lastTier)

	_, err = f.engine.ProcessQuery(context.Background(), &Request{
		Query: "Compare microservices versus monolith architectures considering scalability",
	})
	require.NoError(t, err)
	assert.Equal(t, "advanced", f.invoker.lastTier)
}

func TestProcessQueryQualityOverallConsistent(t *testing.T) {
	f := newFixture()

	resp, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "What is S3?"})
	require.NoError(t, err)

	s := resp.QualityScores
	expected := s.Relevance*0.25 + s.Coherence*0.15 + s.Completeness*0.20 +
		s.Accuracy*0.20 + s.Conciseness*0.10 + s.Groundedness*0.10
	assert.InDelta(t, expected, s.Overall, 1e-9)
}

func TestProcessQueryDefaultsUserID(t *testing.T) {
	f := newFixture()

	_, err := f.engine.ProcessQuery(context.Background(), &Request{Query: "What is S3?"})
	require.NoError(t, err)

	events := f.auditor.byType(audit.EventQueryProcessed)
	require.NotEmpty(t, events)
	assert.Equal(t, "anonymous", events[0].UserID)
}

func cacheKeyFor(t *testing.T, f *engineFixture, query, conversationID string) string {
	t.Helper()
	// Only one entry can exist per test; find it or report absent.
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	for k := range f.cache.entries {
		return k
	}
	return "absent-" + query + conversationID
}
