package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/audit"
	"github.com/knowledge-assistant/backend/internal/complexity"
	"github.com/knowledge-assistant/backend/internal/inference"
	"github.com/knowledge-assistant/backend/internal/metrics"
	"github.com/knowledge-assistant/backend/internal/prompt"
	"github.com/knowledge-assistant/backend/internal/quality"
	"github.com/knowledge-assistant/backend/internal/retrieval"
	"github.com/knowledge-assistant/backend/internal/safety"
	"github.com/knowledge-assistant/backend/internal/storage/models"
	"github.com/knowledge-assistant/backend/pkg/logger"
	"github.com/knowledge-assistant/backend/pkg/utils"
)

type Request struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Stream         bool   `json:"stream"`
}

type Governance struct {
	GuardrailsApplied bool `json:"guardrails_applied"`
	PIIDetected       bool `json:"pii_detected"`
	AuditLogged       bool `json:"audit_logged"`
}

type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

type Metadata struct {
	LatencyMS       int     `json:"latency_ms"`
	CostUSD         float64 `json:"cost_usd"`
	SourceDocuments int     `json:"source_documents"`
	Tokens          Tokens  `json:"tokens"`
	CacheAgeSeconds int     `json:"cache_age_seconds,omitempty"`
}

type Response struct {
	Response        string         `json:"response"`
	ConversationID  string         `json:"conversation_id"`
	RequestID       string         `json:"request_id"`
	ModelUsed       string         `json:"model_used"`
	ModelTier       string         `json:"model_tier"`
	ComplexityScore int            `json:"complexity_score"`
	Cached          bool           `json:"cached"`
	Governance      Governance     `json:"governance"`
	QualityScores   quality.Scores `json:"quality_scores"`
	Metadata        Metadata       `json:"metadata"`
}

// cacheEnvelope is what actually sits in the response cache. CreatedAt feeds
// the cache_age_seconds field on a hit.
type cacheEnvelope struct {
	Response  Response  `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

type SafetyGate interface {
	CheckInput(ctx context.Context, text string) (safety.Decision, error)
	CheckOutput(ctx context.Context, text string) (safety.Decision, error)
	DetectAndRedactPII(ctx context.Context, text string) (safety.PIIResult, error)
}

type ResponseCache interface {
	GetResponse(ctx context.Context, key string, out interface{}) (bool, error)
	SetResponse(ctx context.Context, key string, payload interface{}, ttl time.Duration) error
}

type ConversationStore interface {
	AppendTurn(ctx context.Context, turn *models.ConversationTurn) error
	History(ctx context.Context, conversationID string, limit int) ([]models.ConversationTurn, error)
}

type EvaluationStore interface {
	InsertEvaluationRecord(ctx context.Context, rec *models.EvaluationRecord) error
}

type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.RankedChunk, error)
}

type ModelInvoker interface {
	Invoke(ctx context.Context, tier, promptText string) (*inference.Result, error)
}

type Auditor interface {
	Emit(ctx context.Context, event *models.AuditEvent)
}

type Config struct {
	RequestTimeout   time.Duration
	RetrievalTimeout time.Duration
	HistoryLimit     int
	CacheTTL         time.Duration
}

// Engine runs the per-request pipeline: safety gate, cache, history,
// complexity scoring, hybrid retrieval, re-ranking, context budgeting, prompt
// assembly, tiered inference, output safety, quality scoring, persistence,
// audit. Each request is an independent invocation; the engine holds no
// per-request state.
type Engine struct {
	gate      SafetyGate
	cache     ResponseCache
	convs     ConversationStore
	evals     EvaluationStore
	retriever ContextRetriever
	invoker   ModelInvoker
	auditor   Auditor
	builder   *prompt.Builder
	rerankCfg retrieval.RerankConfig
	cfg       Config
}

func NewEngine(
	gate SafetyGate,
	cache ResponseCache,
	convs ConversationStore,
	evals EvaluationStore,
	retriever ContextRetriever,
	invoker ModelInvoker,
	auditor Auditor,
	builder *prompt.Builder,
	rerankCfg retrieval.RerankConfig,
	cfg Config,
) *Engine {
	return &Engine{
		gate:      gate,
		cache:     cache,
		convs:     convs,
		evals:     evals,
		retriever: retriever,
		invoker:   invoker,
		auditor:   auditor,
		builder:   builder,
		rerankCfg: rerankCfg,
		cfg:       cfg,
	}
}

// ProcessQuery runs one request through the full pipeline. SafetyBlockedError
// and ValidationError are the only caller-visible failures besides
// ErrBudgetExceeded; everything else degrades inside the pipeline.
func (e *Engine) ProcessQuery(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if req.Query == "" {
		return nil, &ValidationError{Field: "query", Msg: "is required"}
	}

	requestID := uuid.New().String()
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	log := logger.GetLogger().With(
		zap.String("request_id", requestID),
		zap.String("conversation_id", conversationID),
	)
	log.Info("Processing query", zap.Int("query_length", len(req.Query)))

	// Input safety. A gate timeout is fatal for the request; every other
	// classifier failure fails open inside the gate.
	decision, err := e.gate.CheckInput(ctx, req.Query)
	if err != nil {
		e.emitBlockedAudit(requestID, userID, audit.EventContentBlocked, "safety check timed out")
		return nil, ErrBudgetExceeded
	}
	if !decision.Safe {
		metrics.SafetyBlocks.WithLabelValues("input").Inc()
		e.emitBlockedAudit(requestID, userID, audit.EventContentBlocked, decision.Reason)
		return nil, &SafetyBlockedError{RequestID: requestID, Reason: decision.Reason}
	}

	// The redacted query drives retrieval and prompting; the original text
	// only survives in the audit trail.
	pii, err := e.gate.DetectAndRedactPII(ctx, req.Query)
	if err != nil {
		e.emitBlockedAudit(requestID, userID, audit.EventContentBlocked, "pii detection timed out")
		return nil, ErrBudgetExceeded
	}
	workingQuery := req.Query
	if pii.HasPII {
		workingQuery = pii.RedactedText
		metrics.PIIDetections.Inc()
		e.auditor.Emit(context.WithoutCancel(ctx), &models.AuditEvent{
			RequestID: requestID,
			EventType: audit.EventPIIDetected,
			UserID:    userID,
			Severity:  audit.SeverityHigh,
			Details: map[string]interface{}{
				"pii_types":    pii.Types,
				"query_length": len(req.Query),
			},
		})
	}

	cacheKey := utils.QueryCacheKey(req.Query, conversationID)
	if cached := e.lookupCache(ctx, cacheKey); cached != nil {
		metrics.CacheHits.WithLabelValues("response").Inc()
		metrics.QueryTotal.WithLabelValues("cached").Inc()

		resp := cached.Response
		resp.RequestID = requestID
		resp.Cached = true
		resp.Governance.PIIDetected = pii.HasPII
		resp.Metadata.LatencyMS = int(time.Since(start).Milliseconds())
		resp.Metadata.CacheAgeSeconds = int(time.Since(cached.CreatedAt).Seconds())

		e.emitProcessedAudit(requestID, userID, resp.ModelTier, true, pii.HasPII, false, 0)
		log.Info("Cache hit", zap.Int("age_seconds", resp.Metadata.CacheAgeSeconds))
		return &resp, nil
	}
	metrics.CacheMisses.WithLabelValues("response").Inc()

	history, err := e.convs.History(ctx, conversationID, e.cfg.HistoryLimit)
	if err != nil {
		log.Warn("Failed to load conversation history", zap.Error(err))
		history = nil
	}

	analysis := complexity.Analyze(workingQuery)
	tier := complexity.SelectTier(analysis.Score, len(history))
	metrics.ComplexityScore.Observe(float64(analysis.Score))
	metrics.TierSelected.WithLabelValues(tier).Inc()
	log.Info("Complexity analyzed",
		zap.Int("score", analysis.Score),
		zap.String("tier", tier),
		zap.Strings("factors", analysis.Factors),
	)

	chunks := e.retrieveContext(ctx, workingQuery, log)
	ranked := retrieval.Rerank(workingQuery, chunks, e.rerankCfg)
	selected := prompt.SelectWithinBudget(ranked, e.builder.ContextBudget())

	promptText := e.builder.Build(workingQuery, selected, history)

	result, err := e.invoker.Invoke(ctx, tier, promptText)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			e.emitBlockedAudit(requestID, userID, audit.EventQueryProcessed, "deadline exceeded")
			return nil, ErrBudgetExceeded
		}
		return nil, err
	}
	recordInvocation(result)

	finalResponse := result.Response
	outputBlocked := false
	if !result.Degraded {
		outDecision, err := e.gate.CheckOutput(ctx, finalResponse)
		if err != nil {
			e.emitBlockedAudit(requestID, userID, audit.EventResponseBlocked, "safety check timed out")
			return nil, ErrBudgetExceeded
		}
		if !outDecision.Safe {
			outputBlocked = true
			finalResponse = safety.BlockedResponseMessage
			metrics.SafetyBlocks.WithLabelValues("output").Inc()
			e.auditor.Emit(context.WithoutCancel(ctx), &models.AuditEvent{
				RequestID: requestID,
				EventType: audit.EventResponseBlocked,
				UserID:    userID,
				Severity:  audit.SeverityHigh,
				Details:   map[string]interface{}{"reason": outDecision.Reason},
			})
		}
	}

	scores := quality.Evaluate(workingQuery, finalResponse, selected)
	recordQuality(scores)

	latencyMS := int(time.Since(start).Milliseconds())

	resp := &Response{
		Response:        finalResponse,
		ConversationID:  conversationID,
		RequestID:       requestID,
		ModelUsed:       result.ModelID,
		ModelTier:       result.Tier,
		ComplexityScore: analysis.Score,
		Cached:          false,
		Governance: Governance{
			GuardrailsApplied: true,
			PIIDetected:       pii.HasPII,
			AuditLogged:       true,
		},
		QualityScores: scores,
		Metadata: Metadata{
			LatencyMS:       latencyMS,
			CostUSD:         result.CostUSD,
			SourceDocuments: len(selected),
			Tokens: Tokens{
				Input:  result.PromptTokens,
				Output: result.ResponseTokens,
				Total:  result.PromptTokens + result.ResponseTokens,
			},
		},
	}

	// Persistence is off the critical path: failures are logged, never
	// surfaced. The persisted user turn is the redacted text.
	persistCtx := context.WithoutCancel(ctx)
	e.persistTurns(persistCtx, conversationID, workingQuery, resp, result, latencyMS, log)
	e.persistEvaluation(persistCtx, requestID, workingQuery, resp, result, analysis.Score, selected, latencyMS, log)

	if !result.Degraded && !outputBlocked {
		envelope := cacheEnvelope{Response: *resp, CreatedAt: time.Now().UTC()}
		if err := e.cache.SetResponse(persistCtx, cacheKey, envelope, e.cfg.CacheTTL); err != nil {
			log.Warn("Failed to write response cache", zap.Error(err))
		}
	}

	e.emitProcessedAudit(requestID, userID, result.Tier, false, pii.HasPII, outputBlocked, result.CostUSD)
	metrics.QueryTotal.WithLabelValues(queryStatus(result, outputBlocked)).Inc()
	metrics.QueryDuration.WithLabelValues(result.Tier).Observe(time.Since(start).Seconds())

	log.Info("Query processed",
		zap.String("tier", result.Tier),
		zap.String("model", result.ModelID),
		zap.Int("latency_ms", latencyMS),
		zap.Float64("cost_usd", result.CostUSD),
		zap.Float64("quality", scores.Overall),
	)

	return resp, nil
}

func (e *Engine) lookupCache(ctx context.Context, key string) *cacheEnvelope {
	var envelope cacheEnvelope
	hit, err := e.cache.GetResponse(ctx, key, &envelope)
	if err != nil {
		logger.Warn("Cache lookup failed", zap.Error(err))
		return nil
	}
	if !hit {
		return nil
	}
	return &envelope
}

// retrieveContext runs hybrid retrieval under its own sub-timeout. A failed
// or timed-out retrieval degrades to an empty context set: an answer without
// context beats no answer.
func (e *Engine) retrieveContext(ctx context.Context, query string, log *zap.Logger) []retrieval.RankedChunk {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RetrievalTimeout)
	defer cancel()

	chunks, err := e.retriever.Retrieve(ctx, query)
	if err != nil {
		log.Warn("Retrieval failed, continuing without context", zap.Error(err))
		return nil
	}
	return chunks
}

func (e *Engine) persistTurns(ctx context.Context, conversationID, query string, resp *Response, result *inference.Result, latencyMS int, log *zap.Logger) {
	now := time.Now().UTC()

	userTurn := &models.ConversationTurn{
		ConversationID: conversationID,
		Timestamp:      now,
		Role:           models.RoleUser,
		Content:        query,
	}
	if err := e.convs.AppendTurn(ctx, userTurn); err != nil {
		log.Warn("Failed to append user turn", zap.Error(err))
	}

	assistantTurn := &models.ConversationTurn{
		ConversationID: conversationID,
		Timestamp:      now,
		Role:           models.RoleAssistant,
		Content:        resp.Response,
		ModelID:        result.ModelID,
		Cost:           result.CostUSD,
		LatencyMS:      latencyMS,
	}
	if err := e.convs.AppendTurn(ctx, assistantTurn); err != nil {
		log.Warn("Failed to append assistant turn", zap.Error(err))
	}
}

func (e *Engine) persistEvaluation(ctx context.Context, requestID, query string, resp *Response, result *inference.Result, score int, selected []retrieval.RankedChunk, latencyMS int, log *zap.Logger) {
	avgScore := 0.0
	if len(selected) > 0 {
		for _, c := range selected {
			avgScore += c.AdjustedScore
		}
		avgScore /= float64(len(selected))
	}

	rec := &models.EvaluationRecord{
		RequestID:       requestID,
		Query:           query,
		Response:        resp.Response,
		ModelID:         result.ModelID,
		ModelTier:       result.Tier,
		ComplexityScore: score,
		PromptTokens:    result.PromptTokens,
		ResponseTokens:  result.ResponseTokens,
		LatencyMS:       latencyMS,
		CostUSD:         result.CostUSD,
		ChunksRetrieved: len(selected),
		AvgChunkScore:   avgScore,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.evals.InsertEvaluationRecord(ctx, rec); err != nil {
		log.Warn("Failed to persist evaluation record", zap.Error(err))
	}
}

// emitProcessedAudit logs the QUERY_PROCESSED event every request produces,
// whatever path it took. Severity escalates when PII or an output block was
// involved.
func (e *Engine) emitProcessedAudit(requestID, userID, tier string, cached, hasPII, blocked bool, cost float64) {
	severity := audit.SeverityInfo
	if hasPII || blocked {
		severity = audit.SeverityHigh
	}

	e.auditor.Emit(context.Background(), &models.AuditEvent{
		RequestID: requestID,
		EventType: audit.EventQueryProcessed,
		UserID:    userID,
		Severity:  severity,
		Details: map[string]interface{}{
			"tier":           tier,
			"cache_hit":      cached,
			"pii_detected":   hasPII,
			"output_blocked": blocked,
			"cost_usd":       cost,
		},
	})
	metrics.AuditEventsEmitted.WithLabelValues(audit.EventQueryProcessed, severity).Inc()
}

// emitBlockedAudit covers the fatal paths; every one still leaves an audit
// trail before the error is returned.
func (e *Engine) emitBlockedAudit(requestID, userID, eventType, reason string) {
	e.auditor.Emit(context.Background(), &models.AuditEvent{
		RequestID: requestID,
		EventType: eventType,
		UserID:    userID,
		Severity:  audit.SeverityHigh,
		Details:   map[string]interface{}{"reason": reason},
	})
	metrics.AuditEventsEmitted.WithLabelValues(eventType, audit.SeverityHigh).Inc()

	e.emitProcessedAudit(requestID, userID, "", false, false, true, 0)
}

func recordInvocation(result *inference.Result) {
	for i := 1; i < len(result.Attempts); i++ {
		metrics.TierFallbacks.WithLabelValues(result.Attempts[i-1].Tier, result.Attempts[i].Tier).Inc()
	}
	if result.ModelID != "" {
		metrics.LLMTokensUsed.WithLabelValues(result.ModelID, "input").Add(float64(result.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(result.ModelID, "output").Add(float64(result.ResponseTokens))
		metrics.LLMCost.WithLabelValues(result.ModelID).Add(result.CostUSD)
	}
}

func recordQuality(scores quality.Scores) {
	metrics.QualityScore.WithLabelValues("relevance").Observe(scores.Relevance)
	metrics.QualityScore.WithLabelValues("coherence").Observe(scores.Coherence)
	metrics.QualityScore.WithLabelValues("completeness").Observe(scores.Completeness)
	metrics.QualityScore.WithLabelValues("accuracy").Observe(scores.Accuracy)
	metrics.QualityScore.WithLabelValues("conciseness").Observe(scores.Conciseness)
	metrics.QualityScore.WithLabelValues("groundedness").Observe(scores.Groundedness)
	metrics.QualityScore.WithLabelValues("overall").Observe(scores.Overall)
}

func queryStatus(result *inference.Result, outputBlocked bool) string {
	switch {
	case result.Degraded:
		return "degraded"
	case outputBlocked:
		return "blocked"
	default:
		return "success"
	}
}
