package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tier"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	ComplexityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_complexity_score",
			Help:    "Query complexity scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	TierSelected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_tier_selected_total",
			Help: "Model tier selection counts",
		},
		[]string{"tier"},
	)

	TierFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_tier_fallbacks_total",
			Help: "Fallback invocations after a tier failure",
		},
		[]string{"from_tier", "to_tier"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_llm_cost_usd",
			Help: "Estimated LLM API cost in USD",
		},
		[]string{"model"},
	)

	VectorResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_vector_results_count",
			Help:    "Number of vector results per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	KeywordResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_keyword_results_count",
			Help:    "Number of keyword results per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	QualityScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_quality_score",
			Help:    "Response quality scores by dimension",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"dimension"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	SafetyBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_safety_blocks_total",
			Help: "Content blocked by safety guardrails",
		},
		[]string{"direction"},
	)

	PIIDetections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_pii_detections_total",
			Help: "Requests where PII was detected and redacted",
		},
	)

	UserSatisfaction = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_satisfaction_score",
			Help: "User feedback satisfaction score",
		},
		[]string{"helpful"},
	)

	AuditEventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_audit_events_total",
			Help: "Audit events emitted by type",
		},
		[]string{"event_type", "severity"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(ComplexityScore)
	prometheus.MustRegister(TierSelected)
	prometheus.MustRegister(TierFallbacks)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(LLMCost)
	prometheus.MustRegister(VectorResultsCount)
	prometheus.MustRegister(KeywordResultsCount)
	prometheus.MustRegister(QualityScore)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(SafetyBlocks)
	prometheus.MustRegister(PIIDetections)
	prometheus.MustRegister(UserSatisfaction)
	prometheus.MustRegister(AuditEventsEmitted)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
