package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Milvus    MilvusConfig
	Neo4j     Neo4jConfig
	SQLite    SQLiteConfig
	LLM       LLMConfig
	Tiers     TiersConfig
	Retrieval RetrievalConfig
	Prompt    PromptConfig
	Cache     CacheConfig
	Safety    SafetyConfig
	Audit     AuditConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type Neo4jConfig struct {
	URI           string
	Username      string
	Password      string
	Database      string
	FulltextIndex string
}

type SQLiteConfig struct {
	Path string
}

type LLMConfig struct {
	APIKey         string
	EmbeddingModel string
	EmbeddingDim   int
	TimeoutSec     int
}

// TierConfig describes one inference tier. The three records are loaded once
// at startup and treated as immutable afterwards.
type TierConfig struct {
	ModelID         string
	MaxTokens       int
	Temperature     float32
	CostPer1KInput  float64
	CostPer1KOutput float64
}

type TiersConfig struct {
	Simple   TierConfig
	Standard TierConfig
	Advanced TierConfig
}

type RetrievalConfig struct {
	MaxResults        int
	VectorWeight      float64
	KeywordWeight     float64
	MinChunkWords     int
	ShortChunkPenalty float64
	OverlapBoost      float64
	TimeoutSec        int
}

type PromptConfig struct {
	ContextTokenBudget int
	SystemReserve      int
	HistoryReserve     int
	QueryReserve       int
	HistoryExchanges   int
}

type CacheConfig struct {
	ResponseTTLSec  int
	EmbeddingTTLSec int
}

type SafetyConfig struct {
	Enabled    bool
	TimeoutSec int
}

type AuditConfig struct {
	ArchiveDir   string
	AlertChannel string
}

type PipelineConfig struct {
	RequestTimeoutSec int
	HistoryLimit      int
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/knowledge-assistant")

	viper.SetEnvPrefix("KA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "knowledge_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")
	viper.SetDefault("neo4j.fulltextIndex", "chunk_text")

	viper.SetDefault("sqlite.path", "./data/assistant.db")

	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("tiers.simple.modelID", "gpt-3.5-turbo")
	viper.SetDefault("tiers.simple.maxTokens", 1000)
	viper.SetDefault("tiers.simple.temperature", 0.2)
	viper.SetDefault("tiers.simple.costPer1KInput", 0.00025)
	viper.SetDefault("tiers.simple.costPer1KOutput", 0.00125)

	viper.SetDefault("tiers.standard.modelID", "gpt-4o-mini")
	viper.SetDefault("tiers.standard.maxTokens", 2000)
	viper.SetDefault("tiers.standard.temperature", 0.7)
	viper.SetDefault("tiers.standard.costPer1KInput", 0.001)
	viper.SetDefault("tiers.standard.costPer1KOutput", 0.004)

	viper.SetDefault("tiers.advanced.modelID", "gpt-4o")
	viper.SetDefault("tiers.advanced.maxTokens", 4000)
	viper.SetDefault("tiers.advanced.temperature", 0.7)
	viper.SetDefault("tiers.advanced.costPer1KInput", 0.005)
	viper.SetDefault("tiers.advanced.costPer1KOutput", 0.015)

	viper.SetDefault("retrieval.maxResults", 5)
	viper.SetDefault("retrieval.vectorWeight", 0.7)
	viper.SetDefault("retrieval.keywordWeight", 0.3)
	viper.SetDefault("retrieval.minChunkWords", 100)
	viper.SetDefault("retrieval.shortChunkPenalty", 0.8)
	viper.SetDefault("retrieval.overlapBoost", 0.3)
	viper.SetDefault("retrieval.timeoutSec", 8)

	viper.SetDefault("prompt.contextTokenBudget", 3000)
	viper.SetDefault("prompt.systemReserve", 300)
	viper.SetDefault("prompt.historyReserve", 600)
	viper.SetDefault("prompt.queryReserve", 200)
	viper.SetDefault("prompt.historyExchanges", 3)

	viper.SetDefault("cache.responseTTLSec", 3600)
	viper.SetDefault("cache.embeddingTTLSec", 86400)

	viper.SetDefault("safety.enabled", true)
	viper.SetDefault("safety.timeoutSec", 5)

	viper.SetDefault("audit.archiveDir", "./data/audit-archive")
	viper.SetDefault("audit.alertChannel", "audit:alerts")

	viper.SetDefault("pipeline.requestTimeoutSec", 30)
	viper.SetDefault("pipeline.historyLimit", 10)

	viper.SetDefault("ratelimit.maxRequestsPerMinute", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
