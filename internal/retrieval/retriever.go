package retrieval

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/metrics"
	"github.com/knowledge-assistant/backend/pkg/logger"
)

// VectorSearcher runs a similarity query against the vector index.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]Chunk, error)
}

// KeywordSearcher runs a keyword query against the full-text index.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]Chunk, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	MaxResults    int
	VectorWeight  float64
	KeywordWeight float64
}

// Retriever issues the vector and keyword queries concurrently and fuses the
// two result sets. Either leg failing degrades to the surviving set; both
// failing yields an empty candidate list and an error the caller may log,
// since an answer without context beats no answer.
type Retriever struct {
	vector  VectorSearcher
	keyword KeywordSearcher
	emb     Embedder
	cfg     Config
}

func NewRetriever(vector VectorSearcher, keyword KeywordSearcher, emb Embedder, cfg Config) *Retriever {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &Retriever{vector: vector, keyword: keyword, emb: emb, cfg: cfg}
}

func (r *Retriever) Retrieve(ctx context.Context, query string) ([]RankedChunk, error) {
	// Each leg over-fetches so fusion has enough candidates to dedupe and
	// the re-ranker has room to demote.
	fetch := 2 * r.cfg.MaxResults

	var (
		wg         sync.WaitGroup
		vectorHits []Chunk
		keywordHits []Chunk
		vectorErr  error
		keywordErr error
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		embedding, err := r.emb.Embed(ctx, query)
		if err != nil {
			vectorErr = err
			return
		}
		vectorHits, vectorErr = r.vector.Search(ctx, embedding, fetch)
	}()

	go func() {
		defer wg.Done()
		keywordHits, keywordErr = r.keyword.Search(ctx, query, fetch)
	}()

	wg.Wait()

	if vectorErr != nil {
		logger.Warn("Vector retrieval failed", zap.Error(vectorErr))
	}
	if keywordErr != nil {
		logger.Warn("Keyword retrieval failed", zap.Error(keywordErr))
	}

	metrics.VectorResultsCount.Observe(float64(len(vectorHits)))
	metrics.KeywordResultsCount.Observe(float64(len(keywordHits)))

	fused := Fuse(vectorHits, keywordHits, r.cfg.VectorWeight, r.cfg.KeywordWeight, fetch)

	logger.Debug("Hybrid retrieval completed",
		zap.Int("vector_hits", len(vectorHits)),
		zap.Int("keyword_hits", len(keywordHits)),
		zap.Int("fused", len(fused)),
	)

	if vectorErr != nil && keywordErr != nil {
		return fused, errors.Join(vectorErr, keywordErr)
	}
	return fused, nil
}
