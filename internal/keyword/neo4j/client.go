package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/retrieval"
	"github.com/knowledge-assistant/backend/pkg/logger"
)

// Client queries the Lucene full-text index over document chunk nodes. The
// index gives BM25-style scores, which serves as the keyword leg of hybrid
// retrieval.
type Client struct {
	driver    neo4j.DriverWithContext
	database  string
	indexName string
}

func NewClient(uri, username, password, database, indexName string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	logger.Info("Neo4j keyword index client initialized",
		zap.String("uri", uri),
		zap.String("index", indexName),
	)

	return &Client{
		driver:    driver,
		database:  database,
		indexName: indexName,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// EnsureIndex creates the full-text index over chunk text if it is missing.
func (c *Client) EnsureIndex(ctx context.Context) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
	defer session.Close(ctx)

	query := fmt.Sprintf(
		"CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (c:Chunk) ON EACH [c.text]",
		c.indexName,
	)

	if _, err := session.Run(ctx, query, nil); err != nil {
		return fmt.Errorf("failed to ensure fulltext index: %w", err)
	}

	return nil
}

// Search implements retrieval.KeywordSearcher.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]retrieval.Chunk, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	cypher := `
		CALL db.index.fulltext.queryNodes($index, $query)
		YIELD node, score
		RETURN node.chunk_id AS chunk_id,
		       node.document_id AS document_id,
		       node.text AS text,
		       score
		LIMIT $limit
	`

	result, err := session.Run(ctx, cypher, map[string]interface{}{
		"index": c.indexName,
		"query": sanitizeLucene(query),
		"limit": topK,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	chunks := make([]retrieval.Chunk, 0, topK)
	for result.Next(ctx) {
		record := result.Record()

		chunkID, _ := record.Get("chunk_id")
		docID, _ := record.Get("document_id")
		text, _ := record.Get("text")
		score, _ := record.Get("score")

		chunk := retrieval.Chunk{
			Source: retrieval.SourceKeyword,
		}
		if s, ok := chunkID.(string); ok {
			chunk.ID = s
		}
		if s, ok := docID.(string); ok {
			chunk.DocumentID = s
		}
		if s, ok := text.(string); ok {
			chunk.Text = s
		}
		if f, ok := score.(float64); ok {
			chunk.Score = f
		}

		chunks = append(chunks, chunk)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	logger.Debug("Keyword search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(chunks)),
	)

	return chunks, nil
}

// sanitizeLucene strips characters that the Lucene query parser treats as
// operators, so raw user text cannot break the query.
func sanitizeLucene(q string) string {
	out := make([]rune, 0, len(q))
	for _, r := range q {
		switch r {
		case '+', '-', '&', '|', '!', '(', ')', '{', '}', '[', ']', '^', '"', '~', '*', '?', ':', '\\', '/':
			out = append(out, ' ')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
