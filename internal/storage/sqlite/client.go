package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/storage/models"
	"github.com/knowledge-assistant/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		model_id TEXT,
		cost REAL,
		latency_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON conversation_turns(conversation_id, ts);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		request_id TEXT,
		event_type TEXT NOT NULL,
		user_id TEXT,
		severity TEXT NOT NULL,
		details TEXT,
		ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type, ts);
	CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_events(request_id);

	CREATE TABLE IF NOT EXISTS evaluation_records (
		request_id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		response TEXT,
		model_id TEXT,
		model_tier TEXT,
		complexity_score INTEGER,
		prompt_tokens INTEGER,
		response_tokens INTEGER,
		latency_ms INTEGER,
		cost_usd REAL,
		chunks_retrieved INTEGER,
		avg_chunk_score REAL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		user_id TEXT,
		helpful INTEGER,
		rating INTEGER,
		comment TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_request ON feedback(request_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// AppendTurn appends one turn to a conversation. Turns are never updated or
// deleted.
func (c *Client) AppendTurn(ctx context.Context, turn *models.ConversationTurn) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (conversation_id, ts, role, content, model_id, cost, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ConversationID,
		turn.Timestamp.Unix(),
		turn.Role,
		turn.Content,
		turn.ModelID,
		turn.Cost,
		turn.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("failed to append conversation turn: %w", err)
	}
	return nil
}

// History returns the most recent turns of a conversation in chronological
// order.
func (c *Client) History(ctx context.Context, conversationID string, limit int) ([]models.ConversationTurn, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT conversation_id, ts, role, content, model_id, cost, latency_ms
		FROM (
			SELECT * FROM conversation_turns
			WHERE conversation_id = ?
			ORDER BY ts DESC, id DESC
			LIMIT ?
		)
		ORDER BY ts ASC, id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation history: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		var ts int64
		if err := rows.Scan(&t.ConversationID, &ts, &t.Role, &t.Content, &t.ModelID, &t.Cost, &t.LatencyMS); err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		t.Timestamp = time.Unix(ts, 0)
		turns = append(turns, t)
	}

	return turns, rows.Err()
}

// InsertAuditEvent stores one immutable audit event.
func (c *Client) InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		details = []byte("{}")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, request_id, event_type, user_id, severity, details, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.RequestID,
		event.EventType,
		event.UserID,
		event.Severity,
		string(details),
		event.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (c *Client) InsertEvaluationRecord(ctx context.Context, rec *models.EvaluationRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO evaluation_records
		(request_id, query, response, model_id, model_tier, complexity_score,
		 prompt_tokens, response_tokens, latency_ms, cost_usd, chunks_retrieved, avg_chunk_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		rec.Query,
		rec.Response,
		rec.ModelID,
		rec.ModelTier,
		rec.ComplexityScore,
		rec.PromptTokens,
		rec.ResponseTokens,
		rec.LatencyMS,
		rec.CostUSD,
		rec.ChunksRetrieved,
		rec.AvgChunkScore,
		rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation record: %w", err)
	}
	return nil
}

func (c *Client) InsertFeedback(ctx context.Context, fb *models.Feedback) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO feedback (request_id, user_id, helpful, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fb.RequestID,
		fb.UserID,
		fb.Helpful,
		fb.Rating,
		fb.Comment,
		fb.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}
