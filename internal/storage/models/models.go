package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one append-only entry in a conversation's history.
type ConversationTurn struct {
	ConversationID string
	Timestamp      time.Time
	Role           string
	Content        string
	ModelID        string
	Cost           float64
	LatencyMS      int
}

// AuditEvent is written once and never mutated.
type AuditEvent struct {
	ID        string
	RequestID string
	EventType string
	UserID    string
	Severity  string
	Details   map[string]interface{}
	Timestamp time.Time
}

// EvaluationRecord captures per-request cost/quality data for offline
// analysis.
type EvaluationRecord struct {
	RequestID       string
	Query           string
	Response        string
	ModelID         string
	ModelTier       string
	ComplexityScore int
	PromptTokens    int
	ResponseTokens  int
	LatencyMS       int
	CostUSD         float64
	ChunksRetrieved int
	AvgChunkScore   float64
	CreatedAt       time.Time
}

// Feedback is a user's verdict on a served response.
type Feedback struct {
	ID        int64
	RequestID string
	UserID    string
	Helpful   bool
	Rating    int
	Comment   string
	CreatedAt time.Time
}
