package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-assistant/backend/internal/storage/models"
)

func newTestDB(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func TestAppendAndReadHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	turns := []models.ConversationTurn{
		{ConversationID: "c1", Timestamp: base, Role: models.RoleUser, Content: "first question"},
		{ConversationID: "c1", Timestamp: base.Add(time.Second), Role: models.RoleAssistant, Content: "first answer", ModelID: "gpt-4o-mini", Cost: 0.002, LatencyMS: 800},
		{ConversationID: "c1", Timestamp: base.Add(2 * time.Second), Role: models.RoleUser, Content: "second question"},
	}
	for i := range turns {
		require.NoError(t, db.AppendTurn(ctx, &turns[i]))
	}

	history, err := db.History(ctx, "c1", 10)
	require.NoError(t, err)

	require.Len(t, history, 3)
	assert.Equal(t, "first question", history[0].Content)
	assert.Equal(t, "second question", history[2].Content)
	assert.Equal(t, "gpt-4o-mini", history[1].ModelID)
}

func TestHistoryReturnsMostRecentWithinLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 6; i++ {
		turn := models.ConversationTurn{
			ConversationID: "c1",
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			Role:           models.RoleUser,
			Content:        string(rune('a' + i)),
		}
		require.NoError(t, db.AppendTurn(ctx, &turn))
	}

	history, err := db.History(ctx, "c1", 2)
	require.NoError(t, err)

	// Last two turns, still in chronological order.
	require.Len(t, history, 2)
	assert.Equal(t, "e", history[0].Content)
	assert.Equal(t, "f", history[1].Content)
}

func TestHistoryIsolatedPerConversation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.AppendTurn(ctx, &models.ConversationTurn{ConversationID: "c1", Timestamp: now, Role: models.RoleUser, Content: "mine"}))
	require.NoError(t, db.AppendTurn(ctx, &models.ConversationTurn{ConversationID: "c2", Timestamp: now, Role: models.RoleUser, Content: "theirs"}))

	history, err := db.History(ctx, "c1", 10)
	require.NoError(t, err)

	require.Len(t, history, 1)
	assert.Equal(t, "mine", history[0].Content)
}

func TestHistoryEmptyConversation(t *testing.T) {
	db := newTestDB(t)

	history, err := db.History(context.Background(), "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestInsertAuditEvent(t *testing.T) {
	db := newTestDB(t)

	event := &models.AuditEvent{
		ID:        "evt-1",
		RequestID: "req-1",
		EventType: "QUERY_PROCESSED",
		UserID:    "u1",
		Severity:  "INFO",
		Details:   map[string]interface{}{"tier": "simple"},
		Timestamp: time.Now().UTC(),
	}

	require.NoError(t, db.InsertAuditEvent(context.Background(), event))

	// Write-once: a second insert with the same id must fail.
	assert.Error(t, db.InsertAuditEvent(context.Background(), event))
}

func TestInsertEvaluationRecordUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := &models.EvaluationRecord{
		RequestID:       "req-1",
		Query:           "what is s3",
		Response:        "object storage",
		ModelID:         "gpt-3.5-turbo",
		ModelTier:       "simple",
		ComplexityScore: 30,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, db.InsertEvaluationRecord(ctx, rec))

	rec.Response = "updated"
	require.NoError(t, db.InsertEvaluationRecord(ctx, rec))
}

func TestInsertFeedback(t *testing.T) {
	db := newTestDB(t)

	fb := &models.Feedback{
		RequestID: "req-1",
		UserID:    "u1",
		Helpful:   true,
		Rating:    5,
		Comment:   "spot on",
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, db.InsertFeedback(context.Background(), fb))
}
