package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/storage/models"
	"github.com/knowledge-assistant/backend/internal/storage/sqlite"
)

// SQLiteSink persists events to the audit_events table for queryable history.
type SQLiteSink struct {
	db *sqlite.Client
}

func NewSQLiteSink(db *sqlite.Client) *SQLiteSink {
	return &SQLiteSink{db: db}
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Write(ctx context.Context, event *models.AuditEvent) error {
	return s.db.InsertAuditEvent(ctx, event)
}

// LogSink writes events to the structured log stream, so the audit trail is
// visible alongside request logs without touching storage.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, event *models.AuditEvent) error {
	s.log.Info("audit_event",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("severity", event.Severity),
		zap.String("request_id", event.RequestID),
		zap.String("user_id", event.UserID),
		zap.Any("details", event.Details),
		zap.Time("event_time", event.Timestamp),
	)
	return nil
}

// ArchiveSink appends events as JSON lines to a daily file for durable
// long-term retention. Files roll over at UTC midnight.
type ArchiveSink struct {
	dir string

	mu       sync.Mutex
	file     *os.File
	fileDate string
}

func NewArchiveSink(dir string) (*ArchiveSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &ArchiveSink{dir: dir}, nil
}

func (s *ArchiveSink) Name() string { return "archive" }

func (s *ArchiveSink) Write(_ context.Context, event *models.AuditEvent) error {
	line, err := json.Marshal(archiveRecord{
		ID:        event.ID,
		RequestID: event.RequestID,
		EventType: event.EventType,
		UserID:    event.UserID,
		Severity:  event.Severity,
		Details:   event.Details,
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.currentFile(event.Timestamp)
	if err != nil {
		return err
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (s *ArchiveSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// currentFile returns the open handle for the event's UTC date, rotating when
// the date changes. Caller holds s.mu.
func (s *ArchiveSink) currentFile(ts time.Time) (*os.File, error) {
	date := ts.UTC().Format("2006-01-02")
	if s.file != nil && s.fileDate == date {
		return s.file, nil
	}

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	path := filepath.Join(s.dir, "audit-"+date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}

	s.file = f
	s.fileDate = date
	return f, nil
}

type archiveRecord struct {
	ID        string                 `json:"id"`
	RequestID string                 `json:"request_id,omitempty"`
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id,omitempty"`
	Severity  string                 `json:"severity"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}
