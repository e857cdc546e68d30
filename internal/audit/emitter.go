package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/storage/models"
	"github.com/knowledge-assistant/backend/pkg/logger"
)

const (
	EventQueryProcessed   = "QUERY_PROCESSED"
	EventPIIDetected      = "PII_DETECTED"
	EventContentBlocked   = "CONTENT_BLOCKED"
	EventResponseBlocked  = "RESPONSE_BLOCKED"
	EventGuardrailBlocked = "GUARDRAIL_BLOCKED"
)

const (
	SeverityInfo     = "INFO"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Sink receives a finalized audit event. Sinks must tolerate concurrent
// calls.
type Sink interface {
	Write(ctx context.Context, event *models.AuditEvent) error
	Name() string
}

// Alerter escalates high-severity events to an external channel.
type Alerter interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Emitter fans audit events out to every configured sink. Delivery is best
// effort: a failed sink is logged and skipped, never blocking the request or
// the other sinks. Events are immutable once emitted.
type Emitter struct {
	sinks        []Sink
	alerter      Alerter
	alertChannel string
}

func NewEmitter(sinks []Sink, alerter Alerter, alertChannel string) *Emitter {
	return &Emitter{
		sinks:        sinks,
		alerter:      alerter,
		alertChannel: alertChannel,
	}
}

// Emit assigns the event an ID and timestamp if missing, writes it to all
// sinks concurrently, and escalates HIGH and CRITICAL events to the alert
// channel. Emit never returns an error: auditing must not fail a request.
func (e *Emitter) Emit(ctx context.Context, event *models.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	var wg sync.WaitGroup
	for _, sink := range e.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Write(ctx, event); err != nil {
				logger.Error("Audit sink write failed",
					zap.String("sink", s.Name()),
					zap.String("event_id", event.ID),
					zap.String("event_type", event.EventType),
					zap.Error(err),
				)
			}
		}(sink)
	}
	wg.Wait()

	if event.Severity == SeverityHigh || event.Severity == SeverityCritical {
		e.alert(ctx, event)
	}
}

func (e *Emitter) alert(ctx context.Context, event *models.AuditEvent) {
	if e.alerter == nil {
		return
	}

	payload := map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.EventType,
		"severity":   event.Severity,
		"request_id": event.RequestID,
		"timestamp":  event.Timestamp.Format(time.RFC3339),
		"details":    event.Details,
	}

	if err := e.alerter.Publish(ctx, e.alertChannel, payload); err != nil {
		logger.Error("Failed to publish audit alert",
			zap.String("event_id", event.ID),
			zap.String("channel", e.alertChannel),
			zap.Error(err),
		)
	}
}
