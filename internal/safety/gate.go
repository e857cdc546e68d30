package safety

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/pkg/logger"
)

// BlockedResponseMessage replaces any response that fails the output check.
// The underlying unsafe response is never surfaced.
const BlockedResponseMessage = "I apologize, but I cannot provide this response due to content safety policies."

// BlockedRequestMessage is returned to callers whose input fails the gate.
const BlockedRequestMessage = "Content blocked by safety guardrails"

type Decision struct {
	Safe   bool
	Reason string
}

// Gate validates request and response content against an external moderation
// classifier and detects/redacts PII. Classifier errors fail open so that an
// unavailable safety service does not take the assistant down; a timeout is
// surfaced to the caller, which treats it as fatal for the request.
type Gate struct {
	api     *openai.Client
	enabled bool
	timeout time.Duration
	pii     *piiDetector
}

func NewGate(apiKey string, enabled bool, timeout time.Duration) *Gate {
	return &Gate{
		api:     openai.NewClient(apiKey),
		enabled: enabled,
		timeout: timeout,
		pii:     newPIIDetector(),
	}
}

func (g *Gate) CheckInput(ctx context.Context, text string) (Decision, error) {
	return g.moderate(ctx, text, "input")
}

func (g *Gate) CheckOutput(ctx context.Context, text string) (Decision, error) {
	return g.moderate(ctx, text, "output")
}

func (g *Gate) moderate(ctx context.Context, text, direction string) (Decision, error) {
	if !g.enabled {
		return Decision{Safe: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.api.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: openai.ModerationTextStable,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Decision{}, fmt.Errorf("safety check timed out: %w", err)
		}
		// Fail open: availability over strictness when the classifier is
		// unreachable. The degradation is still visible in the logs.
		logger.Warn("Safety classifier unavailable, failing open",
			zap.String("direction", direction),
			zap.Error(err),
		)
		return Decision{Safe: true}, nil
	}

	if len(resp.Results) == 0 || !resp.Results[0].Flagged {
		return Decision{Safe: true}, nil
	}

	reason := flaggedCategories(resp.Results[0])
	logger.Warn("Content flagged by safety classifier",
		zap.String("direction", direction),
		zap.String("categories", reason),
	)

	return Decision{Safe: false, Reason: reason}, nil
}

func flaggedCategories(result openai.Result) string {
	var cats []string
	c := result.Categories
	if c.Hate || c.HateThreatening {
		cats = append(cats, "hate")
	}
	if c.SelfHarm {
		cats = append(cats, "self-harm")
	}
	if c.Sexual || c.SexualMinors {
		cats = append(cats, "sexual")
	}
	if c.Violence || c.ViolenceGraphic {
		cats = append(cats, "violence")
	}
	if len(cats) == 0 {
		return "flagged"
	}
	return strings.Join(cats, ",")
}
