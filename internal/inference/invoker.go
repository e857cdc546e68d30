package inference

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/complexity"
	"github.com/knowledge-assistant/backend/internal/prompt"
	"github.com/knowledge-assistant/backend/pkg/circuitbreaker"
	"github.com/knowledge-assistant/backend/pkg/config"
	"github.com/knowledge-assistant/backend/pkg/logger"
)

// ApologyMessage is served when every tier in the fallback chain fails. The
// request still completes with HTTP 200; the degradation shows up in the
// attempt log and the audit trail.
const ApologyMessage = "I apologize, but I'm experiencing technical difficulties. Please try again in a moment."

// Attempt records one model invocation, successful or not.
type Attempt struct {
	Tier      string
	ModelID   string
	LatencyMS int
	Err       error
}

type Result struct {
	Response       string
	Tier           string
	ModelID        string
	PromptTokens   int
	ResponseTokens int
	CostUSD        float64
	Attempts       []Attempt
	Degraded       bool
}

// Invoker routes prompts to the model for a tier and walks the fallback
// chain when invocations fail. Each tier gets its own circuit breaker so a
// broken expensive model does not poison the cheaper ones.
type Invoker struct {
	api      *openai.Client
	tiers    map[string]config.TierConfig
	chains   map[string][]string
	breakers map[string]*circuitbreaker.CircuitBreaker
	timeout  time.Duration
}

func NewInvoker(apiKey string, tiers config.TiersConfig, timeout time.Duration) *Invoker {
	tierTable := map[string]config.TierConfig{
		complexity.TierSimple:   tiers.Simple,
		complexity.TierStandard: tiers.Standard,
		complexity.TierAdvanced: tiers.Advanced,
	}

	chains := map[string][]string{
		complexity.TierAdvanced: {complexity.TierAdvanced, complexity.TierStandard, complexity.TierSimple},
		complexity.TierStandard: {complexity.TierStandard, complexity.TierSimple},
		complexity.TierSimple:   {complexity.TierSimple},
	}

	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(tierTable))
	for tier := range tierTable {
		breakers[tier] = circuitbreaker.New("inference-"+tier, circuitbreaker.Config{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Cooldown:         30 * time.Second,
			Logger:           logger.GetLogger(),
		})
	}

	logger.Info("Inference invoker initialized",
		zap.String("simple_model", tiers.Simple.ModelID),
		zap.String("standard_model", tiers.Standard.ModelID),
		zap.String("advanced_model", tiers.Advanced.ModelID),
	)

	return &Invoker{
		api:      openai.NewClient(apiKey),
		tiers:    tierTable,
		chains:   chains,
		breakers: breakers,
		timeout:  timeout,
	}
}

// Invoke generates a response at the requested tier, degrading down the
// fallback chain on failure. When the chain is exhausted the result carries
// the apology message and Degraded is set; an error means an unknown tier or
// an expired request context.
func (inv *Invoker) Invoke(ctx context.Context, tier, promptText string) (*Result, error) {
	chain, ok := inv.chains[tier]
	if !ok {
		return nil, fmt.Errorf("unknown model tier: %s", tier)
	}

	result := &Result{Tier: tier}

	for _, attemptTier := range chain {
		tierCfg := inv.tiers[attemptTier]
		start := time.Now()

		response, usage, err := inv.invokeTier(ctx, attemptTier, tierCfg, promptText)
		latency := int(time.Since(start).Milliseconds())

		result.Attempts = append(result.Attempts, Attempt{
			Tier:      attemptTier,
			ModelID:   tierCfg.ModelID,
			LatencyMS: latency,
			Err:       err,
		})

		if err != nil {
			logger.Warn("Model invocation failed, trying next tier",
				zap.String("tier", attemptTier),
				zap.String("model", tierCfg.ModelID),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		result.Response = response
		result.Tier = attemptTier
		result.ModelID = tierCfg.ModelID
		result.PromptTokens = usage.PromptTokens
		result.ResponseTokens = usage.CompletionTokens
		if result.PromptTokens == 0 {
			result.PromptTokens = prompt.EstimateTokens(promptText)
		}
		if result.ResponseTokens == 0 {
			result.ResponseTokens = prompt.EstimateTokens(response)
		}
		result.CostUSD = calculateCost(tierCfg, result.PromptTokens, result.ResponseTokens)
		return result, nil
	}

	// A dead context is a request deadline, not a model failure. The caller
	// maps it to its timeout response instead of the apology.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	logger.Error("All model tiers exhausted, serving degraded response",
		zap.String("requested_tier", tier),
		zap.Int("attempts", len(result.Attempts)),
	)

	result.Response = ApologyMessage
	result.Degraded = true
	return result, nil
}

func (inv *Invoker) invokeTier(ctx context.Context, tier string, tierCfg config.TierConfig, promptText string) (string, openai.Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	var response string
	var usage openai.Usage

	err := inv.breakers[tier].Execute(ctx, func() error {
		resp, err := inv.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: tierCfg.ModelID,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: promptText},
			},
			MaxTokens:   tierCfg.MaxTokens,
			Temperature: tierCfg.Temperature,
		})
		if err != nil {
			return fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion returned no choices")
		}

		response = resp.Choices[0].Message.Content
		usage = resp.Usage
		return nil
	})

	return response, usage, err
}

func calculateCost(tierCfg config.TierConfig, promptTokens, responseTokens int) float64 {
	inputCost := float64(promptTokens) / 1000.0 * tierCfg.CostPer1KInput
	outputCost := float64(responseTokens) / 1000.0 * tierCfg.CostPer1KOutput
	return inputCost + outputCost
}
