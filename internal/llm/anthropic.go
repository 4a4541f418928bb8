package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cloud-finops/pkg/config"
	"cloud-finops/pkg/model"
	"cloud-finops/pkg/platform"
)

const anthropicEndpoint = "https://api.anthropic.com/v1/messages"

// AnthropicBackend is the hosted-B backend, speaking the Anthropic
// messages API.
type AnthropicBackend struct {
	modelName   string
	client      *platform.HTTPClient
	unavailable string
	logger      zerolog.Logger
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicBackend validates the key locally. A missing key leaves
// the backend unavailable rather than failing construction.
func NewAnthropicBackend(cfg config.AnthropicConfig, logger zerolog.Logger) *AnthropicBackend {
	b := &AnthropicBackend{
		modelName: cfg.Model,
		logger:    logger.With().Str("backend", BackendHostedB).Logger(),
	}
	if cfg.APIKey == "" {
		b.unavailable = "hosted-B backend not initialized: API key is not set"
		b.logger.Warn().Msg(b.unavailable)
		return b
	}

	b.client = platform.NewHTTPClient(60 * time.Second)
	b.client.Headers["x-api-key"] = cfg.APIKey
	b.client.Headers["anthropic-version"] = "2023-06-01"
	b.logger.Info().Str("model", cfg.Model).Msg("hosted-B backend ready")
	return b
}

// GenerateWithUsage produces a completion and reports total tokens used.
func (b *AnthropicBackend) GenerateWithUsage(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	if b.unavailable != "" {
		return "", 0, fmt.Errorf("%s", b.unavailable)
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     b.modelName,
		MaxTokens: maxTokens,
		System:    systemRole,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal messages request: %w", err)
	}

	payload, err := b.client.PostJSON(ctx, anthropicEndpoint, body)
	if err != nil {
		return "", 0, fmt.Errorf("hosted-B call failed: %w", err)
	}

	var result anthropicResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", 0, fmt.Errorf("failed to decode hosted-B response: %w", err)
	}
	if result.Error != nil {
		return "", 0, fmt.Errorf("hosted-B error: %s", result.Error.Message)
	}
	if len(result.Content) == 0 {
		return "", 0, fmt.Errorf("empty response from hosted-B model %q", b.modelName)
	}

	tokens := result.Usage.InputTokens + result.Usage.OutputTokens
	return result.Content[0].Text, tokens, nil
}

// Generate produces a free-form completion.
func (b *AnthropicBackend) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	text, _, err := b.GenerateWithUsage(ctx, prompt, maxTokens)
	return text, err
}

// AnalyzeCostData answers a question about the given cost records.
func (b *AnthropicBackend) AnalyzeCostData(ctx context.Context, records []model.CostRecord, question string) (string, error) {
	return b.Generate(ctx, analysisPrompt(records, question), 1000)
}

// SummarizeInsights produces a structured cost summary.
func (b *AnthropicBackend) SummarizeInsights(ctx context.Context, records []model.CostRecord) (string, error) {
	return b.Generate(ctx, insightsPrompt(records), 2000)
}
