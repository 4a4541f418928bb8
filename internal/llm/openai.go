package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cloud-finops/pkg/config"
	"cloud-finops/pkg/model"
	"cloud-finops/pkg/platform"
)

// OpenAIBackend is the hosted-A backend: any OpenAI-compatible
// chat-completions endpoint selected by base URL, token and model name.
type OpenAIBackend struct {
	endpoint    string
	modelName   string
	client      *platform.HTTPClient
	unavailable string
	logger      zerolog.Logger
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIBackend validates credentials without calling out. A missing
// token leaves the backend unavailable rather than failing construction.
func NewOpenAIBackend(cfg config.OpenAIConfig, logger zerolog.Logger) *OpenAIBackend {
	b := &OpenAIBackend{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		modelName: cfg.Model,
		logger:    logger.With().Str("backend", BackendHostedA).Logger(),
	}
	if cfg.Token == "" {
		b.unavailable = "hosted-A backend not initialized: API token is not set"
		b.logger.Warn().Msg(b.unavailable)
		return b
	}
	if cfg.Endpoint == "" {
		b.unavailable = "hosted-A backend not initialized: endpoint is not set"
		b.logger.Warn().Msg(b.unavailable)
		return b
	}

	b.client = platform.NewHTTPClient(60 * time.Second)
	b.client.Headers["Authorization"] = "Bearer " + cfg.Token
	b.logger.Info().Str("model", cfg.Model).Msg("hosted-A backend ready")
	return b
}

// GenerateWithUsage produces a completion and reports total tokens used.
func (b *OpenAIBackend) GenerateWithUsage(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	if b.unavailable != "" {
		return "", 0, fmt.Errorf("%s", b.unavailable)
	}

	body, err := json.Marshal(openAIChatRequest{
		Model: b.modelName,
		Messages: []openAIMessage{
			{Role: "system", Content: systemRole},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	payload, err := b.client.PostJSON(ctx, b.endpoint+"/chat/completions", body)
	if err != nil {
		return "", 0, describeOpenAIError(b.modelName, err)
	}

	var result openAIChatResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", 0, fmt.Errorf("failed to decode hosted-A response: %w", err)
	}
	if result.Error != nil {
		return "", 0, fmt.Errorf("hosted-A error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", 0, fmt.Errorf("empty response from hosted-A model %q", b.modelName)
	}

	return result.Choices[0].Message.Content, result.Usage.TotalTokens, nil
}

// Generate produces a free-form completion.
func (b *OpenAIBackend) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	text, _, err := b.GenerateWithUsage(ctx, prompt, maxTokens)
	return text, err
}

// AnalyzeCostData answers a question about the given cost records.
func (b *OpenAIBackend) AnalyzeCostData(ctx context.Context, records []model.CostRecord, question string) (string, error) {
	return b.Generate(ctx, analysisPrompt(records, question), 1000)
}

// SummarizeInsights produces a structured cost summary.
func (b *OpenAIBackend) SummarizeInsights(ctx context.Context, records []model.CostRecord) (string, error) {
	return b.Generate(ctx, insightsPrompt(records), 2000)
}

// describeOpenAIError maps common HTTP failures to actionable messages.
func describeOpenAIError(modelName string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "403") || strings.Contains(msg, "no access"):
		return fmt.Errorf("access denied to hosted-A model %q; check the token's permissions", modelName)
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return fmt.Errorf("hosted-A model %q not found; check the model name in configuration", modelName)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("rate limit exceeded for hosted-A; try again later")
	}
	return fmt.Errorf("hosted-A call failed: %w", err)
}
