package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"cloud-finops/pkg/config"
	"cloud-finops/pkg/model"
)

// ollamaTimeout bounds non-streaming local inference calls. Local models
// can take many seconds per completion.
const ollamaTimeout = 120 * time.Second

// OllamaBackend runs prompts against a locally hosted model through the
// Ollama HTTP API. Two named variants exist (local and local-mini) with
// divergent default models; configuration picks the model explicitly.
type OllamaBackend struct {
	id          string
	baseURL     string
	modelName   string
	httpClient  *http.Client
	unavailable string
	logger      zerolog.Logger
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   ollamaMessage `json:"message"`
	EvalCount int           `json:"eval_count"`
	Error     string        `json:"error"`
}

// NewOllamaBackend probes the local endpoint once. An unreachable server
// leaves the backend in an unavailable state rather than failing.
func NewOllamaBackend(id string, cfg config.OllamaConfig, logger zerolog.Logger) *OllamaBackend {
	b := &OllamaBackend{
		id:         id,
		baseURL:    cfg.BaseURL,
		modelName:  cfg.Model,
		httpClient: &http.Client{Timeout: ollamaTimeout},
		logger:     logger.With().Str("backend", id).Logger(),
	}
	if cfg.BaseURL == "" {
		b.unavailable = fmt.Sprintf("%s backend not configured: base URL is empty", id)
		return b
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, cfg.BaseURL, nil)
	if err != nil {
		b.unavailable = fmt.Sprintf("%s backend misconfigured: %v", id, err)
		return b
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.unavailable = fmt.Sprintf("%s model server not reachable at %s; is Ollama running?", id, cfg.BaseURL)
		b.logger.Warn().Msg(b.unavailable)
		return b
	}
	resp.Body.Close()

	b.logger.Info().Str("model", cfg.Model).Msg("local model backend ready")
	return b
}

// Generate produces a completion from the local model.
func (b *OllamaBackend) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if b.unavailable != "" {
		return "", fmt.Errorf("%s", b.unavailable)
	}

	reqBody := ollamaChatRequest{
		Model: b.modelName,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemRole},
			{Role: "user", Content: prompt},
		},
		Stream: false,
	}
	if maxTokens > 0 {
		reqBody.Options = map[string]any{"num_predict": maxTokens}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("local model call failed: %w", err)
	}
	defer resp.Body.Close()

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode local model response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("model %q not found on local server", b.modelName)
	}
	if resp.StatusCode != http.StatusOK {
		if result.Error != "" {
			return "", fmt.Errorf("local model error: %s", result.Error)
		}
		return "", fmt.Errorf("local model request failed: %s", resp.Status)
	}

	return result.Message.Content, nil
}

// AnalyzeCostData answers a question about the given cost records.
func (b *OllamaBackend) AnalyzeCostData(ctx context.Context, records []model.CostRecord, question string) (string, error) {
	return b.Generate(ctx, analysisPrompt(records, question), 1500)
}

// SummarizeInsights produces a structured cost summary.
func (b *OllamaBackend) SummarizeInsights(ctx context.Context, records []model.CostRecord) (string, error) {
	return b.Generate(ctx, insightsPrompt(records), 2000)
}
