package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cloud-finops/pkg/config"
	"cloud-finops/pkg/finerr"
	"cloud-finops/pkg/model"
)

func sampleRecords(n int) []model.CostRecord {
	records := make([]model.CostRecord, n)
	for i := range records {
		records[i] = model.CostRecord{
			ServiceName: "Amazon EC2",
			Region:      "us-west-2",
			Cost:        decimal.NewFromInt(int64(i + 1)),
			Currency:    "USD",
			StartDate:   time.Date(2026, 8, 1+i%28, 0, 0, 0, 0, time.UTC),
		}
	}
	return records
}

// =============================================================================
// BACKEND RESOLUTION
// =============================================================================

func TestOpen_UnknownIdentifier(t *testing.T) {
	_, err := Open("cloud-X", &config.Config{}, zerolog.Nop())
	require.Error(t, err)
	require.True(t, finerr.Is(err, finerr.KindConfiguration))
}

func TestOpen_KnownIdentifiersConstruct(t *testing.T) {
	// Empty configuration: every backend must still construct, in its
	// unavailable state, instead of failing.
	cfg := &config.Config{}
	for _, id := range Identifiers() {
		b, err := Open(id, cfg, zerolog.Nop())
		require.NoError(t, err, "backend %s must construct", id)
		require.NotNil(t, b)

		_, genErr := b.Generate(context.Background(), "hello", 10)
		require.Error(t, genErr, "unavailable backend %s must error on use", id)
		require.NotEmpty(t, genErr.Error())
	}
}

// =============================================================================
// LOCAL BACKEND
// =============================================================================

func TestOllamaBackend_Generate(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK) // reachability check at construction
			return
		}
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "costs look stable"},
		})
	}))
	defer srv.Close()

	b := NewOllamaBackend(BackendLocal, config.OllamaConfig{BaseURL: srv.URL, Model: "phi4"}, zerolog.Nop())

	out, err := b.Generate(context.Background(), "summarize", 256)
	require.NoError(t, err)
	require.Equal(t, "costs look stable", out)

	require.Equal(t, "phi4", gotReq.Model)
	require.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 2)
	require.Equal(t, "system", gotReq.Messages[0].Role)
	require.EqualValues(t, 256, gotReq.Options["num_predict"])
}

func TestOllamaBackend_UnreachableServer(t *testing.T) {
	b := NewOllamaBackend(BackendLocal, config.OllamaConfig{
		BaseURL: "http://127.0.0.1:1",
		Model:   "phi4",
	}, zerolog.Nop())

	_, err := b.Generate(context.Background(), "hi", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not reachable")
}

func TestOllamaBackend_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			return
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ollamaChatResponse{Error: "model not found"})
	}))
	defer srv.Close()

	b := NewOllamaBackend(BackendLocalMini, config.OllamaConfig{BaseURL: srv.URL, Model: "phi4-mini"}, zerolog.Nop())
	_, err := b.Generate(context.Background(), "hi", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "phi4-mini")
}

// =============================================================================
// HOSTED-A BACKEND
// =============================================================================

func TestOpenAIBackend_GenerateWithUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "EC2 dominates spend"}},
			},
			"usage": map[string]int{"total_tokens": 321},
		})
	}))
	defer srv.Close()

	b := NewOpenAIBackend(config.OpenAIConfig{
		Endpoint: srv.URL,
		Token:    "token-1",
		Model:    "openai/gpt-4.1",
	}, zerolog.Nop())

	text, tokens, err := b.GenerateWithUsage(context.Background(), "analyze", 500)
	require.NoError(t, err)
	require.Equal(t, "EC2 dominates spend", text)
	require.Equal(t, 321, tokens)
}

func TestOpenAIBackend_MissingToken(t *testing.T) {
	b := NewOpenAIBackend(config.OpenAIConfig{Endpoint: "https://example.com", Model: "m"}, zerolog.Nop())
	_, err := b.Generate(context.Background(), "hi", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "token")
}

func TestOpenAIBackend_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusForbidden, "access denied"},
		{http.StatusNotFound, "not found"},
		{http.StatusTooManyRequests, "rate limit"},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		b := NewOpenAIBackend(config.OpenAIConfig{Endpoint: srv.URL, Token: "t", Model: "m"}, zerolog.Nop())
		_, err := b.Generate(context.Background(), "hi", 10)
		srv.Close()
		require.Error(t, err)
		require.Contains(t, strings.ToLower(err.Error()), tt.want, "status %d", tt.status)
	}
}

// =============================================================================
// HOSTED-B BACKEND
// =============================================================================

func TestAnthropicBackend_MissingKey(t *testing.T) {
	b := NewAnthropicBackend(config.AnthropicConfig{Model: "claude-3-haiku-20240307"}, zerolog.Nop())
	_, err := b.Generate(context.Background(), "hi", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "API key")

	_, err = b.AnalyzeCostData(context.Background(), sampleRecords(3), "why?")
	require.Error(t, err)

	_, err = b.SummarizeInsights(context.Background(), sampleRecords(3))
	require.Error(t, err)
}

// =============================================================================
// DIRECT ANALYSIS
// =============================================================================

type plainBackend struct{ answer string }

func (p *plainBackend) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return p.answer, nil
}

func (p *plainBackend) AnalyzeCostData(ctx context.Context, records []model.CostRecord, question string) (string, error) {
	return p.answer, nil
}

func (p *plainBackend) SummarizeInsights(ctx context.Context, records []model.CostRecord) (string, error) {
	return p.answer, nil
}

func TestAnalyzeWithUsage_ReportsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Messages)
		require.Contains(t, req.Messages[len(req.Messages)-1].Content, "My question is: which service grew?")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "EC2 grew fastest"}},
			},
			"usage": map[string]int{"total_tokens": 87},
		})
	}))
	defer srv.Close()

	b := NewOpenAIBackend(config.OpenAIConfig{Endpoint: srv.URL, Token: "t", Model: "m"}, zerolog.Nop())
	answer, tokens, err := AnalyzeWithUsage(context.Background(), b, sampleRecords(3), "which service grew?")
	require.NoError(t, err)
	require.Equal(t, "EC2 grew fastest", answer)
	require.Equal(t, 87, tokens)
}

func TestAnalyzeWithUsage_PlainBackendReportsZero(t *testing.T) {
	answer, tokens, err := AnalyzeWithUsage(context.Background(), &plainBackend{answer: "steady spend"}, sampleRecords(2), "trend?")
	require.NoError(t, err)
	require.Equal(t, "steady spend", answer)
	require.Zero(t, tokens)
}

// =============================================================================
// PROMPT CONTEXT
// =============================================================================

func TestFormatCostData_Truncation(t *testing.T) {
	out := FormatCostData(sampleRecords(14), 10)
	require.Equal(t, 11, strings.Count(out, "\n"))
	require.Contains(t, out, "... and 4 more items")
}

func TestFormatCostData_NoTruncationNote(t *testing.T) {
	out := FormatCostData(sampleRecords(5), 10)
	require.NotContains(t, out, "more items")
	require.Contains(t, out, `service="Amazon EC2"`)
	require.Contains(t, out, "cost=1.00 USD")
}

func TestAnalysisPrompt_EmbedsQuestionAndLimit(t *testing.T) {
	p := analysisPrompt(sampleRecords(25), "which region costs most?")
	require.Contains(t, p, "which region costs most?")
	require.Contains(t, p, "... and 15 more items")
}

func TestInsightsPrompt_Structure(t *testing.T) {
	p := insightsPrompt(sampleRecords(20))
	require.Contains(t, p, "... and 5 more items")
	require.Contains(t, p, "Potential areas for optimization")
}
