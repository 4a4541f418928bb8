// Package llm provides the uniform contract over interchangeable
// text-generation backends: two locally hosted model variants and two
// hosted API models.
//
// Construction never fails. A backend with missing credentials or an
// unreachable endpoint records itself as unavailable, and every
// subsequent call returns a descriptive error instead of panicking, so
// callers can render a failure message without destabilizing the flow.
package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"cloud-finops/pkg/config"
	"cloud-finops/pkg/finerr"
	"cloud-finops/pkg/model"
)

// Backend identifiers. The caller selects exactly one per request;
// there is no fallback chain.
const (
	BackendLocal     = "local"
	BackendLocalMini = "local-mini"
	BackendHostedA   = "hosted-A"
	BackendHostedB   = "hosted-B"
)

// Backend is the three-operation contract every engine implements.
type Backend interface {
	// Generate produces a free-form completion for the prompt.
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)

	// AnalyzeCostData answers a question about the given records,
	// embedding up to the first 10 as context.
	AnalyzeCostData(ctx context.Context, records []model.CostRecord, question string) (string, error)

	// SummarizeInsights produces a structured summary (current state,
	// trends, outliers, optimization opportunities) from up to the
	// first 15 records.
	SummarizeInsights(ctx context.Context, records []model.CostRecord) (string, error)
}

// UsageAware is implemented by backends that report token usage.
type UsageAware interface {
	GenerateWithUsage(ctx context.Context, prompt string, maxTokens int) (string, int, error)
}

// AnalyzeWithUsage answers a question over the records like
// Backend.AnalyzeCostData, additionally reporting token usage when the
// backend implements UsageAware. Other backends report zero.
func AnalyzeWithUsage(ctx context.Context, b Backend, records []model.CostRecord, question string) (string, int, error) {
	if ua, ok := b.(UsageAware); ok {
		return ua.GenerateWithUsage(ctx, analysisPrompt(records, question), 1000)
	}
	answer, err := b.AnalyzeCostData(ctx, records, question)
	return answer, 0, err
}

// Open resolves a backend identifier against the configuration. An
// unknown identifier is a configuration error; a known backend with bad
// credentials is returned in its unavailable state instead.
func Open(id string, cfg *config.Config, logger zerolog.Logger) (Backend, error) {
	switch id {
	case BackendLocal:
		return NewOllamaBackend(id, cfg.Local, logger), nil
	case BackendLocalMini:
		return NewOllamaBackend(id, cfg.LocalMini, logger), nil
	case BackendHostedA:
		return NewOpenAIBackend(cfg.HostedA, logger), nil
	case BackendHostedB:
		return NewAnthropicBackend(cfg.HostedB, logger), nil
	}
	return nil, finerr.Configuration(fmt.Sprintf("unknown analysis backend %q (want %s, %s, %s or %s)",
		id, BackendLocal, BackendLocalMini, BackendHostedA, BackendHostedB))
}

// Identifiers lists the selectable backend identifiers.
func Identifiers() []string {
	return []string{BackendLocal, BackendLocalMini, BackendHostedA, BackendHostedB}
}
