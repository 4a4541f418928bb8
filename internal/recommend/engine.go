// Package recommend produces optimization recommendations from either
// the provider's recommendation facility or a generative backend, and
// normalizes both into one schema.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cloud-finops/internal/llm"
	"cloud-finops/pkg/finerr"
	"cloud-finops/pkg/model"
)

// generativeContextLimit caps how many records feed the prompt.
const generativeContextLimit = 20

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	CostRecordsSince(ctx context.Context, cutoff time.Time, limit int) ([]model.CostRecord, error)
	InsertRecommendations(ctx context.Context, recs []model.Recommendation) error
}

// Biller is the slice of the billing client the engine needs.
type Biller interface {
	FetchRecommendations(ctx context.Context) ([]model.Recommendation, error)
}

// Engine derives recommendations. Strategy is chosen per call.
type Engine struct {
	biller    Biller
	store     Store
	accountID string
	logger    zerolog.Logger
}

// NewEngine creates a recommendation engine for one account.
func NewEngine(biller Biller, store Store, accountID string, logger zerolog.Logger) *Engine {
	return &Engine{
		biller:    biller,
		store:     store,
		accountID: accountID,
		logger:    logger.With().Str("component", "recommend").Logger(),
	}
}

// Native returns the provider's recommendation list tagged with the
// account and persists it.
func (e *Engine) Native(ctx context.Context) ([]model.Recommendation, error) {
	recs, err := e.biller.FetchRecommendations(ctx)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].AccountID = e.accountID
		if recs[i].Status == "" {
			recs[i].Status = model.StatusOpen
		}
	}
	if err := e.store.InsertRecommendations(ctx, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// generatedRecommendation is the fixed output schema the backend is
// constrained to.
type generatedRecommendation struct {
	ResourceID         string  `json:"resource_id"`
	ServiceName        string  `json:"service_name"`
	RecommendationType string  `json:"recommendation_type"`
	Description        string  `json:"description"`
	PotentialSavings   float64 `json:"potential_savings"`
}

type generatedPayload struct {
	Recommendations []generatedRecommendation `json:"recommendations"`
}

// Generative asks the backend for recommendations over the most recent
// persisted records and persists whatever parses, status open. Output
// that does not match the schema degrades to an empty list.
func (e *Engine) Generative(ctx context.Context, backend llm.Backend) ([]model.Recommendation, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	history, err := e.store.CostRecordsSince(ctx, cutoff, generativeContextLimit)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("no cost history available; ingest data first")
	}

	prompt := fmt.Sprintf(`Analyze the following AWS cost data and generate specific cost optimization recommendations.

AWS cost data:
%s
Respond with JSON only, in exactly this shape:
{"recommendations": [{"resource_id": "...", "service_name": "...", "recommendation_type": "...", "description": "...", "potential_savings": 0.0}]}`,
		llm.FormatCostData(history, generativeContextLimit))

	raw, err := backend.Generate(ctx, prompt, 1500)
	if err != nil {
		return nil, err
	}

	parsed, parseErr := parseRecommendations(raw)
	if parseErr != nil {
		e.logger.Warn().Err(parseErr).Msg("generative output did not match recommendation schema, returning empty list")
		return nil, nil
	}

	recs := make([]model.Recommendation, 0, len(parsed))
	for _, g := range parsed {
		savings := decimal.NewFromFloat(g.PotentialSavings)
		if savings.IsNegative() {
			savings = decimal.Zero
		}
		recs = append(recs, model.Recommendation{
			AccountID:          e.accountID,
			ResourceID:         g.ResourceID,
			ServiceName:        g.ServiceName,
			RecommendationType: g.RecommendationType,
			Description:        g.Description,
			PotentialSavings:   savings,
			Status:             model.StatusOpen,
		})
	}

	if err := e.store.InsertRecommendations(ctx, recs); err != nil {
		return nil, err
	}
	e.logger.Info().Int("recommendations", len(recs)).Msg("persisted generated recommendations")
	return recs, nil
}

// parseRecommendations extracts the JSON payload from the backend
// output, tolerating a markdown code fence around it.
func parseRecommendations(raw string) ([]generatedRecommendation, error) {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "```json"); start != -1 {
		if end := strings.LastIndex(text, "```"); end > start {
			text = text[start+len("```json") : end]
		}
	} else if start := strings.Index(text, "{"); start != -1 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var payload generatedPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, finerr.Parse("recommendation output is not valid JSON", err)
	}
	if payload.Recommendations == nil {
		return nil, finerr.Parse("recommendation output missing recommendations field", nil)
	}
	return payload.Recommendations, nil
}
