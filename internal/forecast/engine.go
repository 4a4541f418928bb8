// Package forecast produces cost forecasts from either the provider's
// native forecasting endpoint or a generative analysis backend.
package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cloud-finops/internal/billing"
	"cloud-finops/internal/llm"
	"cloud-finops/pkg/model"
)

// NativeModelVersion tags forecast points produced by the provider.
const NativeModelVersion = "aws-cost-explorer"

// generativeContextLimit caps how many historical records are embedded
// into the generative prompt.
const generativeContextLimit = 50

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	CostRecordsSince(ctx context.Context, cutoff time.Time, limit int) ([]model.CostRecord, error)
	SumCostByDay(ctx context.Context, start, end time.Time) []model.DailyTotal
	InsertForecasts(ctx context.Context, points []model.ForecastPoint) error
}

// Biller is the slice of the billing client the engine needs.
type Biller interface {
	FetchForecast(ctx context.Context, days int) (*billing.Forecast, error)
}

// Engine derives forecasts. Strategy is chosen per call.
type Engine struct {
	biller    Biller
	store     Store
	accountID string
	logger    zerolog.Logger
}

// NewEngine creates a forecast engine for one account.
func NewEngine(biller Biller, store Store, accountID string, logger zerolog.Logger) *Engine {
	return &Engine{
		biller:    biller,
		store:     store,
		accountID: accountID,
		logger:    logger.With().Str("component", "forecast").Logger(),
	}
}

// NativeResult is the outcome of a provider-native forecast.
type NativeResult struct {
	Total        decimal.Decimal         `json:"total"`
	DailyAverage decimal.Decimal         `json:"daily_average"`
	Currency     string                  `json:"currency"`
	Points       []billing.ForecastValue `json:"points"`

	// Percent change versus the trailing period of equal length.
	// When the historical total is zero the change is not applicable
	// rather than a division error.
	HistoricalTotal  decimal.Decimal `json:"historical_total"`
	PercentChange    decimal.Decimal `json:"percent_change"`
	ChangeApplicable bool            `json:"change_applicable"`
}

// Native forecasts the next `days` days with the provider's endpoint
// and persists the resulting points for audit.
func (e *Engine) Native(ctx context.Context, days int) (*NativeResult, error) {
	fc, err := e.biller.FetchForecast(ctx, days)
	if err != nil {
		return nil, err
	}

	result := &NativeResult{
		Total:    fc.MeanForecast,
		Currency: fc.Currency,
		Points:   fc.Points,
	}
	if days > 0 {
		result.DailyAverage = fc.MeanForecast.Div(decimal.NewFromInt(int64(days))).Round(6)
	}

	// Compare against the trailing window of equal length.
	now := time.Now().UTC()
	historical := decimal.Zero
	for _, day := range e.store.SumCostByDay(ctx, now.AddDate(0, 0, -days), now) {
		historical = historical.Add(day.TotalCost)
	}
	result.HistoricalTotal = historical
	if historical.IsZero() {
		result.ChangeApplicable = false
	} else {
		result.ChangeApplicable = true
		result.PercentChange = fc.MeanForecast.Sub(historical).
			Div(historical).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}

	points := make([]model.ForecastPoint, 0, len(fc.Points))
	for _, p := range fc.Points {
		points = append(points, model.ForecastPoint{
			AccountID:      e.accountID,
			ServiceName:    "ALL",
			ForecastDate:   p.Date,
			ForecastedCost: p.Amount,
			ModelVersion:   NativeModelVersion,
		})
	}
	if err := e.store.InsertForecasts(ctx, points); err != nil {
		return nil, err
	}

	e.logger.Info().
		Int("days", days).
		Str("total", result.Total.StringFixed(2)).
		Bool("change_applicable", result.ChangeApplicable).
		Msg("produced native forecast")
	return result, nil
}

// Generative feeds the trailing 90 days of persisted history through
// the selected backend and returns its forecast narrative. The output
// is treated as opaque; no numeric validation is performed.
func (e *Engine) Generative(ctx context.Context, backend llm.Backend, days int) (string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	history, err := e.store.CostRecordsSince(ctx, cutoff, 0)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", fmt.Errorf("no cost history available for the trailing 90 days; ingest data first")
	}

	prompt := fmt.Sprintf(`You have expertise in cloud cost forecasting. Analyze this AWS historical cost data and generate a forecast for the next %d days.

Historical cost data (last 90 days):
%s
Describe the expected total cost for the period, the daily trend, and any seasonality you detect.`,
		days, llm.FormatCostData(history, generativeContextLimit))

	narrative, err := backend.Generate(ctx, prompt, 1500)
	if err != nil {
		return "", err
	}

	e.logger.Info().Int("days", days).Int("history_records", len(history)).
		Msg("produced generative forecast")
	return narrative, nil
}
