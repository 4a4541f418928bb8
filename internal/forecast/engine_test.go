package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cloud-finops/internal/billing"
	"cloud-finops/pkg/model"
)

type fakeStore struct {
	history   []model.CostRecord
	daily     []model.DailyTotal
	inserted  []model.ForecastPoint
	insertErr error
}

func (f *fakeStore) CostRecordsSince(ctx context.Context, cutoff time.Time, limit int) ([]model.CostRecord, error) {
	return f.history, nil
}

func (f *fakeStore) SumCostByDay(ctx context.Context, start, end time.Time) []model.DailyTotal {
	return f.daily
}

func (f *fakeStore) InsertForecasts(ctx context.Context, points []model.ForecastPoint) error {
	f.inserted = append(f.inserted, points...)
	return f.insertErr
}

type fakeBiller struct {
	forecast *billing.Forecast
	err      error
}

func (f *fakeBiller) FetchForecast(ctx context.Context, days int) (*billing.Forecast, error) {
	return f.forecast, f.err
}

type fakeBackend struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeBackend) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func (f *fakeBackend) AnalyzeCostData(ctx context.Context, records []model.CostRecord, question string) (string, error) {
	return f.reply, f.err
}

func (f *fakeBackend) SummarizeInsights(ctx context.Context, records []model.CostRecord) (string, error) {
	return f.reply, f.err
}

func day(amount float64) model.DailyTotal {
	return model.DailyTotal{TotalCost: decimal.NewFromFloat(amount), Currency: "USD"}
}

func TestNative_ComputesAverageAndChange(t *testing.T) {
	store := &fakeStore{daily: []model.DailyTotal{day(50), day(50)}} // historical total 100
	biller := &fakeBiller{forecast: &billing.Forecast{
		MeanForecast: decimal.NewFromInt(120),
		Currency:     "USD",
		Points: []billing.ForecastValue{
			{Date: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(4)},
		},
	}}

	engine := NewEngine(biller, store, "acct", zerolog.Nop())
	result, err := engine.Native(context.Background(), 30)
	require.NoError(t, err)

	require.Equal(t, "120", result.Total.String())
	require.Equal(t, "4", result.DailyAverage.String())
	require.True(t, result.ChangeApplicable)
	require.Equal(t, "20", result.PercentChange.String()) // (120-100)/100 * 100
}

func TestNative_ZeroHistoryIsNotApplicable(t *testing.T) {
	store := &fakeStore{}
	biller := &fakeBiller{forecast: &billing.Forecast{MeanForecast: decimal.NewFromInt(120), Currency: "USD"}}

	engine := NewEngine(biller, store, "acct", zerolog.Nop())
	result, err := engine.Native(context.Background(), 30)
	require.NoError(t, err)
	require.False(t, result.ChangeApplicable)
	require.True(t, result.PercentChange.IsZero())
}

func TestNative_PersistsPointsTagged(t *testing.T) {
	store := &fakeStore{}
	biller := &fakeBiller{forecast: &billing.Forecast{
		MeanForecast: decimal.NewFromInt(10),
		Currency:     "USD",
		Points: []billing.ForecastValue{
			{Date: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(5)},
			{Date: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(5)},
		},
	}}

	engine := NewEngine(biller, store, "123456789012", zerolog.Nop())
	_, err := engine.Native(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, store.inserted, 2)
	for _, p := range store.inserted {
		require.Equal(t, "123456789012", p.AccountID)
		require.Equal(t, "ALL", p.ServiceName)
		require.Equal(t, NativeModelVersion, p.ModelVersion)
	}
}

func TestNative_BillerFailurePropagates(t *testing.T) {
	engine := NewEngine(&fakeBiller{err: errors.New("throttled")}, &fakeStore{}, "acct", zerolog.Nop())
	_, err := engine.Native(context.Background(), 30)
	require.Error(t, err)
}

func TestGenerative_RequiresHistory(t *testing.T) {
	engine := NewEngine(&fakeBiller{}, &fakeStore{}, "acct", zerolog.Nop())
	_, err := engine.Generative(context.Background(), &fakeBackend{reply: "up and to the right"}, 30)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no cost history")
}

func TestGenerative_ReturnsNarrative(t *testing.T) {
	store := &fakeStore{history: []model.CostRecord{{
		ServiceName: "Amazon EC2",
		Cost:        decimal.NewFromInt(10),
		Currency:    "USD",
		StartDate:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}}}
	backend := &fakeBackend{reply: "expect roughly $310 over the next month"}

	engine := NewEngine(&fakeBiller{}, store, "acct", zerolog.Nop())
	narrative, err := engine.Generative(context.Background(), backend, 30)
	require.NoError(t, err)
	require.Equal(t, "expect roughly $310 over the next month", narrative)
	require.Contains(t, backend.prompt, "next 30 days")
	require.Contains(t, backend.prompt, "Amazon EC2")
}
