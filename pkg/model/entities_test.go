package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func validRecord() CostRecord {
	return CostRecord{
		AccountID:   "123456789012",
		ServiceName: "Amazon EC2",
		Region:      "us-west-2",
		Cost:        decimal.NewFromFloat(12.34),
		StartDate:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		Granularity: GranularityDaily,
		Currency:    "USD",
	}
}

func TestCostRecordValidate_OK(t *testing.T) {
	r := validRecord()
	require.NoError(t, r.Validate())
}

func TestCostRecordValidate_ZeroCostAllowed(t *testing.T) {
	r := validRecord()
	r.Cost = decimal.Zero
	require.NoError(t, r.Validate())
}

func TestCostRecordValidate_EqualDatesAllowed(t *testing.T) {
	r := validRecord()
	r.EndDate = r.StartDate
	require.NoError(t, r.Validate())
}

func TestCostRecordValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CostRecord)
	}{
		{"negative cost", func(r *CostRecord) { r.Cost = decimal.NewFromFloat(-0.01) }},
		{"end before start", func(r *CostRecord) { r.EndDate = r.StartDate.AddDate(0, 0, -1) }},
		{"bad granularity", func(r *CostRecord) { r.Granularity = "hourly" }},
		{"bad currency", func(r *CostRecord) { r.Currency = "usd$" }},
		{"no grouping attribute", func(r *CostRecord) {
			r.ServiceName = ""
			r.Region = ""
			r.UsageType = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)
			require.Error(t, r.Validate())
		})
	}
}

func TestGranularityValid(t *testing.T) {
	require.True(t, GranularityDaily.Valid())
	require.True(t, GranularityMonthly.Valid())
	require.False(t, Granularity("hourly").Valid())
	require.False(t, Granularity("").Valid())
}

func TestDimensionValid(t *testing.T) {
	require.True(t, DimensionService.Valid())
	require.True(t, DimensionRegion.Valid())
	require.True(t, DimensionUsageType.Valid())
	require.False(t, Dimension("AZ").Valid())
}

func TestRecommendationStatusValid(t *testing.T) {
	require.True(t, StatusOpen.Valid())
	require.True(t, StatusImplemented.Valid())
	require.True(t, StatusDismissed.Valid())
	require.False(t, RecommendationStatus("closed").Valid())
}

func TestTotalPotentialSavings(t *testing.T) {
	recs := []Recommendation{
		{PotentialSavings: decimal.NewFromFloat(30.0)},
		{PotentialSavings: decimal.NewFromFloat(15.0)},
	}
	require.Equal(t, "45", TotalPotentialSavings(recs).String())
}

func TestTotalPotentialSavings_Empty(t *testing.T) {
	require.True(t, TotalPotentialSavings(nil).IsZero())
}

func TestSumServiceTotals(t *testing.T) {
	totals := []ServiceTotal{
		{ServiceName: "Amazon EC2", TotalCost: decimal.NewFromFloat(100.5)},
		{ServiceName: "Amazon S3", TotalCost: decimal.NewFromFloat(9.5)},
	}
	require.Equal(t, "110", SumServiceTotals(totals).String())
}
