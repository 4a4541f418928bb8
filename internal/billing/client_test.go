package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cloud-finops/pkg/config"
	"cloud-finops/pkg/finerr"
	"cloud-finops/pkg/model"
)

// stubExplorer records inputs and returns canned responses.
type stubExplorer struct {
	costInput     *costexplorer.GetCostAndUsageInput
	costOutput    *costexplorer.GetCostAndUsageOutput
	costErr       error
	forecastInput *costexplorer.GetCostForecastInput
	forecastOut   *costexplorer.GetCostForecastOutput
	forecastErr   error
}

func (s *stubExplorer) GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	s.costInput = params
	return s.costOutput, s.costErr
}

func (s *stubExplorer) GetCostForecast(ctx context.Context, params *costexplorer.GetCostForecastInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostForecastOutput, error) {
	s.forecastInput = params
	return s.forecastOut, s.forecastErr
}

func testDates() (time.Time, time.Time) {
	return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
}

func TestNewClient_MissingCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), config.AWSConfig{}, zerolog.Nop())
	require.Error(t, err)
	require.True(t, finerr.Is(err, finerr.KindConfiguration))
}

func TestFetchByDimension_MapsGroupKeysPositionally(t *testing.T) {
	stub := &stubExplorer{
		costOutput: &costexplorer.GetCostAndUsageOutput{
			ResultsByTime: []types.ResultByTime{
				{
					TimePeriod: &types.DateInterval{
						Start: aws.String("2026-08-01"),
						End:   aws.String("2026-08-02"),
					},
					Groups: []types.Group{
						{
							Keys: []string{"Amazon EC2", "us-west-2"},
							Metrics: map[string]types.MetricValue{
								"UnblendedCost": {Amount: aws.String("12.50"), Unit: aws.String("USD")},
								"UsageQuantity": {Amount: aws.String("24"), Unit: aws.String("Hrs")},
							},
						},
					},
				},
			},
		},
	}
	c := NewClientWithAPI(stub, "123456789012", zerolog.Nop())

	start, end := testDates()
	records, err := c.FetchByDimension(context.Background(), start, end,
		model.GranularityDaily, []model.Dimension{model.DimensionService, model.DimensionRegion})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, "123456789012", rec.AccountID)
	require.Equal(t, "Amazon EC2", rec.ServiceName)
	require.Equal(t, "us-west-2", rec.Region)
	require.Equal(t, "12.5", rec.Cost.String())
	require.Equal(t, "24", rec.UsageQuantity.String())
	require.Equal(t, "USD", rec.Currency)
	require.Equal(t, model.GranularityDaily, rec.Granularity)
	require.NoError(t, rec.Validate())

	// Request shape
	require.Equal(t, types.GranularityDaily, stub.costInput.Granularity)
	require.Len(t, stub.costInput.GroupBy, 2)
	require.Equal(t, "SERVICE", aws.ToString(stub.costInput.GroupBy[0].Key))
	require.Equal(t, "REGION", aws.ToString(stub.costInput.GroupBy[1].Key))
}

func TestFetchByDimension_Validation(t *testing.T) {
	c := NewClientWithAPI(&stubExplorer{}, "acct", zerolog.Nop())
	ctx := context.Background()
	start, end := testDates()

	_, err := c.FetchByDimension(ctx, end, start, model.GranularityDaily, []model.Dimension{model.DimensionService})
	require.Error(t, err, "reversed dates must be rejected")

	_, err = c.FetchByDimension(ctx, start, end, "hourly", []model.Dimension{model.DimensionService})
	require.Error(t, err, "unknown granularity must be rejected")

	_, err = c.FetchByDimension(ctx, start, end, model.GranularityDaily, nil)
	require.Error(t, err, "empty dimension list must be rejected")

	_, err = c.FetchByDimension(ctx, start, end, model.GranularityDaily,
		[]model.Dimension{model.DimensionService, model.DimensionRegion, model.DimensionUsageType})
	require.Error(t, err, "more than two dimensions must be rejected")

	_, err = c.FetchByDimension(ctx, start, end, model.GranularityDaily, []model.Dimension{"AZ"})
	require.Error(t, err, "unknown dimension must be rejected")
}

func TestFetchByDimension_APIFailure(t *testing.T) {
	stub := &stubExplorer{costErr: errors.New("throttled")}
	c := NewClientWithAPI(stub, "acct", zerolog.Nop())

	start, end := testDates()
	_, err := c.FetchByDimension(context.Background(), start, end,
		model.GranularityDaily, []model.Dimension{model.DimensionService})
	require.Error(t, err)
	require.True(t, finerr.Is(err, finerr.KindAPI))
}

func TestFetchForecast(t *testing.T) {
	stub := &stubExplorer{
		forecastOut: &costexplorer.GetCostForecastOutput{
			Total: &types.MetricValue{Amount: aws.String("300.00"), Unit: aws.String("USD")},
			ForecastResultsByTime: []types.ForecastResult{
				{
					TimePeriod: &types.DateInterval{Start: aws.String("2026-08-31"), End: aws.String("2026-09-01")},
					MeanValue:  aws.String("10.00"),
				},
				{
					TimePeriod: &types.DateInterval{Start: aws.String("2026-09-01"), End: aws.String("2026-09-02")},
					MeanValue:  aws.String("10.50"),
				},
			},
		},
	}
	c := NewClientWithAPI(stub, "acct", zerolog.Nop())

	fc, err := c.FetchForecast(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, "300", fc.MeanForecast.String())
	require.Equal(t, "USD", fc.Currency)
	require.Len(t, fc.Points, 2)
	require.Equal(t, "10.5", fc.Points[1].Amount.String())

	require.Equal(t, types.MetricUnblendedCost, stub.forecastInput.Metric)
	require.Equal(t, types.GranularityDaily, stub.forecastInput.Granularity)
}

func TestFetchForecast_RejectsNonPositiveHorizon(t *testing.T) {
	c := NewClientWithAPI(&stubExplorer{}, "acct", zerolog.Nop())
	_, err := c.FetchForecast(context.Background(), 0)
	require.Error(t, err)
}

func TestFetchRecommendations_FixedShape(t *testing.T) {
	c := NewClientWithAPI(&stubExplorer{}, "123456789012", zerolog.Nop())

	recs, err := c.FetchRecommendations(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "45", model.TotalPotentialSavings(recs).String())
	for _, r := range recs {
		require.Equal(t, "123456789012", r.AccountID)
		require.Equal(t, model.StatusOpen, r.Status)
		require.NotEmpty(t, r.Description)
	}
}
