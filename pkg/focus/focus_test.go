package focus

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cloud-finops/pkg/model"
)

func TestFromRecord(t *testing.T) {
	rec := model.CostRecord{
		AccountID:     "123456789012",
		ServiceName:   "Amazon EC2",
		Region:        "us-west-2",
		UsageType:     "BoxUsage:t3.large",
		Cost:          decimal.NewFromFloat(12.5),
		UsageQuantity: decimal.NewFromInt(24),
		StartDate:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		Currency:      "USD",
	}

	item := FromRecord(rec)
	require.Equal(t, "12.500000", item.BilledCost)
	require.Equal(t, "123456789012", item.BillingAccountId)
	require.Equal(t, "AWS", item.ProviderName)
	require.Equal(t, "us-west-2", item.RegionId)
	require.Equal(t, "BoxUsage:t3.large", item.SkuId)
	require.Equal(t, "24", item.ConsumedQuantity)
}

func TestFromRecord_ZeroUsageOmitted(t *testing.T) {
	item := FromRecord(model.CostRecord{ServiceName: "Amazon S3", Currency: "USD"})
	require.Empty(t, item.ConsumedQuantity)
}

func TestExport_WritesJSONArray(t *testing.T) {
	records := []model.CostRecord{
		{ServiceName: "Amazon EC2", Cost: decimal.NewFromInt(1), Currency: "USD"},
		{ServiceName: "Amazon S3", Cost: decimal.NewFromInt(2), Currency: "USD"},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, records))

	var items []CostItem
	require.NoError(t, json.Unmarshal(buf.Bytes(), &items))
	require.Len(t, items, 2)
	require.Equal(t, "Amazon S3", items[1].ServiceName)
}
