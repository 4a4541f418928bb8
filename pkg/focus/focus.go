// Package focus renders cost records as FOCUS-conformant rows for
// interchange with other FinOps tooling.
package focus

import (
	"encoding/json"
	"io"
	"time"

	"cloud-finops/pkg/model"
)

// CostItem is one FOCUS cost-and-usage row. Column names follow the
// FOCUS 1.0 column naming.
type CostItem struct {
	BilledCost        string    `json:"BilledCost"`
	BillingAccountId  string    `json:"BillingAccountId"`
	BillingCurrency   string    `json:"BillingCurrency"`
	ChargePeriodStart time.Time `json:"ChargePeriodStart"`
	ChargePeriodEnd   time.Time `json:"ChargePeriodEnd"`
	ConsumedQuantity  string    `json:"ConsumedQuantity,omitempty"`
	ProviderName      string    `json:"ProviderName"`
	RegionId          string    `json:"RegionId,omitempty"`
	ResourceId        string    `json:"ResourceId,omitempty"`
	ServiceName       string    `json:"ServiceName"`
	SkuId             string    `json:"SkuId,omitempty"`
}

// FromRecord maps a cost record onto the FOCUS column set.
func FromRecord(r model.CostRecord) CostItem {
	item := CostItem{
		BilledCost:        r.Cost.StringFixed(6),
		BillingAccountId:  r.AccountID,
		BillingCurrency:   r.Currency,
		ChargePeriodStart: r.StartDate,
		ChargePeriodEnd:   r.EndDate,
		ProviderName:      "AWS",
		RegionId:          r.Region,
		ResourceId:        r.ResourceID,
		ServiceName:       r.ServiceName,
		SkuId:             r.UsageType,
	}
	if !r.UsageQuantity.IsZero() {
		item.ConsumedQuantity = r.UsageQuantity.String()
	}
	return item
}

// Export writes the records as a FOCUS JSON array.
func Export(w io.Writer, records []model.CostRecord) error {
	items := make([]CostItem, len(records))
	for i, r := range records {
		items[i] = FromRecord(r)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}
