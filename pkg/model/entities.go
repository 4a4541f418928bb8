// Package model defines the canonical entities of the cost pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Granularity is the time bucket size for cost aggregation.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// Valid reports whether g is a supported granularity.
func (g Granularity) Valid() bool {
	return g == GranularityDaily || g == GranularityMonthly
}

// Dimension is a grouping axis used to split cost totals.
type Dimension string

const (
	DimensionService   Dimension = "SERVICE"
	DimensionRegion    Dimension = "REGION"
	DimensionUsageType Dimension = "USAGE_TYPE"
)

// Valid reports whether d is a supported grouping dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionService, DimensionRegion, DimensionUsageType:
		return true
	}
	return false
}

// RecommendationStatus tracks the lifecycle of a recommendation.
// Status transitions are the only mutation; rows are never hard-deleted.
type RecommendationStatus string

const (
	StatusOpen        RecommendationStatus = "open"
	StatusImplemented RecommendationStatus = "implemented"
	StatusDismissed   RecommendationStatus = "dismissed"
)

// Valid reports whether s is a known recommendation status.
func (s RecommendationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusImplemented, StatusDismissed:
		return true
	}
	return false
}

// CostRecord is one billed amount for an (account, service, region?,
// usage-type?, resource?) tuple over a time window. Records are immutable
// once persisted; later ingestions covering overlapping windows supersede
// rather than update, so duplicates are tolerated by the ingestion path.
type CostRecord struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     string          `json:"account_id"`
	ServiceName   string          `json:"service_name"`
	Region        string          `json:"region,omitempty"`
	UsageType     string          `json:"usage_type,omitempty"`
	ResourceID    string          `json:"resource_id,omitempty"`
	Cost          decimal.Decimal `json:"cost"`
	UsageQuantity decimal.Decimal `json:"usage_quantity,omitempty"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	Granularity   Granularity     `json:"granularity"`
	Currency      string          `json:"currency"`
	CreatedAt     time.Time       `json:"created_at,omitempty"`
}

// Validate checks the invariants all monetary records must hold.
func (r *CostRecord) Validate() error {
	if r.ServiceName == "" && r.Region == "" && r.UsageType == "" {
		return fmt.Errorf("cost record has no grouping attribute set")
	}
	if r.Cost.IsNegative() {
		return fmt.Errorf("cost must be non-negative, got %s", r.Cost)
	}
	if r.EndDate.Before(r.StartDate) {
		return fmt.Errorf("end_date %s before start_date %s",
			r.EndDate.Format("2006-01-02"), r.StartDate.Format("2006-01-02"))
	}
	if !r.Granularity.Valid() {
		return fmt.Errorf("unsupported granularity %q", r.Granularity)
	}
	if len(r.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code, got %q", r.Currency)
	}
	return nil
}

// ForecastPoint is a predicted cost for a future date. Never mutated,
// retained indefinitely for audit and model comparison.
type ForecastPoint struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       string          `json:"account_id"`
	ServiceName     string          `json:"service_name"`
	ForecastDate    time.Time       `json:"forecast_date"`
	ForecastedCost  decimal.Decimal `json:"forecasted_cost"`
	ConfidenceLevel *float64        `json:"confidence_level,omitempty"`
	ModelVersion    string          `json:"model_version"`
	CreatedAt       time.Time       `json:"created_at,omitempty"`
}

// Recommendation is a suggested cost optimization action.
type Recommendation struct {
	ID                 uuid.UUID            `json:"id"`
	AccountID          string               `json:"account_id"`
	ResourceID         string               `json:"resource_id,omitempty"`
	ServiceName        string               `json:"service_name"`
	RecommendationType string               `json:"recommendation_type"`
	Description        string               `json:"description"`
	PotentialSavings   decimal.Decimal      `json:"potential_savings"`
	Status             RecommendationStatus `json:"status"`
	CreatedAt          time.Time            `json:"created_at,omitempty"`
	UpdatedAt          time.Time            `json:"updated_at,omitempty"`
}

// TotalPotentialSavings sums potential_savings across a recommendation set.
// The sum is a derived display value and is never persisted.
func TotalPotentialSavings(recs []Recommendation) decimal.Decimal {
	total := decimal.Zero
	for _, r := range recs {
		total = total.Add(r.PotentialSavings)
	}
	return total
}

// SumServiceTotals adds up the per-service aggregates.
func SumServiceTotals(totals []ServiceTotal) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range totals {
		sum = sum.Add(t.TotalCost)
	}
	return sum
}

// ChatTurn is one user/assistant exchange. Append-only; a session's turns
// form an ordered conversation history keyed by creation time.
type ChatTurn struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	UserQuery  string    `json:"user_query"`
	Response   string    `json:"assistant_response"`
	Backend    string    `json:"backend_identifier"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// BudgetAlert is the per-user budget alert configuration.
type BudgetAlert struct {
	Enabled   bool            `json:"enabled"`
	Threshold decimal.Decimal `json:"threshold"`
}

// UserSettings holds per-user preferences. At most one active row per
// user_id; saves are upserts with field-wise merge.
type UserSettings struct {
	ID               uuid.UUID       `json:"id"`
	UserID           string          `json:"user_id"`
	PreferredBackend string          `json:"preferred_backend"`
	BudgetAlerts     *BudgetAlert    `json:"budget_alerts,omitempty"`
	CustomDashboards json.RawMessage `json:"custom_dashboards,omitempty"`
	CreatedAt        time.Time       `json:"created_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at,omitempty"`
}

// ServiceTotal is the result of a cost-by-service aggregate.
type ServiceTotal struct {
	ServiceName string          `json:"service"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Currency    string          `json:"currency"`
}

// DailyTotal is the result of a cost-by-day aggregate.
type DailyTotal struct {
	Day       time.Time       `json:"date"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Currency  string          `json:"currency"`
}
