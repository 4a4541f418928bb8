package store

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatements_CoverAllTables(t *testing.T) {
	joined := strings.Join(schemaStatements, "\n")

	require.Contains(t, joined, "CREATE SCHEMA IF NOT EXISTS finops")
	for _, table := range []string{
		"finops.cost_data",
		"finops.cost_forecasts",
		"finops.cost_recommendations",
		"finops.chat_history",
		"finops.user_settings",
	} {
		require.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table)
	}

	// Everything is idempotent so init-db can run repeatedly.
	for _, stmt := range schemaStatements {
		require.Contains(t, stmt, "IF NOT EXISTS")
	}
}

func TestSchemaStatements_MoneyColumnsAreNumeric(t *testing.T) {
	joined := strings.Join(schemaStatements, "\n")
	require.Contains(t, joined, "cost           NUMERIC(18,6) NOT NULL CHECK (cost >= 0)")
	require.Contains(t, joined, "forecasted_cost  NUMERIC(18,6)")
	require.Contains(t, joined, "potential_savings   NUMERIC(18,6)")
	require.NotContains(t, strings.ToLower(joined), "float", "money must never be floating point")
}

func TestNullHelpers(t *testing.T) {
	require.Equal(t, sql.NullString{String: "x", Valid: true}, nullString("x"))
	require.Equal(t, sql.NullString{}, nullString(""))

	require.Equal(t, sql.NullInt64{Int64: 7, Valid: true}, nullInt(7))
	require.False(t, nullInt(0).Valid)

	require.Nil(t, nullDecimal(decimal.Zero))
	require.NotNil(t, nullDecimal(decimal.NewFromInt(3)))
}
