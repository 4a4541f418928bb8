// Package store provides durable relational storage for cost records,
// forecasts, recommendations, chat turns, and per-user settings.
//
// Writes are transactional per batch: a failure mid-batch rolls back the
// entire batch and re-raises. Reads on display paths degrade to empty
// result sets so rendering stays resilient.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cloud-finops/pkg/config"
	"cloud-finops/pkg/finerr"
	"cloud-finops/pkg/model"
)

// Postgres is the system-of-record store.
type Postgres struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgres opens a connection pool and verifies connectivity.
func NewPostgres(cfg config.PostgresConfig, logger zerolog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, finerr.Configuration(fmt.Sprintf("failed to open postgres connection: %v", err))
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, finerr.Configuration(fmt.Sprintf("failed to reach postgres at %s:%d: %v", cfg.Host, cfg.Port, err))
	}

	return &Postgres{db: db, logger: logger.With().Str("component", "store").Logger()}, nil
}

// NewPostgresWithDB builds a store around an existing connection pool.
func NewPostgresWithDB(db *sql.DB, logger zerolog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger.With().Str("component", "store").Logger()}
}

// Ping checks database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the finops schema and tables if absent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return finerr.Persistence("failed to create schema", err)
		}
	}
	return nil
}

// =============================================================================
// COST DATA
// =============================================================================

// InsertCostRecords writes a batch of cost records atomically. Either
// every record in the batch becomes visible or none does.
func (s *Postgres) InsertCostRecords(ctx context.Context, records []model.CostRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return finerr.Persistence("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO finops.cost_data (
			id, account_id, service_name, region, usage_type, resource_id,
			cost, usage_quantity, start_date, end_date, date_range_type, currency
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return finerr.Persistence("failed to prepare cost insert", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return finerr.Persistence("invalid cost record rejected", err)
		}
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.AccountID, rec.ServiceName,
			nullString(rec.Region), nullString(rec.UsageType), nullString(rec.ResourceID),
			rec.Cost, nullDecimal(rec.UsageQuantity),
			rec.StartDate, rec.EndDate, string(rec.Granularity), rec.Currency,
		); err != nil {
			return finerr.Persistence("failed to insert cost record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return finerr.Persistence("failed to commit cost batch", err)
	}
	s.logger.Info().Int("records", len(records)).Msg("saved cost data batch")
	return nil
}

// SumCostByService aggregates total cost per service across a date range,
// ordered by total descending. Failures degrade to an empty result.
func (s *Postgres) SumCostByService(ctx context.Context, start, end time.Time) []model.ServiceTotal {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_name, SUM(cost) AS total_cost, MIN(currency) AS currency
		FROM finops.cost_data
		WHERE start_date >= $1 AND end_date <= $2
		GROUP BY service_name
		ORDER BY total_cost DESC
	`, start, end)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cost-by-service query failed, returning empty result")
		return nil
	}
	defer rows.Close()

	var totals []model.ServiceTotal
	for rows.Next() {
		var t model.ServiceTotal
		if err := rows.Scan(&t.ServiceName, &t.TotalCost, &t.Currency); err != nil {
			s.logger.Warn().Err(err).Msg("failed to scan service total")
			return nil
		}
		totals = append(totals, t)
	}
	return totals
}

// SumCostByDay aggregates total cost per day across a date range,
// ordered by day ascending. Failures degrade to an empty result.
func (s *Postgres) SumCostByDay(ctx context.Context, start, end time.Time) []model.DailyTotal {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc('day', start_date) AS day, SUM(cost) AS total_cost, MIN(currency) AS currency
		FROM finops.cost_data
		WHERE start_date >= $1 AND end_date <= $2
		GROUP BY day
		ORDER BY day ASC
	`, start, end)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cost-by-day query failed, returning empty result")
		return nil
	}
	defer rows.Close()

	var totals []model.DailyTotal
	for rows.Next() {
		var t model.DailyTotal
		if err := rows.Scan(&t.Day, &t.TotalCost, &t.Currency); err != nil {
			s.logger.Warn().Err(err).Msg("failed to scan daily total")
			return nil
		}
		totals = append(totals, t)
	}
	return totals
}

// CostRecordsSince returns records with start_date on or after the cutoff,
// newest first, bounded by limit (0 means no bound).
func (s *Postgres) CostRecordsSince(ctx context.Context, cutoff time.Time, limit int) ([]model.CostRecord, error) {
	query := `
		SELECT id, account_id, service_name, COALESCE(region, ''), COALESCE(usage_type, ''),
		       COALESCE(resource_id, ''), cost, COALESCE(usage_quantity, 0),
		       start_date, end_date, date_range_type, currency, created_at
		FROM finops.cost_data
		WHERE start_date >= $1
		ORDER BY start_date DESC
	`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, finerr.Persistence("cost history query failed", err)
	}
	defer rows.Close()

	var records []model.CostRecord
	for rows.Next() {
		var rec model.CostRecord
		var gran string
		if err := rows.Scan(
			&rec.ID, &rec.AccountID, &rec.ServiceName, &rec.Region, &rec.UsageType,
			&rec.ResourceID, &rec.Cost, &rec.UsageQuantity,
			&rec.StartDate, &rec.EndDate, &gran, &rec.Currency, &rec.CreatedAt,
		); err != nil {
			return nil, finerr.Persistence("failed to scan cost record", err)
		}
		rec.Granularity = model.Granularity(gran)
		records = append(records, rec)
	}
	return records, nil
}

// =============================================================================
// FORECASTS
// =============================================================================

// InsertForecasts writes a forecast batch atomically.
func (s *Postgres) InsertForecasts(ctx context.Context, points []model.ForecastPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return finerr.Persistence("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO finops.cost_forecasts (
			id, account_id, service_name, forecast_date, forecasted_cost,
			confidence_level, model_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return finerr.Persistence("failed to prepare forecast insert", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if p.ForecastedCost.IsNegative() {
			return finerr.Persistence("invalid forecast rejected",
				fmt.Errorf("forecasted_cost must be non-negative, got %s", p.ForecastedCost))
		}
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.AccountID, p.ServiceName, p.ForecastDate,
			p.ForecastedCost, p.ConfidenceLevel, p.ModelVersion,
		); err != nil {
			return finerr.Persistence("failed to insert forecast point", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return finerr.Persistence("failed to commit forecast batch", err)
	}
	s.logger.Info().Int("points", len(points)).Msg("saved forecast batch")
	return nil
}

// LatestForecasts returns the most recently created forecast points.
// Failures degrade to an empty result.
func (s *Postgres) LatestForecasts(ctx context.Context, limit int) []model.ForecastPoint {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, service_name, forecast_date, forecasted_cost,
		       confidence_level, COALESCE(model_version, ''), created_at
		FROM finops.cost_forecasts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("forecast query failed, returning empty result")
		return nil
	}
	defer rows.Close()

	var points []model.ForecastPoint
	for rows.Next() {
		var p model.ForecastPoint
		if err := rows.Scan(&p.ID, &p.AccountID, &p.ServiceName, &p.ForecastDate,
			&p.ForecastedCost, &p.ConfidenceLevel, &p.ModelVersion, &p.CreatedAt); err != nil {
			s.logger.Warn().Err(err).Msg("failed to scan forecast point")
			return nil
		}
		points = append(points, p)
	}
	return points
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

// InsertRecommendations writes a recommendation batch atomically.
func (s *Postgres) InsertRecommendations(ctx context.Context, recs []model.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return finerr.Persistence("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO finops.cost_recommendations (
			id, account_id, resource_id, service_name, recommendation_type,
			description, potential_savings, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return finerr.Persistence("failed to prepare recommendation insert", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if r.PotentialSavings.IsNegative() {
			return finerr.Persistence("invalid recommendation rejected",
				fmt.Errorf("potential_savings must be non-negative, got %s", r.PotentialSavings))
		}
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.Status == "" {
			r.Status = model.StatusOpen
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.AccountID, nullString(r.ResourceID), r.ServiceName,
			r.RecommendationType, r.Description, r.PotentialSavings, string(r.Status),
		); err != nil {
			return finerr.Persistence("failed to insert recommendation", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return finerr.Persistence("failed to commit recommendation batch", err)
	}
	s.logger.Info().Int("recommendations", len(recs)).Msg("saved recommendation batch")
	return nil
}

// ListRecommendations returns recommendations with the given status,
// ordered by potential savings descending. Failures degrade to empty.
func (s *Postgres) ListRecommendations(ctx context.Context, status model.RecommendationStatus) []model.Recommendation {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, COALESCE(resource_id, ''), service_name,
		       recommendation_type, description, COALESCE(potential_savings, 0),
		       status, created_at, updated_at
		FROM finops.cost_recommendations
		WHERE status = $1
		ORDER BY potential_savings DESC
	`, string(status))
	if err != nil {
		s.logger.Warn().Err(err).Msg("recommendation query failed, returning empty result")
		return nil
	}
	defer rows.Close()

	var recs []model.Recommendation
	for rows.Next() {
		var r model.Recommendation
		var st string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.ResourceID, &r.ServiceName,
			&r.RecommendationType, &r.Description, &r.PotentialSavings,
			&st, &r.CreatedAt, &r.UpdatedAt); err != nil {
			s.logger.Warn().Err(err).Msg("failed to scan recommendation")
			return nil
		}
		r.Status = model.RecommendationStatus(st)
		recs = append(recs, r)
	}
	return recs
}

// UpdateRecommendationStatus transitions a recommendation's status, the
// only mutation a recommendation supports.
func (s *Postgres) UpdateRecommendationStatus(ctx context.Context, id uuid.UUID, status model.RecommendationStatus) error {
	if !status.Valid() {
		return finerr.Persistence("invalid status transition",
			fmt.Errorf("unknown status %q", status))
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE finops.cost_recommendations
		SET status = $1, updated_at = now()
		WHERE id = $2
	`, string(status), id)
	if err != nil {
		return finerr.Persistence("failed to update recommendation status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return finerr.Persistence("recommendation not found", fmt.Errorf("id %s", id))
	}
	return nil
}

// =============================================================================
// CHAT HISTORY
// =============================================================================

// SaveChatTurn appends one user/assistant exchange to a session.
func (s *Postgres) SaveChatTurn(ctx context.Context, turn model.ChatTurn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finops.chat_history (
			id, session_id, user_query, assistant_response, backend_identifier, tokens_used
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, turn.ID, turn.SessionID, turn.UserQuery, turn.Response,
		nullString(turn.Backend), nullInt(turn.TokensUsed))
	if err != nil {
		return finerr.Persistence("failed to save chat turn", err)
	}
	return nil
}

// ChatHistory returns a session's turns most-recent-first, bounded by
// limit. Failures degrade to an empty result.
func (s *Postgres) ChatHistory(ctx context.Context, sessionID uuid.UUID, limit int) []model.ChatTurn {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_query, assistant_response,
		       COALESCE(backend_identifier, ''), COALESCE(tokens_used, 0), created_at
		FROM finops.chat_history
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("chat history query failed, returning empty result")
		return nil
	}
	defer rows.Close()

	var turns []model.ChatTurn
	for rows.Next() {
		var t model.ChatTurn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserQuery, &t.Response,
			&t.Backend, &t.TokensUsed, &t.CreatedAt); err != nil {
			s.logger.Warn().Err(err).Msg("failed to scan chat turn")
			return nil
		}
		turns = append(turns, t)
	}
	return turns
}

// =============================================================================
// USER SETTINGS
// =============================================================================

// GetSettings returns the settings for a user, or nil when absent.
func (s *Postgres) GetSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, preferred_backend, budget_alerts, custom_dashboards,
		       created_at, updated_at
		FROM finops.user_settings
		WHERE user_id = $1
	`, userID)

	var settings model.UserSettings
	var alerts, dashboards []byte
	err := row.Scan(&settings.ID, &settings.UserID, &settings.PreferredBackend,
		&alerts, &dashboards, &settings.CreatedAt, &settings.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, finerr.Persistence("failed to get user settings", err)
	}

	if len(alerts) > 0 {
		var ba model.BudgetAlert
		if err := json.Unmarshal(alerts, &ba); err == nil {
			settings.BudgetAlerts = &ba
		}
	}
	settings.CustomDashboards = dashboards
	return &settings, nil
}

// SaveSettings upserts a user's settings with field-wise merge: absent
// fields in the incoming value keep their stored counterparts.
func (s *Postgres) SaveSettings(ctx context.Context, incoming model.UserSettings) error {
	if incoming.UserID == "" {
		return finerr.Persistence("user settings rejected", fmt.Errorf("user_id is required"))
	}

	existing, err := s.GetSettings(ctx, incoming.UserID)
	if err != nil {
		return err
	}

	merged := incoming
	if existing != nil {
		merged.ID = existing.ID
		if merged.PreferredBackend == "" {
			merged.PreferredBackend = existing.PreferredBackend
		}
		if merged.BudgetAlerts == nil {
			merged.BudgetAlerts = existing.BudgetAlerts
		}
		if len(merged.CustomDashboards) == 0 {
			merged.CustomDashboards = existing.CustomDashboards
		}
	}
	if merged.ID == uuid.Nil {
		merged.ID = uuid.New()
	}
	if merged.PreferredBackend == "" {
		merged.PreferredBackend = "local"
	}

	var alerts any
	if merged.BudgetAlerts != nil {
		raw, err := json.Marshal(merged.BudgetAlerts)
		if err != nil {
			return finerr.Persistence("failed to encode budget alerts", err)
		}
		alerts = raw
	}
	var dashboards any
	if len(merged.CustomDashboards) > 0 {
		dashboards = []byte(merged.CustomDashboards)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO finops.user_settings (id, user_id, preferred_backend, budget_alerts, custom_dashboards)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_backend = EXCLUDED.preferred_backend,
			budget_alerts     = COALESCE(EXCLUDED.budget_alerts, finops.user_settings.budget_alerts),
			custom_dashboards = COALESCE(EXCLUDED.custom_dashboards, finops.user_settings.custom_dashboards),
			updated_at        = now()
	`, merged.ID, merged.UserID, merged.PreferredBackend, alerts, dashboards)
	if err != nil {
		return finerr.Persistence("failed to save user settings", err)
	}
	return nil
}

// =============================================================================
// READ-ONLY QUERY (analysis chain)
// =============================================================================

// RunSelect executes a read-only SELECT and returns the rows as generic
// maps, column order preserved separately for rendering.
func (s *Postgres) RunSelect(ctx context.Context, query string) ([]string, []map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, finerr.Persistence("query execution failed", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, finerr.Persistence("failed to read columns", err)
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, finerr.Persistence("failed to scan row", err)
		}
		rowMap := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = values[i]
			}
		}
		result = append(result, rowMap)
	}
	return cols, result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}

func nullDecimal(d decimal.Decimal) any {
	if d.IsZero() {
		return nil
	}
	return d
}
