package store

// Logical schema, one table per persisted entity. Monetary columns are
// NUMERIC so decimal values round-trip exactly.
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS finops`,

	`CREATE TABLE IF NOT EXISTS finops.cost_data (
		id             UUID PRIMARY KEY,
		account_id     VARCHAR(50)  NOT NULL,
		service_name   VARCHAR(100) NOT NULL DEFAULT '',
		region         VARCHAR(50),
		usage_type     VARCHAR(200),
		resource_id    VARCHAR(200),
		cost           NUMERIC(18,6) NOT NULL CHECK (cost >= 0),
		usage_quantity NUMERIC(18,6),
		start_date     TIMESTAMP NOT NULL,
		end_date       TIMESTAMP NOT NULL,
		date_range_type VARCHAR(20) NOT NULL,
		currency       VARCHAR(10) NOT NULL DEFAULT 'USD',
		created_at     TIMESTAMP NOT NULL DEFAULT now(),
		updated_at     TIMESTAMP NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_cost_data_dates ON finops.cost_data (start_date, end_date)`,
	`CREATE INDEX IF NOT EXISTS idx_cost_data_service ON finops.cost_data (service_name)`,

	`CREATE TABLE IF NOT EXISTS finops.cost_forecasts (
		id               UUID PRIMARY KEY,
		account_id       VARCHAR(50)  NOT NULL,
		service_name     VARCHAR(100) NOT NULL,
		forecast_date    DATE NOT NULL,
		forecasted_cost  NUMERIC(18,6) NOT NULL CHECK (forecasted_cost >= 0),
		confidence_level DOUBLE PRECISION,
		model_version    VARCHAR(100),
		created_at       TIMESTAMP NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS finops.cost_recommendations (
		id                  UUID PRIMARY KEY,
		account_id          VARCHAR(50)  NOT NULL,
		resource_id         VARCHAR(200),
		service_name        VARCHAR(100) NOT NULL,
		recommendation_type VARCHAR(100) NOT NULL,
		description         TEXT NOT NULL,
		potential_savings   NUMERIC(18,6) CHECK (potential_savings >= 0),
		status              VARCHAR(20) NOT NULL DEFAULT 'open',
		created_at          TIMESTAMP NOT NULL DEFAULT now(),
		updated_at          TIMESTAMP NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS finops.chat_history (
		id                 UUID PRIMARY KEY,
		session_id         UUID NOT NULL,
		user_query         TEXT NOT NULL,
		assistant_response TEXT NOT NULL,
		backend_identifier VARCHAR(100),
		tokens_used        INTEGER,
		created_at         TIMESTAMP NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_chat_history_session ON finops.chat_history (session_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS finops.user_settings (
		id                UUID PRIMARY KEY,
		user_id           VARCHAR(100) NOT NULL UNIQUE,
		preferred_backend VARCHAR(50) NOT NULL DEFAULT 'local',
		budget_alerts     JSONB,
		custom_dashboards JSONB,
		created_at        TIMESTAMP NOT NULL DEFAULT now(),
		updated_at        TIMESTAMP NOT NULL DEFAULT now()
	)`,
}
