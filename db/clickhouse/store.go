// Package clickhouse provides the optional columnar analytics mirror for
// cost records. Postgres stays the system of record; the mirror serves
// aggregate queries over high-cardinality usage data.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"cloud-finops/pkg/config"
	"cloud-finops/pkg/model"
)

// Store implements cost analytics on ClickHouse.
type Store struct {
	conn clickhouse.Conn
	cfg  config.ClickHouseConfig
}

// NewStore connects to ClickHouse using the mirror configuration.
func NewStore(cfg config.ClickHouseConfig) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	return &Store{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates the mirror table if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS cost_data (
			id              UUID,
			account_id      String,
			service_name    String,
			region          String,
			usage_type      String,
			resource_id     String,
			cost            Decimal(18, 6),
			usage_quantity  Decimal(18, 6),
			start_date      DateTime,
			end_date        DateTime,
			date_range_type LowCardinality(String),
			currency        LowCardinality(String),
			created_at      DateTime DEFAULT now()
		) ENGINE = MergeTree()
		ORDER BY (start_date, service_name)
	`
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create cost_data table: %w", err)
	}
	return nil
}

// MirrorCostRecords batch-inserts cost records into the mirror.
func (s *Store) MirrorCostRecords(ctx context.Context, records []model.CostRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO cost_data (
			id, account_id, service_name, region, usage_type, resource_id,
			cost, usage_quantity, start_date, end_date, date_range_type, currency, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if err := batch.Append(
			rec.ID, rec.AccountID, rec.ServiceName, rec.Region,
			rec.UsageType, rec.ResourceID,
			rec.Cost, rec.UsageQuantity,
			rec.StartDate, rec.EndDate,
			string(rec.Granularity), rec.Currency, time.Now(),
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// SumCostByService aggregates total cost per service over a date range,
// ordered by total descending.
func (s *Store) SumCostByService(ctx context.Context, start, end time.Time) ([]model.ServiceTotal, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT service_name, sum(cost) AS total_cost, min(currency) AS currency
		FROM cost_data
		WHERE start_date >= ? AND end_date <= ?
		GROUP BY service_name
		ORDER BY total_cost DESC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by service: %w", err)
	}
	defer rows.Close()

	var totals []model.ServiceTotal
	for rows.Next() {
		var t model.ServiceTotal
		if err := rows.Scan(&t.ServiceName, &t.TotalCost, &t.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan service total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, nil
}

// SumCostByDay aggregates total cost per day over a date range, ordered
// by day ascending.
func (s *Store) SumCostByDay(ctx context.Context, start, end time.Time) ([]model.DailyTotal, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT toStartOfDay(start_date) AS day, sum(cost) AS total_cost, min(currency) AS currency
		FROM cost_data
		WHERE start_date >= ? AND end_date <= ?
		GROUP BY day
		ORDER BY day ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by day: %w", err)
	}
	defer rows.Close()

	var totals []model.DailyTotal
	for rows.Next() {
		var t model.DailyTotal
		if err := rows.Scan(&t.Day, &t.TotalCost, &t.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan daily total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, nil
}
