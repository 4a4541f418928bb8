package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cloud-finops/pkg/finerr"
	"cloud-finops/pkg/model"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "sqlmock setup should not fail")
	t.Cleanup(func() { db.Close() })
	return NewPostgresWithDB(db, zerolog.Nop()), mock
}

func storedRecord(service string, cost int64) model.CostRecord {
	return model.CostRecord{
		AccountID:   "123456789012",
		ServiceName: service,
		Region:      "us-west-2",
		Cost:        decimal.NewFromInt(cost),
		Currency:    "USD",
		Granularity: model.GranularityDaily,
		StartDate:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// BATCH ATOMICITY
// =============================================================================

func TestInsertCostRecords_InvalidRecordRollsBackBatch(t *testing.T) {
	s, mock := newMockStore(t)

	bad := storedRecord("Amazon S3", 0)
	bad.Cost = decimal.NewFromInt(-5)
	records := []model.CostRecord{storedRecord("Amazon EC2", 10), bad}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO finops.cost_data")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := s.InsertCostRecords(context.Background(), records)
	require.Error(t, err)
	require.True(t, finerr.Is(err, finerr.KindPersistence))
	require.NoError(t, mock.ExpectationsWereMet(), "batch must roll back, never commit")
}

func TestInsertCostRecords_ExecFailureRollsBackBatch(t *testing.T) {
	s, mock := newMockStore(t)

	records := []model.CostRecord{
		storedRecord("Amazon EC2", 10),
		storedRecord("Amazon S3", 3),
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO finops.cost_data")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := s.InsertCostRecords(context.Background(), records)
	require.Error(t, err)
	require.True(t, finerr.Is(err, finerr.KindPersistence))
	require.NoError(t, mock.ExpectationsWereMet(), "a mid-batch write failure must roll back the whole batch")
}

func TestInsertCostRecords_CommitsWholeBatch(t *testing.T) {
	s, mock := newMockStore(t)

	records := []model.CostRecord{
		storedRecord("Amazon EC2", 10),
		storedRecord("Amazon S3", 3),
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO finops.cost_data")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.InsertCostRecords(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCostRecords_EmptyBatchIsNoOp(t *testing.T) {
	s, mock := newMockStore(t)

	require.NoError(t, s.InsertCostRecords(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet(), "an empty batch must not touch the database")
}

// =============================================================================
// AGGREGATES
// =============================================================================

func TestSumCostByService_OrderedDescendingWithTotal(t *testing.T) {
	s, mock := newMockStore(t)

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT service_name, SUM").
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"service_name", "total_cost", "currency"}).
			AddRow("Amazon EC2", "70.50", "USD").
			AddRow("Amazon S3", "20.00", "USD").
			AddRow("Amazon RDS", "9.50", "USD"))

	totals := s.SumCostByService(context.Background(), start, end)
	require.Len(t, totals, 3)
	require.Equal(t, "Amazon EC2", totals[0].ServiceName, "highest spender should come first")
	require.Equal(t, "Amazon RDS", totals[2].ServiceName)
	require.Equal(t, "100", model.SumServiceTotals(totals).String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSumCostByService_QueryFailureReturnsEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT service_name, SUM").
		WillReturnError(errors.New("relation does not exist"))

	totals := s.SumCostByService(context.Background(), time.Now(), time.Now())
	require.Empty(t, totals, "display reads should degrade to an empty result")
	require.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// CHAT HISTORY
// =============================================================================

func TestChatHistory_MostRecentFirst(t *testing.T) {
	s, mock := newMockStore(t)

	sessionID := uuid.New()
	newer := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	older := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, session_id, user_query").
		WithArgs(sessionID, 2).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "user_query", "assistant_response",
			"backend_identifier", "tokens_used", "created_at",
		}).
			AddRow(uuid.New(), sessionID, "what changed today?", "S3 spiked", "local", 120, newer).
			AddRow(uuid.New(), sessionID, "top service?", "EC2", "local", 80, older))

	turns := s.ChatHistory(context.Background(), sessionID, 2)
	require.Len(t, turns, 2)
	require.Equal(t, "what changed today?", turns[0].UserQuery, "newest turn should come first")
	require.Equal(t, 120, turns[0].TokensUsed)
	require.True(t, turns[0].CreatedAt.After(turns[1].CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}
