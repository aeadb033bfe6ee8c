package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbrief/datahub/internal/config"
	"github.com/clearbrief/datahub/internal/dates"
)

// newTestStore opens an in-memory store with migrations applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func d(t *testing.T, s string) dates.Date {
	t.Helper()

	parsed, err := dates.ParseDate(s)
	require.NoError(t, err)

	return parsed
}

// seedRecords inserts records through the public transaction API.
func seedRecords(t *testing.T, s *Store, dataset string, records []Record) {
	t.Helper()

	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	_, err = s.InsertRecords(ctx, tx, dataset, records)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func janRecords() []Record {
	return []Record{
		{ID: "a1", Date: mustD("2024-01-05"), Matter: "M-100", UserInitials: "jh", Amount: 120.50},
		{ID: "a2", Date: mustD("2024-01-12"), Matter: "M-101", UserInitials: "sm", Amount: 80.00},
		{ID: "a3", Date: mustD("2024-01-30"), Matter: "M-100", UserInitials: "jh", Amount: 45.25},
	}
}

func mustD(s string) dates.Date {
	parsed, err := dates.ParseDate(s)
	if err != nil {
		panic(err)
	}

	return parsed
}

func TestInsertAndRangeStats(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, config.DatasetWIP, janRecords())

	stats, err := s.RangeStats(context.Background(), config.DatasetWIP,
		d(t, "2024-01-01"), d(t, "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Rows)
	assert.InDelta(t, 245.75, stats.Sum, 0.001)
}

func TestRangeStats_InclusiveBoundaries(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, config.DatasetWIP, janRecords())

	// Range covering exactly the first and last record dates.
	stats, err := s.RangeStats(context.Background(), config.DatasetWIP,
		d(t, "2024-01-05"), d(t, "2024-01-30"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Rows)

	stats, err = s.RangeStats(context.Background(), config.DatasetWIP,
		d(t, "2024-01-06"), d(t, "2024-01-29"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Rows)
}

func TestDeleteRange(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, config.DatasetCollectedTime, janRecords())

	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	n, err := s.DeleteRange(ctx, tx, config.DatasetCollectedTime,
		d(t, "2024-01-01"), d(t, "2024-01-15"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, int64(2), n)

	stats, err := s.RangeStats(ctx, config.DatasetCollectedTime,
		d(t, "2024-01-01"), d(t, "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Rows)
}

func TestDeleteRange_RollbackLeavesRowsIntact(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, config.DatasetWIP, janRecords())

	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	_, err = s.DeleteRange(ctx, tx, config.DatasetWIP, d(t, "2024-01-01"), d(t, "2024-01-31"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	stats, err := s.RangeStats(ctx, config.DatasetWIP, d(t, "2024-01-01"), d(t, "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Rows, "rollback must restore deleted rows")
}

func TestInsertRecords_UpsertOnSameID(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, config.DatasetWIP, janRecords())

	// Re-inserting a1 with a new amount replaces, not duplicates.
	seedRecords(t, s, config.DatasetWIP, []Record{
		{ID: "a1", Date: mustD("2024-01-05"), UserInitials: "jh", Amount: 999},
	})

	stats, err := s.RangeStats(context.Background(), config.DatasetWIP,
		d(t, "2024-01-01"), d(t, "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Rows)
	assert.InDelta(t, 999+80.00+45.25, stats.Sum, 0.001)
}

func TestUserRangeStats(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, config.DatasetWIP, janRecords())

	stats, err := s.UserRangeStats(context.Background(), config.DatasetWIP,
		d(t, "2024-01-01"), d(t, "2024-01-31"), "jh")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Rows)
	assert.InDelta(t, 165.75, stats.Sum, 0.001)
}

func TestStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	status, err := s.Status(ctx, config.DatasetWIP)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.RowCount)
	assert.True(t, status.LatestDate.IsZero())

	seedRecords(t, s, config.DatasetWIP, janRecords())

	status, err = s.Status(ctx, config.DatasetWIP)
	require.NoError(t, err)
	assert.Equal(t, int64(3), status.RowCount)
	assert.Equal(t, "2024-01-30", status.LatestDate.String())
}

func TestUnknownDatasetRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RangeStats(context.Background(), "billing",
		d(t, "2024-01-01"), d(t, "2024-01-31"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dataset")
}

func TestDatasetsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, config.DatasetWIP, janRecords())

	stats, err := s.RangeStats(context.Background(), config.DatasetCollectedTime,
		d(t, "2024-01-01"), d(t, "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Rows)
}
