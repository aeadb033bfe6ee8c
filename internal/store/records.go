package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clearbrief/datahub/internal/dates"
)

// Record is one synchronized row in a dataset table. It mirrors the
// provider's record shape; the provider ID is the primary key so replace
// runs are idempotent.
type Record struct {
	ID           string
	Date         dates.Date
	Matter       string
	UserInitials string
	Amount       float64
	Description  string
}

// RangeStats is a consistent count/sum snapshot for a date range, taken
// in a single query so it cannot mix pre- and post-sync state.
type RangeStats struct {
	Rows int64
	Sum  float64
}

// DatasetStatus summarizes one dataset for status display.
type DatasetStatus struct {
	RowCount   int64
	LatestDate dates.Date // zero when the table is empty
}

// DeleteRange deletes rows whose record date falls in the inclusive range,
// returning the number deleted. Runs under the caller's transaction.
func (s *Store) DeleteRange(ctx context.Context, tx *sql.Tx, dataset string, start, end dates.Date) (int64, error) {
	table, err := tableFor(dataset)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE record_date >= ? AND record_date <= ?`,
		start.String(), end.String())
	if err != nil {
		return 0, fmt.Errorf("store: deleting %s range %s..%s: %w", dataset, start, end, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete rows affected: %w", err)
	}

	return n, nil
}

// InsertRecords inserts (or merges, on ID collision) records into the
// dataset table under the caller's transaction. Returns the number of
// rows written.
func (s *Store) InsertRecords(ctx context.Context, tx *sql.Tx, dataset string, records []Record) (int64, error) {
	table, err := tableFor(dataset)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+table+` (id, record_date, matter, user_initials, amount, description)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			record_date = excluded.record_date,
			matter = excluded.matter,
			user_initials = excluded.user_initials,
			amount = excluded.amount,
			description = excluded.description`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare insert for %s: %w", dataset, err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]

		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Date.String(), r.Matter, r.UserInitials, r.Amount, r.Description); err != nil {
			return 0, fmt.Errorf("store: inserting %s record %s: %w", dataset, r.ID, err)
		}
	}

	return int64(len(records)), nil
}

// CountRange returns the number of rows in the range without the sum,
// used by dry-run planning.
func (s *Store) CountRange(ctx context.Context, dataset string, start, end dates.Date) (int64, error) {
	stats, err := s.RangeStats(ctx, dataset, start, end)
	if err != nil {
		return 0, err
	}

	return stats.Rows, nil
}

// RangeStats returns the row count and amount sum for the inclusive range.
func (s *Store) RangeStats(ctx context.Context, dataset string, start, end dates.Date) (RangeStats, error) {
	return s.rangeStats(ctx, s.db, dataset, start, end, "")
}

// UserRangeStats returns the row count and amount sum for one user's rows
// in the inclusive range, used by drift spot checks.
func (s *Store) UserRangeStats(ctx context.Context, dataset string, start, end dates.Date, initials string) (RangeStats, error) {
	return s.rangeStats(ctx, s.db, dataset, start, end, initials)
}

func (s *Store) rangeStats(ctx context.Context, q dbtx, dataset string, start, end dates.Date, initials string) (RangeStats, error) {
	table, err := tableFor(dataset)
	if err != nil {
		return RangeStats{}, err
	}

	query := `SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM ` + table +
		` WHERE record_date >= ? AND record_date <= ?`
	args := []any{start.String(), end.String()}

	if initials != "" {
		query += ` AND user_initials = ?`
		args = append(args, initials)
	}

	var stats RangeStats
	if err := q.QueryRowContext(ctx, query, args...).Scan(&stats.Rows, &stats.Sum); err != nil {
		return RangeStats{}, fmt.Errorf("store: range stats for %s: %w", dataset, err)
	}

	return stats, nil
}

// Status returns the row count and latest record date for a dataset.
func (s *Store) Status(ctx context.Context, dataset string) (DatasetStatus, error) {
	table, err := tableFor(dataset)
	if err != nil {
		return DatasetStatus{}, err
	}

	var (
		status DatasetStatus
		latest sql.NullString
	)

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(record_date) FROM `+table).Scan(&status.RowCount, &latest)
	if err != nil {
		return DatasetStatus{}, fmt.Errorf("store: status for %s: %w", dataset, err)
	}

	if latest.Valid {
		d, parseErr := dates.ParseDate(latest.String)
		if parseErr != nil {
			return DatasetStatus{}, fmt.Errorf("store: bad record_date in %s: %w", dataset, parseErr)
		}

		status.LatestDate = d
	}

	return status, nil
}
