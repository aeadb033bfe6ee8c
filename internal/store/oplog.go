package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clearbrief/datahub/internal/dates"
)

// Status values for operation log entries. A run writes one started
// entry, zero or more progress entries, and exactly one terminal entry.
type Status string

const (
	StatusStarted   Status = "started"
	StatusProgress  Status = "progress"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusAborted
}

// LogEntry is one append-only operation log row.
type LogEntry struct {
	ID           string
	Timestamp    time.Time
	Dataset      string
	OpKey        string
	Status       Status
	DeletedRows  int64
	InsertedRows int64
	DurationMs   int64
	StartDate    dates.Date
	EndDate      dates.Date
	InvokedBy    string
	Message      string
}

// LogQuery filters operation log reads. Zero values mean "no filter".
type LogQuery struct {
	Dataset string
	OpKey   string
	Since   time.Time
	Limit   int
}

// AppendLog writes one log entry. Entries are never updated; the caller
// expresses run progress by appending further rows for the same op key.
// The entry ID is assigned here.
func (s *Store) AppendLog(ctx context.Context, e *LogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO op_log
			(id, ts, dataset, op_key, status, deleted_rows, inserted_rows,
			 duration_ms, start_date, end_date, invoked_by, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixNano(), e.Dataset, e.OpKey, string(e.Status),
		e.DeletedRows, e.InsertedRows, e.DurationMs,
		e.StartDate.String(), e.EndDate.String(), e.InvokedBy, e.Message)
	if err != nil {
		return fmt.Errorf("store: appending log entry for %s: %w", e.OpKey, err)
	}

	s.logger.Debug("op log entry appended",
		slog.String("op_key", e.OpKey),
		slog.String("status", string(e.Status)),
	)

	return nil
}

// ListLog returns log entries matching the query, newest first. This is
// the pull API behind `log(since)`; a single query keeps the read a
// consistent snapshot under concurrent syncs.
func (s *Store) ListLog(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	query := logSelectCols + ` WHERE 1=1`

	var args []any

	if q.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, q.Dataset)
	}

	if q.OpKey != "" {
		query += ` AND op_key = ?`
		args = append(args, q.OpKey)
	}

	if !q.Since.IsZero() {
		query += ` AND ts > ?`
		args = append(args, q.Since.UnixNano())
	}

	query += ` ORDER BY ts DESC, id DESC`

	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	return s.queryLog(ctx, query, args...)
}

// HistoryForKey returns all entries for one operation key, oldest first,
// so the started → progress → terminal sequence reads in order.
func (s *Store) HistoryForKey(ctx context.Context, opKey string) ([]LogEntry, error) {
	return s.queryLog(ctx, logSelectCols+` WHERE op_key = ? ORDER BY ts ASC, id ASC`, opKey)
}

// LastCompleted returns the most recent completed entry for an operation
// key, or nil if the exact range has never completed.
func (s *Store) LastCompleted(ctx context.Context, opKey string) (*LogEntry, error) {
	entries, err := s.queryLog(ctx,
		logSelectCols+` WHERE op_key = ? AND status = ? ORDER BY ts DESC LIMIT 1`,
		opKey, string(StatusCompleted))
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, nil
	}

	return &entries[0], nil
}

// LastEntry returns the newest entry for a dataset, or nil when the log
// has none. Used for staleness display in status output.
func (s *Store) LastEntry(ctx context.Context, dataset string) (*LogEntry, error) {
	entries, err := s.queryLog(ctx,
		logSelectCols+` WHERE dataset = ? ORDER BY ts DESC LIMIT 1`, dataset)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, nil
	}

	return &entries[0], nil
}

// EntriesSince returns all entries for a dataset stamped after cutoff,
// oldest first, in one query. Coverage audits project over this set.
func (s *Store) EntriesSince(ctx context.Context, dataset string, cutoff time.Time) ([]LogEntry, error) {
	return s.queryLog(ctx,
		logSelectCols+` WHERE dataset = ? AND ts > ? ORDER BY ts ASC, id ASC`,
		dataset, cutoff.UnixNano())
}

// EntriesForDataset returns every entry for a dataset, oldest first, in
// one query. Coverage audits project over this set; filtering by entry
// timestamp would hide backfills of old months, so the projection sees
// the full history.
func (s *Store) EntriesForDataset(ctx context.Context, dataset string) ([]LogEntry, error) {
	return s.queryLog(ctx,
		logSelectCols+` WHERE dataset = ? ORDER BY ts ASC, id ASC`, dataset)
}

// logSelectCols is the column list shared by all op log queries.
const logSelectCols = `SELECT id, ts, dataset, op_key, status, deleted_rows,
	inserted_rows, duration_ms, start_date, end_date, invoked_by, message
 FROM op_log`

// queryLog executes a log query and scans the rows.
func (s *Store) queryLog(ctx context.Context, query string, args ...any) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying op log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry

	for rows.Next() {
		e, scanErr := scanLogEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating op log rows: %w", err)
	}

	return entries, nil
}

// scanLogEntry scans a single op log row.
func scanLogEntry(rows *sql.Rows) (*LogEntry, error) {
	var (
		e          LogEntry
		ts         int64
		status     string
		startDate  string
		endDate    string
		invokedBy  sql.NullString
		messageCol sql.NullString
	)

	err := rows.Scan(&e.ID, &ts, &e.Dataset, &e.OpKey, &status,
		&e.DeletedRows, &e.InsertedRows, &e.DurationMs,
		&startDate, &endDate, &invokedBy, &messageCol)
	if err != nil {
		return nil, fmt.Errorf("store: scanning op log row: %w", err)
	}

	e.Timestamp = time.Unix(0, ts)
	e.Status = Status(status)
	e.InvokedBy = invokedBy.String
	e.Message = messageCol.String

	start, err := dates.ParseDate(startDate)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("store: bad start_date in op log row %s", e.ID), err)
	}

	end, err := dates.ParseDate(endDate)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("store: bad end_date in op log row %s", e.ID), err)
	}

	e.StartDate, e.EndDate = start, end

	return &e, nil
}
