package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clearbrief/datahub/internal/dates"
	"github.com/clearbrief/datahub/internal/store"
)

// CoverageRecord summarizes one calendar month's sync history for a
// dataset. Derived on demand from the operation log; never stored.
type CoverageRecord struct {
	Month         dates.Month
	LastSync      *store.LogEntry // most recent non-progress sync entry overlapping the month
	SyncCount     int
	LastValidate  *store.LogEntry
	ValidateCount int
}

// Covered reports whether the month has a successfully completed sync as
// its most recent outcome.
func (r CoverageRecord) Covered() bool {
	return r.LastSync != nil && r.LastSync.Status == store.StatusCompleted
}

// Label returns the display state for the month: "covered", "error",
// "aborted", "started" (a possibly-stuck run with no terminal entry yet)
// or "uncovered".
func (r CoverageRecord) Label() string {
	if r.LastSync == nil {
		return "uncovered"
	}

	switch r.LastSync.Status {
	case store.StatusCompleted:
		return "covered"
	case store.StatusStarted:
		return "started"
	default:
		return string(r.LastSync.Status)
	}
}

// CoverageTracker projects monthly coverage from the operation log.
// It is read-only and safe to run concurrently with sync runs; each audit
// is a single log query, so it never mixes pre- and post-sync state.
type CoverageTracker struct {
	store  CoverageStore
	months int
	logger *slog.Logger

	// now is the clock, overridable in tests to pin the trailing window.
	now func() time.Time
}

// CoverageStore is the read-only log access a coverage audit needs.
type CoverageStore interface {
	EntriesForDataset(ctx context.Context, dataset string) ([]store.LogEntry, error)
}

// NewCoverageTracker creates a tracker auditing the trailing `months`
// calendar months.
func NewCoverageTracker(st CoverageStore, months int, logger *slog.Logger) *CoverageTracker {
	if logger == nil {
		logger = slog.Default()
	}

	return &CoverageTracker{
		store:  st,
		months: months,
		logger: logger,
		now:    time.Now,
	}
}

// MonthAudit returns one CoverageRecord per trailing month, newest first.
func (c *CoverageTracker) MonthAudit(ctx context.Context, dataset string) ([]CoverageRecord, error) {
	entries, err := c.store.EntriesForDataset(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("engine: coverage audit for %s: %w", dataset, err)
	}

	months := dates.TrailingMonths(dates.DateOf(c.now()).Month(), c.months)
	records := make([]CoverageRecord, 0, len(months))

	for _, month := range months {
		records = append(records, projectMonth(month, entries))
	}

	return records, nil
}

// UncoveredMonths returns the trailing months without a completed sync,
// oldest first so backfills proceed chronologically.
func (c *CoverageTracker) UncoveredMonths(ctx context.Context, dataset string) ([]dates.Month, error) {
	records, err := c.MonthAudit(ctx, dataset)
	if err != nil {
		return nil, err
	}

	var uncovered []dates.Month

	// MonthAudit is newest-first; walk backwards for chronological order.
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].Covered() {
			uncovered = append(uncovered, records[i].Month)
		}
	}

	return uncovered, nil
}

// projectMonth folds the log entries overlapping one month into a
// CoverageRecord. Entries are ordered oldest first, so the last match
// wins for "most recent".
func projectMonth(month dates.Month, entries []store.LogEntry) CoverageRecord {
	record := CoverageRecord{Month: month}

	for i := range entries {
		e := &entries[i]

		if !month.Overlaps(e.StartDate, e.EndDate) {
			continue
		}

		if strings.HasPrefix(e.OpKey, KindValidate+":") {
			if e.Status.Terminal() {
				record.ValidateCount++
				record.LastValidate = e
			}

			continue
		}

		// Progress entries are heartbeats, not outcomes: they never
		// change what the month's last sync looks like.
		if e.Status == store.StatusProgress {
			continue
		}

		record.SyncCount++

		// A started entry only represents the month's state while no
		// later entry exists — a possibly-stuck run. Any later entry
		// (terminal or a new started) supersedes it.
		record.LastSync = e
	}

	return record
}
