package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clearbrief/datahub/internal/config"
	"github.com/clearbrief/datahub/internal/dates"
	"github.com/clearbrief/datahub/internal/store"
)

// Engine bundles the sync executor, coverage tracker, backfill queue and
// drift detector behind one façade for the CLI and HTTP API. The engine
// has no event loop of its own; every method runs on the caller's
// goroutine and honors its context.
type Engine struct {
	store    *store.Store
	executor *Executor
	coverage *CoverageTracker
	backfill *BackfillQueue
	drift    *DriftDetector
	abort    *AbortSignal
}

// New wires an Engine from its dependencies.
func New(cfg *config.Config, st *store.Store, provider ProviderAPI, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	abort := NewAbortSignal()
	executor := NewExecutor(st, provider, abort, cfg.Provider.PageSize, logger)
	coverage := NewCoverageTracker(st, cfg.CoverageMonths, logger)
	backfill := NewBackfillQueue(coverage, executor, abort, logger)
	drift := NewDriftDetector(st, provider, cfg.SpotChecks,
		cfg.Provider.ShallowTimeout, cfg.Provider.DeepReportInterval, cfg.Provider.ReportTimeout, logger)

	return &Engine{
		store:    st,
		executor: executor,
		coverage: coverage,
		backfill: backfill,
		drift:    drift,
		abort:    abort,
	}
}

// StatusReport summarizes one dataset for display.
type StatusReport struct {
	Dataset    string
	RowCount   int64
	LatestDate dates.Date
	LastSync   *store.LogEntry
}

// Sync runs one sync request.
func (e *Engine) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	return e.executor.Run(ctx, req)
}

// Status reports the dataset's row count, latest record date, and most
// recent log entry.
func (e *Engine) Status(ctx context.Context, dataset string) (*StatusReport, error) {
	if !config.ValidDataset(dataset) {
		return nil, fmt.Errorf("%w: unknown dataset %q", ErrInvalidRequest, dataset)
	}

	ds, err := e.store.Status(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalStore, err)
	}

	last, err := e.store.LastEntry(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalStore, err)
	}

	return &StatusReport{
		Dataset:    dataset,
		RowCount:   ds.RowCount,
		LatestDate: ds.LatestDate,
		LastSync:   last,
	}, nil
}

// Log returns operation log entries matching the query, newest first.
func (e *Engine) Log(ctx context.Context, q store.LogQuery) ([]store.LogEntry, error) {
	entries, err := e.store.ListLog(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalStore, err)
	}

	return entries, nil
}

// MonthAudit returns per-month coverage for the dataset, newest first.
func (e *Engine) MonthAudit(ctx context.Context, dataset string) ([]CoverageRecord, error) {
	if !config.ValidDataset(dataset) {
		return nil, fmt.Errorf("%w: unknown dataset %q", ErrInvalidRequest, dataset)
	}

	return e.coverage.MonthAudit(ctx, dataset)
}

// BackfillUncovered syncs every uncovered trailing month sequentially.
func (e *Engine) BackfillUncovered(ctx context.Context, dataset, principal, invokedBy string) (*BackfillResult, error) {
	if !config.ValidDataset(dataset) {
		return nil, fmt.Errorf("%w: unknown dataset %q", ErrInvalidRequest, dataset)
	}

	return e.backfill.BackfillUncovered(ctx, dataset, principal, invokedBy)
}

// BackfillOne replace-syncs one month, covered or not.
func (e *Engine) BackfillOne(ctx context.Context, dataset string, month dates.Month, principal, invokedBy string) error {
	if !config.ValidDataset(dataset) {
		return fmt.Errorf("%w: unknown dataset %q", ErrInvalidRequest, dataset)
	}

	return e.backfill.BackfillOne(ctx, dataset, month, principal, invokedBy)
}

// Drift computes a drift report for the dataset and range.
func (e *Engine) Drift(ctx context.Context, principal, dataset string, start, end dates.Date, deep bool) (*DriftReport, error) {
	return e.drift.Detect(ctx, principal, dataset, start, end, deep)
}

// Abort sets the global abort flag, or a per-key flag when opKey is
// non-empty. In-flight runs stop at their next checkpoint.
func (e *Engine) Abort(opKey string) {
	if opKey == "" {
		e.abort.Abort()
		return
	}

	e.abort.AbortKey(opKey)
}

// Resume clears the abort state so new runs may start.
func (e *Engine) Resume() {
	e.abort.Resume()
}

// AbortSignal exposes the signal for callers that bridge external
// cancellation (e.g. OS signals) into the engine.
func (e *Engine) AbortSignal() *AbortSignal {
	return e.abort
}
