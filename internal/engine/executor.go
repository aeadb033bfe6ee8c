package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clearbrief/datahub/internal/clio"
	"github.com/clearbrief/datahub/internal/config"
	"github.com/clearbrief/datahub/internal/dates"
	"github.com/clearbrief/datahub/internal/store"
)

// SyncStore is the slice of the local store a sync run writes through.
// Defined at the consumer per "accept interfaces, return structs";
// *store.Store is the production implementation.
type SyncStore interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	DeleteRange(ctx context.Context, tx *sql.Tx, dataset string, start, end dates.Date) (int64, error)
	InsertRecords(ctx context.Context, tx *sql.Tx, dataset string, records []store.Record) (int64, error)
	CountRange(ctx context.Context, dataset string, start, end dates.Date) (int64, error)
	AppendLog(ctx context.Context, e *store.LogEntry) error
}

// Executor runs one sync per request: fetch the provider's records for
// the range, then replace/delete/insert the local range under a single
// transaction, appending operation log entries throughout. Runs for the
// same operation key never execute concurrently; the second caller gets
// ErrOperationInFlight.
type Executor struct {
	store    SyncStore
	provider ProviderAPI
	abort    *AbortSignal
	logger   *slog.Logger
	pageSize int
	running  *inflight
}

// NewExecutor creates an Executor.
func NewExecutor(st SyncStore, provider ProviderAPI, abort *AbortSignal, pageSize int, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		store:    st,
		provider: provider,
		abort:    abort,
		logger:   logger,
		pageSize: pageSize,
		running:  newInflight(),
	}
}

// Run executes one sync. Every run appends a started entry and exactly
// one terminal entry (completed, error or aborted) — the audit trail
// never shows a dangling started entry for a run that actually finished.
func (e *Executor) Run(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if err := req.validate(config.ValidDataset); err != nil {
		return nil, err
	}

	key := syncKey(req).String()

	if !e.running.acquire(key) {
		return nil, fmt.Errorf("%w: %s", ErrOperationInFlight, key)
	}
	defer e.running.release(key)
	defer e.abort.ClearKey(key)

	began := time.Now()

	logger := e.logger.With(
		slog.String("op_key", key),
		slog.String("dataset", req.Dataset),
		slog.Bool("dry_run", req.DryRun),
	)
	logger.Info("sync run starting",
		slog.String("mode", string(req.Mode)),
		slog.String("invoked_by", req.InvokedBy),
	)

	if err := e.appendLog(ctx, req, key, store.StatusStarted, 0, 0, 0, ""); err != nil {
		return nil, err
	}

	deleted, inserted, err := e.execute(ctx, req, key, logger)
	durationMs := time.Since(began).Milliseconds()

	if err != nil {
		status := store.StatusError
		if errors.Is(err, ErrAborted) {
			status = store.StatusAborted
		}

		// Best effort: the terminal entry must land even though the run
		// failed, otherwise the log shows a stuck started entry.
		if logErr := e.appendLog(ctx, req, key, status, deleted, inserted, durationMs, err.Error()); logErr != nil {
			logger.Error("failed to record terminal log entry",
				slog.String("error", logErr.Error()),
			)
		}

		logger.Warn("sync run finished unsuccessfully",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	message := ""
	if req.DryRun {
		message = "dry run: no local changes applied"
	}

	if err := e.appendLog(ctx, req, key, store.StatusCompleted, deleted, inserted, durationMs, message); err != nil {
		return nil, err
	}

	logger.Info("sync run completed",
		slog.Int64("deleted_rows", deleted),
		slog.Int64("inserted_rows", inserted),
		slog.Int64("duration_ms", durationMs),
	)

	return &SyncResult{
		OpKey:        key,
		DeletedRows:  deleted,
		InsertedRows: inserted,
		Duration:     time.Since(began),
		DryRun:       req.DryRun,
	}, nil
}

// execute performs the fetch and the local mutation, returning the
// deleted/inserted counts. All local writes happen under one transaction:
// the range is either fully replaced or left exactly as it was.
func (e *Executor) execute(ctx context.Context, req SyncRequest, key string, logger *slog.Logger) (deleted, inserted int64, err error) {
	if err := e.checkpoint(ctx, key); err != nil {
		return 0, 0, err
	}

	var records []store.Record

	if req.Mode != ModeDeleteOnly {
		fetched, fetchErr := e.provider.ListRecords(ctx, req.Principal, clio.RecordQuery{
			Dataset: req.Dataset,
			Start:   req.Start,
			End:     req.End,
		}, e.pageSize)
		if fetchErr != nil {
			return 0, 0, fmt.Errorf("%w: %w", ErrProviderFetch, fetchErr)
		}

		records, err = convertRecords(fetched)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", ErrProviderFetch, err)
		}

		if logErr := e.appendLog(ctx, req, key, store.StatusProgress, 0, 0, 0,
			fmt.Sprintf("fetched %d provider records", len(records))); logErr != nil {
			return 0, 0, logErr
		}
	}

	if err := e.checkpoint(ctx, key); err != nil {
		return 0, 0, err
	}

	if req.DryRun {
		return e.plan(ctx, req, records)
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrLocalStore, err)
	}
	// Rollback is a no-op after a successful commit.
	defer func() { _ = tx.Rollback() }()

	if req.Mode != ModeInsertOnly {
		deleted, err = e.store.DeleteRange(ctx, tx, req.Dataset, req.Start, req.End)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", ErrLocalStore, err)
		}
	}

	if req.Mode != ModeDeleteOnly {
		inserted, err = e.store.InsertRecords(ctx, tx, req.Dataset, records)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", ErrLocalStore, err)
		}
	}

	// Last safe checkpoint: an abort observed here rolls the whole
	// transaction back, leaving the range untouched.
	if err := e.checkpoint(ctx, key); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: commit: %w", ErrLocalStore, err)
	}

	logger.Debug("transaction committed",
		slog.Int64("deleted_rows", deleted),
		slog.Int64("inserted_rows", inserted),
	)

	return deleted, inserted, nil
}

// plan computes the would-be counts for a dry run without mutating the
// local store.
func (e *Executor) plan(ctx context.Context, req SyncRequest, records []store.Record) (deleted, inserted int64, err error) {
	if req.Mode != ModeInsertOnly {
		deleted, err = e.store.CountRange(ctx, req.Dataset, req.Start, req.End)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", ErrLocalStore, err)
		}
	}

	if req.Mode != ModeDeleteOnly {
		inserted = int64(len(records))
	}

	return deleted, inserted, nil
}

// checkpoint returns ErrAborted when the abort signal is set for this run
// or the context is done.
func (e *Executor) checkpoint(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}

	if e.abort.Aborted(key) {
		return fmt.Errorf("%w: %s", ErrAborted, key)
	}

	return nil
}

// appendLog writes one operation log entry for the run. The write uses a
// detached context: cancellation stops the work at a checkpoint, but must
// never suppress the audit entry itself, or a cancelled run would leave a
// stuck started entry behind.
func (e *Executor) appendLog(ctx context.Context, req SyncRequest, key string, status store.Status, deleted, inserted, durationMs int64, message string) error {
	entry := &store.LogEntry{
		Dataset:      req.Dataset,
		OpKey:        key,
		Status:       status,
		DeletedRows:  deleted,
		InsertedRows: inserted,
		DurationMs:   durationMs,
		StartDate:    req.Start,
		EndDate:      req.End,
		InvokedBy:    req.InvokedBy,
		Message:      message,
	}

	if err := e.store.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		return fmt.Errorf("%w: %w", ErrLocalStore, err)
	}

	return nil
}

// convertRecords maps provider records to store records, parsing dates.
func convertRecords(fetched []clio.Record) ([]store.Record, error) {
	records := make([]store.Record, 0, len(fetched))

	for _, r := range fetched {
		date, err := dates.ParseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}

		records = append(records, store.Record{
			ID:           r.ID,
			Date:         date,
			Matter:       r.Matter,
			UserInitials: r.UserInitials,
			Amount:       r.Amount,
			Description:  r.Description,
		})
	}

	return records, nil
}
