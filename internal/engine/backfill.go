package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/clearbrief/datahub/internal/dates"
)

// MonthError pairs a failed backfill month with its cause.
type MonthError struct {
	Month dates.Month
	Err   error
}

// BackfillResult reports which months a backfill batch completed and
// which failed. A partially-aborted batch reports what it finished.
type BackfillResult struct {
	Done    []dates.Month
	Errors  []MonthError
	Aborted bool
}

// BackfillQueue drives the executor over uncovered months, one month at
// a time. Failures are isolated per month: a bad month is recorded and
// the loop moves on, so one poisoned range cannot block the rest of the
// history from filling in.
type BackfillQueue struct {
	coverage *CoverageTracker
	executor *Executor
	abort    *AbortSignal
	logger   *slog.Logger
}

// NewBackfillQueue creates a BackfillQueue.
func NewBackfillQueue(coverage *CoverageTracker, executor *Executor, abort *AbortSignal, logger *slog.Logger) *BackfillQueue {
	if logger == nil {
		logger = slog.Default()
	}

	return &BackfillQueue{
		coverage: coverage,
		executor: executor,
		abort:    abort,
		logger:   logger,
	}
}

// BackfillUncovered syncs every uncovered trailing month for the dataset
// sequentially, oldest first, in replace mode.
func (b *BackfillQueue) BackfillUncovered(ctx context.Context, dataset, principal, invokedBy string) (*BackfillResult, error) {
	months, err := b.coverage.UncoveredMonths(ctx, dataset)
	if err != nil {
		return nil, err
	}

	b.logger.Info("backfill batch starting",
		slog.String("dataset", dataset),
		slog.Int("uncovered_months", len(months)),
	)

	result := &BackfillResult{}

	for _, month := range months {
		// Check the global switch before each month so an abort stops
		// the batch cleanly with partial results rather than raising.
		if ctx.Err() != nil || b.abort.Global() {
			result.Aborted = true

			b.logger.Warn("backfill batch aborted",
				slog.String("dataset", dataset),
				slog.Int("done", len(result.Done)),
				slog.Int("remaining", len(months)-len(result.Done)-len(result.Errors)),
			)

			break
		}

		if err := b.BackfillOne(ctx, dataset, month, principal, invokedBy); err != nil {
			// An abort surfaced by the executor mid-month also ends the
			// batch; anything else is a per-month failure.
			if errors.Is(err, ErrAborted) {
				result.Aborted = true
				break
			}

			result.Errors = append(result.Errors, MonthError{Month: month, Err: err})

			b.logger.Warn("backfill month failed, continuing",
				slog.String("dataset", dataset),
				slog.String("month", month.Key()),
				slog.String("error", err.Error()),
			)

			continue
		}

		result.Done = append(result.Done, month)
	}

	b.logger.Info("backfill batch finished",
		slog.String("dataset", dataset),
		slog.Int("done", len(result.Done)),
		slog.Int("errors", len(result.Errors)),
		slog.Bool("aborted", result.Aborted),
	)

	return result, nil
}

// BackfillOne replace-syncs a single month. Re-running it on an
// already-covered month is allowed and behaves exactly like a fresh
// backfill: replace mode makes it idempotent.
func (b *BackfillQueue) BackfillOne(ctx context.Context, dataset string, month dates.Month, principal, invokedBy string) error {
	_, err := b.executor.Run(ctx, SyncRequest{
		Dataset:   dataset,
		Start:     month.First(),
		End:       month.Last(),
		Mode:      ModeReplace,
		Principal: principal,
		InvokedBy: invokedBy,
	})

	return err
}
