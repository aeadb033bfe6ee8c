package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/clearbrief/datahub/internal/clio"
	"github.com/clearbrief/datahub/internal/config"
	"github.com/clearbrief/datahub/internal/dates"
	"github.com/clearbrief/datahub/internal/store"
)

// SpotCheck compares one team member's local rows/sum against the
// provider's for the same range. Row and sum agreement are reported
// independently — a partial match is a distinct, visible state.
type SpotCheck struct {
	Initials    string
	UserID      string
	LocalRows   int64
	LocalSum    float64
	RemoteRows  int64
	RemoteSum   float64
	RemoteKnown bool // false when the provider side was unavailable
	RowsMatch   bool
	SumMatch    bool
}

// DriftReport is the result of one drift detection run. Ephemeral:
// computed per request, never persisted (only the validate attempt lands
// in the operation log).
type DriftReport struct {
	Dataset     string
	Start       dates.Date
	End         dates.Date
	Deep        bool
	LocalRows   int64
	LocalSum    float64
	RemoteRows  *int64   // nil: local-only, unverified
	RemoteSum   *float64 // nil: local-only, unverified
	SpotChecks  []SpotCheck
	GeneratedAt time.Time
}

// Verified reports whether provider-side aggregates were obtained.
func (r *DriftReport) Verified() bool {
	return r.RemoteRows != nil && r.RemoteSum != nil
}

// CountsMatch reports whether local and remote row counts agree. False
// when unverified.
func (r *DriftReport) CountsMatch() bool {
	return r.RemoteRows != nil && *r.RemoteRows == r.LocalRows
}

// SumsMatch reports whether local and remote sums agree to the penny.
// False when unverified.
func (r *DriftReport) SumsMatch() bool {
	return r.RemoteSum != nil && penniesEqual(*r.RemoteSum, r.LocalSum)
}

// penniesEqual compares two monetary values at penny resolution.
func penniesEqual(a, b float64) bool {
	return math.Round(a*100) == math.Round(b*100)
}

// DriftDetector compares local-store aggregates against the provider's
// for a range. It never mutates record state; each attempt is logged as
// a validate operation so coverage audits can show validation history.
type DriftDetector struct {
	store      DriftStore
	provider   ProviderAPI
	spotChecks []config.SpotCheckEntity
	logger     *slog.Logger

	// deepLimiter spaces out deep report requests; deep mode is
	// provider-cost-heavy and must be invoked on demand, not polled.
	deepLimiter    *rate.Limiter
	shallowTimeout time.Duration
	reportTimeout  time.Duration

	running *inflight
}

// DriftStore is the slice of the local store drift detection reads, plus
// the log append that records each validate attempt.
type DriftStore interface {
	RangeStats(ctx context.Context, dataset string, start, end dates.Date) (store.RangeStats, error)
	UserRangeStats(ctx context.Context, dataset string, start, end dates.Date, initials string) (store.RangeStats, error)
	AppendLog(ctx context.Context, e *store.LogEntry) error
}

// NewDriftDetector creates a DriftDetector. shallowTimeout bounds each
// cheap aggregate probe; deepInterval is the minimum spacing between deep
// report requests.
func NewDriftDetector(st DriftStore, provider ProviderAPI, spotChecks []config.SpotCheckEntity, shallowTimeout, deepInterval, reportTimeout time.Duration, logger *slog.Logger) *DriftDetector {
	if logger == nil {
		logger = slog.Default()
	}

	return &DriftDetector{
		store:          st,
		provider:       provider,
		spotChecks:     spotChecks,
		logger:         logger,
		deepLimiter:    rate.NewLimiter(rate.Every(deepInterval), 1),
		shallowTimeout: shallowTimeout,
		reportTimeout:  reportTimeout,
		running:        newInflight(),
	}
}

// Detect computes a drift report for the dataset and range. Shallow mode
// uses the provider's cheap list metadata and degrades to a local-only
// report when the provider does not expose it. Deep mode requests a
// provider-side aggregation report (slow, rate limited).
func (d *DriftDetector) Detect(ctx context.Context, principal, dataset string, start, end dates.Date, deep bool) (*DriftReport, error) {
	if !config.ValidDataset(dataset) {
		return nil, fmt.Errorf("%w: unknown dataset %q", ErrInvalidRequest, dataset)
	}

	if end.Before(start) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRequest, start, end)
	}

	if deep && !d.deepLimiter.Allow() {
		return nil, ErrDeepRateLimited
	}

	key := validateKey(dataset, start, end).String()

	if !d.running.acquire(key) {
		return nil, fmt.Errorf("%w: %s", ErrOperationInFlight, key)
	}
	defer d.running.release(key)

	began := time.Now()

	if err := d.appendLog(ctx, dataset, key, start, end, principal, store.StatusStarted, 0, ""); err != nil {
		return nil, err
	}

	report, err := d.detect(ctx, principal, dataset, start, end, deep)
	durationMs := time.Since(began).Milliseconds()

	if err != nil {
		if logErr := d.appendLog(ctx, dataset, key, start, end, principal, store.StatusError, durationMs, err.Error()); logErr != nil {
			d.logger.Error("failed to record validate error entry",
				slog.String("op_key", key),
				slog.String("error", logErr.Error()),
			)
		}

		return nil, err
	}

	message := "shallow"
	if deep {
		message = "deep"
	}

	if !report.Verified() {
		message += " (provider aggregates unavailable, local-only)"
	}

	if err := d.appendLog(ctx, dataset, key, start, end, principal, store.StatusCompleted, durationMs, message); err != nil {
		return nil, err
	}

	return report, nil
}

func (d *DriftDetector) detect(ctx context.Context, principal, dataset string, start, end dates.Date, deep bool) (*DriftReport, error) {
	report := &DriftReport{
		Dataset:     dataset,
		Start:       start,
		End:         end,
		Deep:        deep,
		GeneratedAt: time.Now(),
	}

	local, err := d.store.RangeStats(ctx, dataset, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalStore, err)
	}

	report.LocalRows = local.Rows
	report.LocalSum = local.Sum

	if deep {
		if err := d.detectDeep(ctx, principal, report); err != nil {
			return nil, err
		}

		return report, nil
	}

	if err := d.detectShallow(ctx, principal, report); err != nil {
		return nil, err
	}

	return report, nil
}

// detectShallow fills the remote side from the cheap list metadata.
// An unavailable aggregate is a documented degraded result, not an error.
func (d *DriftDetector) detectShallow(ctx context.Context, principal string, report *DriftReport) error {
	query := clio.RecordQuery{Dataset: report.Dataset, Start: report.Start, End: report.End}

	agg, err := d.shallowAggregate(ctx, principal, query)

	switch {
	case errors.Is(err, clio.ErrAggregateUnavailable):
		d.logger.Info("provider aggregates unavailable, reporting local-only",
			slog.String("dataset", report.Dataset),
		)
	case err != nil:
		return fmt.Errorf("%w: %w", ErrProviderFetch, err)
	default:
		report.RemoteRows = &agg.Rows
		report.RemoteSum = &agg.Total
	}

	for _, entity := range d.spotChecks {
		check, checkErr := d.shallowSpotCheck(ctx, principal, report, entity)
		if checkErr != nil {
			return checkErr
		}

		report.SpotChecks = append(report.SpotChecks, check)
	}

	return nil
}

func (d *DriftDetector) shallowSpotCheck(ctx context.Context, principal string, report *DriftReport, entity config.SpotCheckEntity) (SpotCheck, error) {
	check := SpotCheck{Initials: entity.Initials, UserID: entity.UserID}

	local, err := d.store.UserRangeStats(ctx, report.Dataset, report.Start, report.End, entity.Initials)
	if err != nil {
		return SpotCheck{}, fmt.Errorf("%w: %w", ErrLocalStore, err)
	}

	check.LocalRows = local.Rows
	check.LocalSum = local.Sum

	agg, err := d.shallowAggregate(ctx, principal, clio.RecordQuery{
		Dataset: report.Dataset,
		Start:   report.Start,
		End:     report.End,
		UserID:  entity.UserID,
	})

	switch {
	case errors.Is(err, clio.ErrAggregateUnavailable):
		return check, nil
	case err != nil:
		return SpotCheck{}, fmt.Errorf("%w: %w", ErrProviderFetch, err)
	}

	fillSpotCheck(&check, agg.Rows, agg.Total)

	return check, nil
}

// detectDeep fills the remote side from a provider-side aggregation
// report, including per-user breakdowns for spot checks.
func (d *DriftDetector) detectDeep(ctx context.Context, principal string, report *DriftReport) error {
	deep, err := d.provider.DeepReport(ctx, principal, report.Dataset, report.Start, report.End, d.reportTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderFetch, err)
	}

	report.RemoteRows = &deep.Rows
	report.RemoteSum = &deep.Total

	for _, entity := range d.spotChecks {
		check := SpotCheck{Initials: entity.Initials, UserID: entity.UserID}

		local, localErr := d.store.UserRangeStats(ctx, report.Dataset, report.Start, report.End, entity.Initials)
		if localErr != nil {
			return fmt.Errorf("%w: %w", ErrLocalStore, localErr)
		}

		check.LocalRows = local.Rows
		check.LocalSum = local.Sum

		if agg, ok := deep.ByUser[entity.UserID]; ok {
			fillSpotCheck(&check, agg.Rows, agg.Total)
		}

		report.SpotChecks = append(report.SpotChecks, check)
	}

	return nil
}

// shallowAggregate bounds one cheap aggregate probe by the shallow
// timeout. Shallow drift must stay fast even when the provider hangs.
func (d *DriftDetector) shallowAggregate(ctx context.Context, principal string, q clio.RecordQuery) (clio.Aggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, d.shallowTimeout)
	defer cancel()

	return d.provider.ShallowAggregate(ctx, principal, q)
}

// fillSpotCheck records the provider side of a spot check and classifies
// row and sum agreement independently.
func fillSpotCheck(check *SpotCheck, remoteRows int64, remoteSum float64) {
	check.RemoteKnown = true
	check.RemoteRows = remoteRows
	check.RemoteSum = remoteSum
	check.RowsMatch = check.LocalRows == remoteRows
	check.SumMatch = penniesEqual(check.LocalSum, remoteSum)
}

// appendLog records one validate lifecycle entry. Detached from the
// caller's cancellation for the same reason the executor's appends are:
// the terminal entry must land even when the run was cancelled.
func (d *DriftDetector) appendLog(ctx context.Context, dataset, key string, start, end dates.Date, principal string, status store.Status, durationMs int64, message string) error {
	err := d.store.AppendLog(context.WithoutCancel(ctx), &store.LogEntry{
		Dataset:    dataset,
		OpKey:      key,
		Status:     status,
		DurationMs: durationMs,
		StartDate:  start,
		EndDate:    end,
		InvokedBy:  principal,
		Message:    message,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocalStore, err)
	}

	return nil
}
