package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clearbrief/datahub/internal/clio"
	"github.com/clearbrief/datahub/internal/dates"
)

// Sentinel errors for the engine's failure taxonomy.
var (
	// ErrOperationInFlight means a run for the same operation key is
	// already executing. Callers should treat this as "try again later".
	ErrOperationInFlight = errors.New("engine: operation already in flight")

	// ErrAborted means the abort signal was observed at a checkpoint.
	// Distinct from an error so operators can tell deliberate
	// cancellation from failure.
	ErrAborted = errors.New("engine: aborted by user")

	// ErrProviderFetch wraps network or non-2xx failures while reading
	// from the provider. Terminal for the current run.
	ErrProviderFetch = errors.New("engine: provider fetch failed")

	// ErrLocalStore wraps transaction or query failures against the
	// local store. Terminal for the current run; the transaction is
	// rolled back.
	ErrLocalStore = errors.New("engine: local store failure")

	// ErrDeepRateLimited means a deep drift report was requested before
	// the configured minimum interval elapsed.
	ErrDeepRateLimited = errors.New("engine: deep drift report rate limited")

	// ErrInvalidRequest covers malformed sync requests (unknown dataset,
	// inverted range, unknown mode).
	ErrInvalidRequest = errors.New("engine: invalid request")
)

// SyncRequest describes one sync run. Immutable once constructed; it
// lives only for the duration of the run.
type SyncRequest struct {
	Dataset   string
	Start     dates.Date
	End       dates.Date
	Mode      Mode
	Principal string
	InvokedBy string
	DryRun    bool
}

// SyncResult reports what a completed run did (or, for a dry run, what
// it would have done).
type SyncResult struct {
	OpKey        string
	DeletedRows  int64
	InsertedRows int64
	Duration     time.Duration
	DryRun       bool
}

// ProviderAPI is the slice of the provider client the engine depends on.
// *clio.Client is the production implementation.
type ProviderAPI interface {
	ListRecords(ctx context.Context, principal string, q clio.RecordQuery, pageSize int) ([]clio.Record, error)
	ShallowAggregate(ctx context.Context, principal string, q clio.RecordQuery) (clio.Aggregate, error)
	DeepReport(ctx context.Context, principal, dataset string, start, end dates.Date, timeout time.Duration) (*clio.Report, error)
}

// validate checks a SyncRequest against the closed dataset/mode sets and
// the start <= end requirement.
func (r SyncRequest) validate(validDataset func(string) bool) error {
	if !validDataset(r.Dataset) {
		return fmt.Errorf("%w: unknown dataset %q", ErrInvalidRequest, r.Dataset)
	}

	if !ValidMode(r.Mode) {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}

	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidRequest)
	}

	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidRequest, r.Start, r.End)
	}

	return nil
}
