// Package engine implements the provider-sync and reconciliation core:
// executing auditable sync runs against the local store, tracking monthly
// coverage, backfilling uncovered months, and detecting drift between the
// local store and the provider.
package engine

import (
	"fmt"

	"github.com/clearbrief/datahub/internal/dates"
)

// Mode selects what a sync run does to the local range.
type Mode string

const (
	// ModeReplace deletes the local range then inserts the provider's
	// records, atomically.
	ModeReplace Mode = "replace"

	// ModeDeleteOnly deletes the local range and inserts nothing.
	ModeDeleteOnly Mode = "deleteOnly"

	// ModeInsertOnly merges provider records without deleting.
	ModeInsertOnly Mode = "insertOnly"
)

// ValidMode reports whether m is a recognized mode.
func ValidMode(m Mode) bool {
	return m == ModeReplace || m == ModeDeleteOnly || m == ModeInsertOnly
}

// Operation kinds appearing in operation keys.
const (
	KindSync     = "sync"
	KindValidate = "validate"
)

// OperationKey identifies a specific (kind, dataset, range, mode)
// combination. It is a structured value; the canonical string form exists
// for correlation, logging and in-flight deduplication only.
type OperationKey struct {
	Kind    string
	Dataset string
	Start   dates.Date
	End     dates.Date
	Mode    Mode // empty for validate keys
}

// String returns the canonical, deterministic key string, e.g.
// "sync:wip:2024-01-01..2024-01-31:replace".
func (k OperationKey) String() string {
	if k.Mode == "" {
		return fmt.Sprintf("%s:%s:%s..%s", k.Kind, k.Dataset, k.Start, k.End)
	}

	return fmt.Sprintf("%s:%s:%s..%s:%s", k.Kind, k.Dataset, k.Start, k.End, k.Mode)
}

// syncKey builds the operation key for a sync request.
func syncKey(req SyncRequest) OperationKey {
	return OperationKey{
		Kind:    KindSync,
		Dataset: req.Dataset,
		Start:   req.Start,
		End:     req.End,
		Mode:    req.Mode,
	}
}

// validateKey builds the operation key for a drift detection run.
func validateKey(dataset string, start, end dates.Date) OperationKey {
	return OperationKey{
		Kind:    KindValidate,
		Dataset: dataset,
		Start:   start,
		End:     end,
	}
}
