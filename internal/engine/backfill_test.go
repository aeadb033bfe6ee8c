package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbrief/datahub/internal/clio"
	"github.com/clearbrief/datahub/internal/config"
	"github.com/clearbrief/datahub/internal/store"
)

// newBackfillFixture wires a queue over a real store with the audit
// window pinned to February 2024.
func newBackfillFixture(t *testing.T, st *store.Store, provider *fakeProvider, months int) (*BackfillQueue, *AbortSignal) {
	t.Helper()

	abort := NewAbortSignal()
	exec := NewExecutor(st, provider, abort, 100, testLogger())

	tracker := NewCoverageTracker(st, months, testLogger())
	tracker.now = fixedClock(t, "2024-02-15")

	return NewBackfillQueue(tracker, exec, abort, testLogger()), abort
}

func TestBackfillUncoveredSyncsOnlyUncoveredMonths(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// January already covered.
	appendEntry(t, st, time.Date(2024, time.February, 1, 8, 0, 0, 0, time.UTC),
		config.DatasetCollectedTime, janKey(), store.StatusCompleted, "2024-01-01", "2024-01-31")

	provider := newFakeProvider()
	provider.setRecords(config.DatasetCollectedTime, []clio.Record{
		provRec("jan-1", "2024-01-10", "ab", 100),
		provRec("feb-1", "2024-02-05", "ab", 200),
		provRec("feb-2", "2024-02-12", "cd", 300),
	})

	queue, _ := newBackfillFixture(t, st, provider, 2)

	result, err := queue.BackfillUncovered(ctx, config.DatasetCollectedTime, "firm", "test")
	require.NoError(t, err)

	require.Len(t, result.Done, 1)
	assert.Equal(t, "2024-02", result.Done[0].Key())
	assert.Empty(t, result.Errors)
	assert.False(t, result.Aborted)

	// Only February was fetched; January's covered state was respected.
	assert.Equal(t, 1, provider.listCalls)

	count, err := st.CountRange(ctx, config.DatasetCollectedTime, d(t, "2024-02-01"), d(t, "2024-02-29"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = st.CountRange(ctx, config.DatasetCollectedTime, d(t, "2024-01-01"), d(t, "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count) // never synced, only log-covered
}

func TestBackfillUncoveredIsolatesMonthFailures(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	provider := newFakeProvider()
	provider.setRecords(config.DatasetCollectedTime, []clio.Record{
		provRec("feb-1", "2024-02-05", "ab", 200),
	})

	// Fail the provider for January only.
	provider.onList = func(q clio.RecordQuery) {
		provider.mu.Lock()
		defer provider.mu.Unlock()

		if q.Start.String() == "2024-01-01" {
			provider.listErr = clio.ErrServerError
		} else {
			provider.listErr = nil
		}
	}

	queue, _ := newBackfillFixture(t, st, provider, 2)

	result, err := queue.BackfillUncovered(ctx, config.DatasetCollectedTime, "firm", "test")
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "2024-01", result.Errors[0].Month.Key())
	assert.ErrorIs(t, result.Errors[0].Err, ErrProviderFetch)

	// February still got backfilled despite January failing first.
	require.Len(t, result.Done, 1)
	assert.Equal(t, "2024-02", result.Done[0].Key())
}

func TestBackfillUncoveredStopsOnGlobalAbort(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	provider := newFakeProvider()

	queue, abort := newBackfillFixture(t, st, provider, 3)

	// Raise the abort flag during the first month's fetch.
	var once sync.Once
	provider.onList = func(clio.RecordQuery) {
		once.Do(abort.Abort)
	}

	result, err := queue.BackfillUncovered(ctx, config.DatasetCollectedTime, "firm", "test")
	require.NoError(t, err)

	assert.True(t, result.Aborted)
	// The abort flag was raised during the first month's fetch, so its
	// pre-transaction checkpoint stops it and the batch ends there.
	assert.Empty(t, result.Done)
	assert.Empty(t, result.Errors)
}

func TestBackfillUncoveredAbortSetBeforeBatch(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	queue, abort := newBackfillFixture(t, st, newFakeProvider(), 3)
	abort.Abort()

	result, err := queue.BackfillUncovered(ctx, config.DatasetCollectedTime, "firm", "test")
	require.NoError(t, err)

	assert.True(t, result.Aborted)
	assert.Empty(t, result.Done)

	// No runs means no log entries at all.
	entries, err := st.EntriesForDataset(ctx, config.DatasetCollectedTime)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackfillOneIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	provider := newFakeProvider()
	provider.setRecords(config.DatasetCollectedTime, []clio.Record{
		provRec("feb-1", "2024-02-05", "ab", 200),
		provRec("feb-2", "2024-02-12", "cd", 300),
	})

	queue, _ := newBackfillFixture(t, st, provider, 2)

	feb := month(t, "2024-02")

	require.NoError(t, queue.BackfillOne(ctx, config.DatasetCollectedTime, feb, "firm", "test"))
	require.NoError(t, queue.BackfillOne(ctx, config.DatasetCollectedTime, feb, "firm", "test"))

	stats, err := st.RangeStats(ctx, config.DatasetCollectedTime, d(t, "2024-02-01"), d(t, "2024-02-29"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Rows)
	assert.InDelta(t, 500, stats.Sum, 0.001)
}

func TestBackfillMakesMonthCovered(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	provider := newFakeProvider()
	provider.setRecords(config.DatasetCollectedTime, []clio.Record{
		provRec("feb-1", "2024-02-05", "ab", 200),
	})

	queue, _ := newBackfillFixture(t, st, provider, 2)

	tracker := NewCoverageTracker(st, 2, testLogger())
	tracker.now = fixedClock(t, "2024-02-15")

	before, err := tracker.UncoveredMonths(ctx, config.DatasetCollectedTime)
	require.NoError(t, err)
	require.Len(t, before, 2)

	result, err := queue.BackfillUncovered(ctx, config.DatasetCollectedTime, "firm", "test")
	require.NoError(t, err)
	require.Len(t, result.Done, 2)

	after, err := tracker.UncoveredMonths(ctx, config.DatasetCollectedTime)
	require.NoError(t, err)
	assert.Empty(t, after)
}
