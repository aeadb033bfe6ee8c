package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbrief/datahub/internal/config"
)

// appendEntry writes a log entry with an explicit timestamp so ordering
// in tests is deterministic.
func appendEntry(t *testing.T, s *Store, opKey string, status Status, ts time.Time) *LogEntry {
	t.Helper()

	e := &LogEntry{
		Timestamp: ts,
		Dataset:   config.DatasetWIP,
		OpKey:     opKey,
		Status:    status,
		StartDate: mustD("2024-01-01"),
		EndDate:   mustD("2024-01-31"),
		InvokedBy: "test",
	}
	require.NoError(t, s.AppendLog(context.Background(), e))

	return e
}

func TestAppendLog_AssignsID(t *testing.T) {
	s := newTestStore(t)

	e := appendEntry(t, s, "k1", StatusStarted, time.Now())
	assert.NotEmpty(t, e.ID)
}

func TestHistoryForKey_OrderedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	appendEntry(t, s, "k1", StatusStarted, base)
	appendEntry(t, s, "k1", StatusProgress, base.Add(time.Second))
	appendEntry(t, s, "k1", StatusCompleted, base.Add(2*time.Second))
	appendEntry(t, s, "other", StatusStarted, base.Add(3*time.Second))

	history, err := s.HistoryForKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StatusStarted, history[0].Status)
	assert.Equal(t, StatusProgress, history[1].Status)
	assert.Equal(t, StatusCompleted, history[2].Status)
}

func TestListLog_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	for i := range 5 {
		appendEntry(t, s, "k1", StatusProgress, base.Add(time.Duration(i)*time.Second))
	}

	entries, err := s.ListLog(context.Background(), LogQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
}

func TestListLog_SinceFilter(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	appendEntry(t, s, "k1", StatusStarted, base)
	appendEntry(t, s, "k1", StatusCompleted, base.Add(time.Minute))

	entries, err := s.ListLog(context.Background(), LogQuery{Since: base.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusCompleted, entries[0].Status)
}

func TestListLog_DatasetFilter(t *testing.T) {
	s := newTestStore(t)

	appendEntry(t, s, "k1", StatusCompleted, time.Now())

	entries, err := s.ListLog(context.Background(), LogQuery{Dataset: config.DatasetCollectedTime})
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = s.ListLog(context.Background(), LogQuery{Dataset: config.DatasetWIP})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLastCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	last, err := s.LastCompleted(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, last)

	appendEntry(t, s, "k1", StatusStarted, base)
	appendEntry(t, s, "k1", StatusError, base.Add(time.Second))
	appendEntry(t, s, "k1", StatusStarted, base.Add(2*time.Second))
	appendEntry(t, s, "k1", StatusCompleted, base.Add(3*time.Second))

	last, err = s.LastCompleted(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, base.Add(3*time.Second).UnixNano(), last.Timestamp.UnixNano())
}

func TestLastEntry(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	appendEntry(t, s, "k1", StatusStarted, base)
	appendEntry(t, s, "k2", StatusCompleted, base.Add(time.Second))

	last, err := s.LastEntry(context.Background(), config.DatasetWIP)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "k2", last.OpKey)
}

func TestEntriesSince(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	appendEntry(t, s, "old", StatusCompleted, base.Add(-time.Hour))
	appendEntry(t, s, "new", StatusCompleted, base)

	entries, err := s.EntriesSince(context.Background(), config.DatasetWIP, base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].OpKey)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusStarted.Terminal())
	assert.False(t, StatusProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusAborted.Terminal())
}
