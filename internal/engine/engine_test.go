package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clearbrief/datahub/internal/clio"
	"github.com/clearbrief/datahub/internal/dates"
	"github.com/clearbrief/datahub/internal/store"
)

// testLogger returns a logger that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore opens an in-memory store.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func d(t *testing.T, s string) dates.Date {
	t.Helper()

	parsed, err := dates.ParseDate(s)
	require.NoError(t, err)

	return parsed
}

func month(t *testing.T, s string) dates.Month {
	t.Helper()

	parsed, err := dates.ParseMonth(s)
	require.NoError(t, err)

	return parsed
}

// fakeProvider implements ProviderAPI for tests. Records are filtered by
// dataset, range and user, mirroring the provider's query semantics.
type fakeProvider struct {
	mu sync.Mutex

	byDS map[string][]clio.Record

	listErr   error
	listCalls int
	onList    func(q clio.RecordQuery) // optional hook, called before filtering

	shallowTotal  map[string]clio.Aggregate // keyed by dataset
	shallowByUser map[string]clio.Aggregate // keyed by dataset+"/"+userID
	shallowUnav   bool
	shallowErr    error

	deep    *clio.Report
	deepErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		byDS:          make(map[string][]clio.Record),
		shallowTotal:  make(map[string]clio.Aggregate),
		shallowByUser: make(map[string]clio.Aggregate),
	}
}

func (f *fakeProvider) setRecords(dataset string, records []clio.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.byDS[dataset] = records
}

func (f *fakeProvider) ListRecords(_ context.Context, _ string, q clio.RecordQuery, _ int) ([]clio.Record, error) {
	f.mu.Lock()
	hook := f.onList
	f.mu.Unlock()

	// The hook runs first so tests can flip state for this very call.
	if hook != nil {
		hook(q)
	}

	f.mu.Lock()
	f.listCalls++
	err := f.listErr
	pool := f.byDS[q.Dataset]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	var matched []clio.Record

	for _, r := range pool {
		// YYYY-MM-DD compares correctly as a string.
		if r.Date < q.Start.String() || r.Date > q.End.String() {
			continue
		}

		if q.UserID != "" && r.UserInitials != q.UserID {
			continue
		}

		matched = append(matched, r)
	}

	return matched, nil
}

func (f *fakeProvider) ShallowAggregate(_ context.Context, _ string, q clio.RecordQuery) (clio.Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shallowErr != nil {
		return clio.Aggregate{}, f.shallowErr
	}

	if f.shallowUnav {
		return clio.Aggregate{}, clio.ErrAggregateUnavailable
	}

	if q.UserID != "" {
		return f.shallowByUser[q.Dataset+"/"+q.UserID], nil
	}

	return f.shallowTotal[q.Dataset], nil
}

func (f *fakeProvider) DeepReport(_ context.Context, _, _ string, _, _ dates.Date, _ time.Duration) (*clio.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deepErr != nil {
		return nil, f.deepErr
	}

	return f.deep, nil
}

// seedLocal writes records directly into the store.
func seedLocal(t *testing.T, st *store.Store, dataset string, records []store.Record) {
	t.Helper()

	ctx := context.Background()

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)

	_, err = st.InsertRecords(ctx, tx, dataset, records)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

// localRec builds a store.Record.
func localRec(id, date, initials string, amount float64) store.Record {
	parsed, err := dates.ParseDate(date)
	if err != nil {
		panic(err)
	}

	return store.Record{ID: id, Date: parsed, UserInitials: initials, Amount: amount}
}

// provRec builds a clio.Record.
func provRec(id, date, initials string, amount float64) clio.Record {
	return clio.Record{ID: id, Date: date, UserInitials: initials, Amount: amount}
}
