package clio

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbrief/datahub/internal/dates"
)

func mustDate(t *testing.T, s string) dates.Date {
	t.Helper()

	d, err := dates.ParseDate(s)
	require.NoError(t, err)

	return d
}

func TestListRecords_FollowsPagination(t *testing.T) {
	pages := map[string]string{
		"": `{"data":[{"id":"1","date":"2024-01-05","amount":100.5,"user_initials":"jh"}],
		     "meta":{"paging":{"next_page_token":"p2"}}}`,
		"p2": `{"data":[{"id":"2","date":"2024-01-09","amount":50,"user_initials":"sm"},
		                {"id":"3","date":"2024-01-12","amount":25,"user_initials":"jh"}],
		       "meta":{"paging":{}}}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "wip", q.Get("dataset"))
		assert.Equal(t, "2024-01-01", q.Get("start_date"))
		assert.Equal(t, "2024-01-31", q.Get("end_date"))

		fmt.Fprint(w, pages[q.Get("page_token")])
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), &fakeTokens{}, testLogger())

	records, err := client.ListRecords(context.Background(), "jh", RecordQuery{
		Dataset: "wip",
		Start:   mustDate(t, "2024-01-01"),
		End:     mustDate(t, "2024-01-31"),
	}, 200)
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, "3", records[2].ID)
	assert.InDelta(t, 100.5, records[0].Amount, 0.001)
}

func TestShallowAggregate_UsesMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"data":[{"id":"1","date":"2024-01-05","amount":1}],
		                "meta":{"paging":{},"records":42,"total_amount":1234.56}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), &fakeTokens{}, testLogger())

	agg, err := client.ShallowAggregate(context.Background(), "jh", RecordQuery{
		Dataset: "collectedTime",
		Start:   mustDate(t, "2024-01-01"),
		End:     mustDate(t, "2024-01-31"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), agg.Rows)
	assert.InDelta(t, 1234.56, agg.Total, 0.001)
}

func TestShallowAggregate_MissingMetaIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[],"meta":{"paging":{}}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), &fakeTokens{}, testLogger())

	_, err := client.ShallowAggregate(context.Background(), "jh", RecordQuery{
		Dataset: "wip",
		Start:   mustDate(t, "2024-01-01"),
		End:     mustDate(t, "2024-01-31"),
	})
	assert.ErrorIs(t, err, ErrAggregateUnavailable)
}

func TestDeepReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reports", r.URL.Path)
		fmt.Fprint(w, `{"rows":10,"total":999.99,"by_user":{"901":{"rows":4,"total":400}}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), &fakeTokens{}, testLogger())

	report, err := client.DeepReport(context.Background(), "jh", "wip",
		mustDate(t, "2024-01-01"), mustDate(t, "2024-01-31"), 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, int64(10), report.Rows)
	assert.InDelta(t, 999.99, report.Total, 0.001)
	assert.Equal(t, int64(4), report.ByUser["901"].Rows)
}

func TestDeepReport_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}

		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), &fakeTokens{}, testLogger())

	_, err := client.DeepReport(context.Background(), "jh", "wip",
		mustDate(t, "2024-01-01"), mustDate(t, "2024-01-31"), 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
