package clio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a logger that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTokens is a TokenProvider that hands out sequential tokens and
// records refresh/evict activity.
type fakeTokens struct {
	issued  atomic.Int32
	evicted atomic.Int32
	forced  atomic.Int32
}

func (f *fakeTokens) GetToken(_ context.Context, _ string, forceRefresh bool) (string, error) {
	if forceRefresh {
		f.forced.Add(1)
	}

	return fmt.Sprintf("tok-%d", f.issued.Add(1)), nil
}

func (f *fakeTokens) Evict(string) {
	f.evicted.Add(1)
}

func TestDo_Success(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	client := NewClient(srv.URL, srv.Client(), tokens, testLogger())

	resp, err := client.Do(context.Background(), "jh", http.MethodGet, "/activities", nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, int32(0), tokens.forced.Load())
}

func TestDo_RetriesOnceOn401ThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"token expired"}`)

			return
		}

		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	client := NewClient(srv.URL, srv.Client(), tokens, testLogger())

	resp, err := client.Do(context.Background(), "jh", http.MethodGet, "/activities", nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load(), "exactly two HTTP calls")
	assert.Equal(t, int32(1), tokens.evicted.Load(), "cached token evicted after 401")
	assert.Equal(t, int32(1), tokens.forced.Load(), "exactly one forced refresh")
}

func TestDo_SecondUnauthorizedReturnedAsIs(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"nope"}`)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	client := NewClient(srv.URL, srv.Client(), tokens, testLogger())

	resp, err := client.Do(context.Background(), "jh", http.MethodGet, "/activities", nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	// No infinite loop: two calls, one forced refresh, and the second
	// 401 comes back to the caller unmodified.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), tokens.forced.Load())
}

func TestDo_OtherErrorStatusesNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	client := NewClient(srv.URL, srv.Client(), tokens, testLogger())

	resp, err := client.Do(context.Background(), "jh", http.MethodGet, "/activities", nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(0), tokens.forced.Load())
}

func TestDo_ReplaysBodyOnRetry(t *testing.T) {
	var bodies []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))

		if len(bodies) == 1 {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), &fakeTokens{}, testLogger())

	resp, err := client.Do(context.Background(), "jh", http.MethodPost, "/reports", nil, []byte(`{"dataset":"wip"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1], "retried request must carry the same body")
}

func TestDecodeResponse_Classification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"no such matter"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), &fakeTokens{}, testLogger())

	err := client.getJSON(context.Background(), "jh", "/activities", nil, &struct{}{})
	require.ErrorIs(t, err, ErrNotFound)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Body, "no such matter")
}
