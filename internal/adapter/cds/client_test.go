package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
)

const (
	testKey           = "test-key"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

var (
	testArea = Area{North: 80, West: -90, South: 20, East: 40}
	testGrid = Grid{Lat: 1, Lon: 1}
)

func testClient(baseURL string, metrics *observability.Metrics, retries int) *Client {
	return NewClient(Options{
		Credentials:  Credentials{URL: baseURL, Key: testKey},
		Timeout:      5 * time.Second,
		PollInterval: time.Millisecond,
		Backoff:      BackoffConfig{MaxRetries: retries, InitialInterval: time.Millisecond},
		Clock:        clockwork.NewRealClock(),
		Logger:       observability.DiscardLogger(),
		Metrics:      metrics,
	})
}

// fakeArchive serves one job that reports running `pending` times before
// finishing with finalStatus.
type fakeArchive struct {
	t           *testing.T
	pending     int32
	finalStatus string
	polls       atomic.Int32
	submitted   map[string]any
	payload     []byte
}

func (f *fakeArchive) handler(srvURL func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /retrieve/v1/processes/{dataset}/execution", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, testKey, r.Header.Get("PRIVATE-TOKEN"))
		assert.NotEmpty(f.t, r.Header.Get("X-Request-Id"))
		var body map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.submitted = body
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = fmt.Fprint(w, `{"jobID":"job-1","status":"accepted"}`)
	})
	mux.HandleFunc("GET /retrieve/v1/jobs/job-1", func(w http.ResponseWriter, _ *http.Request) {
		status := "running"
		if f.polls.Add(1) > f.pending {
			status = f.finalStatus
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = fmt.Fprintf(w, `{"jobID":"job-1","status":%q}`, status)
	})
	mux.HandleFunc("GET /retrieve/v1/jobs/job-1/results", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = fmt.Fprintf(w, `{"asset":{"value":{"href":%q}}}`, srvURL()+"/files/job-1.nc")
	})
	mux.HandleFunc("GET /files/job-1.nc", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(f.payload)
	})
	return mux
}

func newFakeArchive(t *testing.T, pending int32, final string) (*fakeArchive, *httptest.Server) {
	f := &fakeArchive{t: t, pending: pending, finalStatus: final, payload: []byte("CDF\x01payload")}
	var srv *httptest.Server
	srv = httptest.NewServer(f.handler(func() string { return srv.URL }))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestClient_Retrieve_Success(t *testing.T) {
	archive, srv := newFakeArchive(t, 2, "successful")
	metrics := observability.NewMetricsForTesting()
	c := testClient(srv.URL, metrics, 0)

	var buf bytes.Buffer
	req := SeasonalRequest("mean_sea_level_pressure", domain.ECMWF, "51", domain.NewMonth(2010, time.January), []int{1, 2}, testArea, testGrid)
	require.NoError(t, c.Retrieve(context.Background(), DatasetSeasonal, req, &buf))

	assert.Equal(t, archive.payload, buf.Bytes())
	assert.Equal(t, int32(3), archive.polls.Load())

	inputs, ok := archive.submitted["inputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ecmwf", inputs["originating_centre"])
	assert.Equal(t, []any{"1", "2"}, inputs["leadtime_month"])
	assert.Equal(t, []any{"2010"}, inputs["year"])
	assert.Equal(t, []any{"01"}, inputs["month"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ArchiveRequests.WithLabelValues("forecast", "success")))
}

func TestClient_Retrieve_JobFailed(t *testing.T) {
	_, srv := newFakeArchive(t, 0, "failed")
	metrics := observability.NewMetricsForTesting()
	c := testClient(srv.URL, metrics, 0)

	var buf bytes.Buffer
	req := ReanalysisRequest("mean_sea_level_pressure", domain.NewMonth(2024, time.May), testArea, testGrid)
	err := c.Retrieve(context.Background(), DatasetReanalysis, req, &buf)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Zero(t, buf.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ArchiveRequests.WithLabelValues("reanalysis", "error")))
}

func TestClient_Retrieve_ContextCancelled(t *testing.T) {
	_, srv := newFakeArchive(t, 1<<20, "successful")
	c := NewClient(Options{
		Credentials:  Credentials{URL: srv.URL, Key: testKey},
		PollInterval: time.Hour,
		Clock:        clockwork.NewFakeClock(),
		Logger:       observability.DiscardLogger(),
		Metrics:      observability.NewMetricsForTesting(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Retrieve(ctx, DatasetSeasonal, Request{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoRequestWithResilience(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retries   int
		wantCalls int32
	}{
		{"server error without retries", http.StatusInternalServerError, 0, 1},
		{"server error retried", http.StatusBadGateway, 2, 3},
		{"rate limited retried", http.StatusTooManyRequests, 1, 2},
		{"client error not retried", http.StatusNotFound, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := testClient(srv.URL, observability.NewMetricsForTesting(), tt.retries)
			var out map[string]any
			err := c.doJSON(context.Background(), func() (*http.Request, error) {
				return http.NewRequest(http.MethodGet, srv.URL, nil)
			}, &out)

			require.Error(t, err)
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}
