package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/nao-forecast-etl/internal/adapter/http"
	"github.com/couchcryptid/nao-forecast-etl/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockRuns struct {
	last *pipeline.RunSummary
}

func (m *mockRuns) LastRun() (pipeline.RunSummary, bool) {
	if m.last == nil {
		return pipeline.RunSummary{}, false
	}
	return *m.last, true
}

func newTestServer(readyErr error, last *pipeline.RunSummary) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, &mockRuns{last: last}, slog.Default())
}

func serve(srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("no refresh has completed yet"), nil), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLastRunNotFoundBeforeFirstRefresh(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "/runs/last")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLastRunReturnsSummary(t *testing.T) {
	last := &pipeline.RunSummary{
		ID:         "run-1",
		StartedAt:  time.Date(2011, time.March, 8, 6, 0, 0, 0, time.UTC),
		Duration:   3 * time.Second,
		Downloaded: 2,
		Failed:     []string{"msl_2011_02"},
		LastInit:   "2010-09",
	}
	rec := serve(newTestServer(nil, last), "/runs/last")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body["id"])
	assert.Equal(t, "2010-09", body["last_init"])
	assert.InDelta(t, 2, body["downloaded"], 0)
	assert.Equal(t, []any{"msl_2011_02"}, body["failed"])
	assert.NotContains(t, body, "error")
}
