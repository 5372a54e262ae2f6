package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/cds"
	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
	"github.com/couchcryptid/nao-forecast-etl/internal/pipeline"
)

var refreshNow = time.Date(2011, time.March, 15, 6, 0, 0, 0, time.UTC)

func newRefresh(t *testing.T, l domain.Layout, archive pipeline.Archive, from domain.Month, sink *recordingLoader) (*pipeline.Pipeline, *observability.Metrics) {
	t.Helper()
	logger := observability.DiscardLogger()
	metrics := newTestMetrics()
	loader := netcdf.NewCachedLoader(netcdf.FileLoader{}, leads)

	var pub *pipeline.Publisher
	if sink != nil {
		pub = pipeline.NewPublisher(sink, logger, metrics)
	}
	p := pipeline.New(
		newRetriever(archive, l, true, metrics),
		pipeline.NewReshaper(loader, l, leads, logger, metrics),
		pipeline.NewReanalysisIndexer(netcdf.FileLoader{}, l, domain.Azores, domain.Iceland, pub, logger, metrics),
		pipeline.RefreshOptions{From: from, Leads: leads, Lag: 1},
		clockwork.NewFakeClockAt(refreshNow),
		logger, metrics,
	)
	return p, metrics
}

func TestPipeline_RunOnce_HappyPath(t *testing.T) {
	l := testLayout(t)
	archive := newFakeArchive(t)
	sink := &recordingLoader{}
	p, metrics := newRefresh(t, l, archive, month(2010, time.January), sink)

	require.Error(t, p.CheckReadiness(context.Background()))
	_, ok := p.LastRun()
	assert.False(t, ok)

	require.NoError(t, p.RunOnce(context.Background()))
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, month(2011, time.February), p.Latest())

	last, ok := p.LastRun()
	require.True(t, ok)
	want := pipeline.RunSummary{
		StartedAt:  refreshNow,
		Downloaded: 14,
		LastInit:   "2010-09",
		IndexPath:  l.ReanalysisIndex(month(2010, time.January), month(2010, time.September)),
	}
	if diff := cmp.Diff(want, last, cmpopts.IgnoreFields(pipeline.RunSummary{}, "ID", "Duration")); diff != "" {
		t.Fatalf("run summary mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, last.ID)

	assert.Len(t, sink.Events(), 9*leads)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning))
	assert.Equal(t, 9.0, testutil.ToFloat64(metrics.FilesWritten.WithLabelValues("reshape")))
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.StageDuration))

	// Raw months are immutable: a second run downloads nothing new.
	require.NoError(t, p.RunOnce(context.Background()))
	assert.Len(t, archive.Calls(), 14)
	last, _ = p.LastRun()
	assert.Equal(t, 0, last.Downloaded)
}

func TestPipeline_RunOnce_DownloadGap(t *testing.T) {
	l := testLayout(t)
	failing := cds.ReanalysisRequest("msl", month(2010, time.November), testArea, testGrid).Key()
	p, metrics := newRefresh(t, l, newFakeArchive(t, failing), month(2010, time.January), nil)

	require.NoError(t, p.RunOnce(context.Background()))

	last, _ := p.LastRun()
	assert.Equal(t, []string{failing}, last.Failed)
	assert.Equal(t, "2010-05", last.LastInit, "the index stops before the first window with a gap")
	assert.Equal(t, l.ReanalysisIndex(month(2010, time.January), month(2010, time.May)), last.IndexPath)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StageErrors.WithLabelValues("download_era5")))
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_RunOnce_FirstMonthMissing(t *testing.T) {
	l := testLayout(t)
	failing := cds.ReanalysisRequest("msl", month(2010, time.January), testArea, testGrid).Key()
	p, metrics := newRefresh(t, l, newFakeArchive(t, failing), month(2010, time.January), nil)

	err := p.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrMissingInput)
	assert.Contains(t, err.Error(), "reshape")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StageErrors.WithLabelValues("reshape")))
	assert.Error(t, p.CheckReadiness(context.Background()))

	last, ok := p.LastRun()
	require.True(t, ok)
	assert.NotEmpty(t, last.Error)
}

func TestPipeline_RunOnce_NoCompleteWindow(t *testing.T) {
	archive := newFakeArchive(t)
	p, _ := newRefresh(t, testLayout(t), archive, month(2011, time.January), nil)

	err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no complete 6-month window")
	assert.Empty(t, archive.Calls())
}

func TestPipeline_RunOnce_Cancelled(t *testing.T) {
	p, _ := newRefresh(t, testLayout(t), newFakeArchive(t), month(2010, time.January), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
