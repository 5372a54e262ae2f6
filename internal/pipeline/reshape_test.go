package pipeline_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
	"github.com/couchcryptid/nao-forecast-etl/internal/pipeline"
	"github.com/couchcryptid/nao-forecast-etl/internal/synth"
)

const leads = 6

func TestReshaper_TwoYearsEndToEnd(t *testing.T) {
	l := testLayout(t)
	g := synth.SmallGrid()
	// Two years of initializations plus the five trailing months their
	// windows reach into.
	require.NoError(t, synth.WriteReanalysis(l, g, domain.MonthRange(month(2010, time.January), month(2012, time.May))))

	metrics := newTestMetrics()
	counter := newCountingLoader()
	r := pipeline.NewReshaper(netcdf.NewCachedLoader(counter, leads), l, leads, observability.DiscardLogger(), metrics)

	inits := domain.MonthRange(month(2010, time.January), month(2011, time.December))
	paths, err := r.Run(context.Background(), inits)
	require.NoError(t, err)
	require.Len(t, paths, 24)

	for i, init := range inits {
		f, err := netcdf.ReadField(paths[i], "msl")
		require.NoError(t, err)
		assert.Equal(t, l.Reshaped(init), paths[i])
		assert.Equal(t, []string{domain.AxisInit, domain.AxisLead, domain.AxisLatitude, domain.AxisLongitude}, f.Dims())

		frt, _ := f.Axis(domain.AxisInit)
		require.Equal(t, 1, frt.Len())
		assert.Equal(t, init, domain.MonthOf(frt.Times[0]))

		lead, _ := f.Axis(domain.AxisLead)
		assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, lead.Values)
	}

	assert.Equal(t, 24.0, testutil.ToFloat64(metrics.FilesWritten.WithLabelValues("reshape")))
	assert.Equal(t, 0, testutil.CollectAndCount(metrics.FallbackSubstitutions), "reshaping never substitutes")
	assert.Equal(t, 1, counter.Reads(l.RawReanalysis(month(2010, time.June))), "shared months are read once")
}

func TestReshaper_LeadValuesComeFromConsecutiveMonths(t *testing.T) {
	l := testLayout(t)
	g := synth.SmallGrid()
	require.NoError(t, synth.WriteReanalysis(l, g, domain.MonthRange(month(2010, time.November), month(2011, time.April))))

	r := pipeline.NewReshaper(netcdf.FileLoader{}, l, leads, observability.DiscardLogger(), newTestMetrics())
	f, err := r.Build(month(2010, time.November))
	require.NoError(t, err)

	for lead := 1; lead <= leads; lead++ {
		want := synth.Reanalysis(g, month(2010, time.November).Add(lead-1))
		for i := range g.Lats {
			for j := range g.Lons {
				assert.InDelta(t, want.At(0, i, j), f.At(0, lead-1, i, j), 1e-6, "lead %d", lead)
			}
		}
	}
}

func TestReshaper_MissingMonthAborts(t *testing.T) {
	l := testLayout(t)
	g := synth.SmallGrid()
	require.NoError(t, synth.WriteReanalysis(l, g, domain.MonthRange(month(2010, time.January), month(2010, time.December))))
	require.NoError(t, os.Remove(l.RawReanalysis(month(2010, time.August))))

	r := pipeline.NewReshaper(netcdf.FileLoader{}, l, leads, observability.DiscardLogger(), newTestMetrics())
	inits := domain.MonthRange(month(2010, time.January), month(2010, time.July))
	paths, err := r.Run(context.Background(), inits)

	require.ErrorIs(t, err, domain.ErrMissingInput)
	assert.Contains(t, err.Error(), "2010-03", "the first window containing August fails")
	assert.Len(t, paths, 2)
	_, statErr := os.Stat(l.Reshaped(month(2010, time.March)))
	assert.ErrorIs(t, statErr, os.ErrNotExist, "no partial window is written")
}

func TestReshaper_Cancelled(t *testing.T) {
	r := pipeline.NewReshaper(netcdf.FileLoader{}, testLayout(t), leads, observability.DiscardLogger(), newTestMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, []domain.Month{month(2010, time.January)})
	require.ErrorIs(t, err, context.Canceled)
}
