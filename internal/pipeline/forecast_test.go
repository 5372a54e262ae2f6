package pipeline_test

import (
	"context"
	"encoding/json"
	"math"
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

const jmaMembers = 10

func forecastIndexer(l domain.Layout, policy domain.ImputePolicy, pub *pipeline.Publisher, metrics *observability.Metrics) *pipeline.ForecastIndexer {
	return pipeline.NewForecastIndexer(
		netcdf.NewCachedLoader(netcdf.FileLoader{}, 4),
		pipeline.ForecastOptions{
			Layout:       l,
			South:        domain.Azores,
			North:        domain.Iceland,
			FallbackInit: month(2010, time.January),
			Policy:       policy,
		},
		pub, observability.DiscardLogger(), metrics,
	)
}

func writeJMA(t *testing.T, l domain.Layout, inits []domain.Month) {
	t.Helper()
	require.NoError(t, synth.WriteForecast(l, synth.SmallGrid(), domain.JMA, inits, jmaMembers, leads))
}

func TestForecastIndexer_OneMissingInit(t *testing.T) {
	l := testLayout(t)
	inits := domain.MonthRange(month(2010, time.January), month(2010, time.December))
	writeJMA(t, l, inits)

	// Reference run with every initialization present.
	full, err := forecastIndexer(l, domain.ImputeFill, nil, newTestMetrics()).Run(context.Background(), domain.JMA, inits[0], inits[11])
	require.NoError(t, err)
	fullEns, err := netcdf.ReadField(full.Path, pipeline.VarRawEnsemble)
	require.NoError(t, err)

	missing := month(2010, time.May)
	require.NoError(t, os.Remove(l.RawForecast(domain.JMA, "3", missing)))

	metrics := newTestMetrics()
	sink := &recordingLoader{}
	pub := pipeline.NewPublisher(sink, observability.DiscardLogger(), metrics)
	res, err := forecastIndexer(l, domain.ImputeFill, pub, metrics).Run(context.Background(), domain.JMA, inits[0], inits[11])
	require.NoError(t, err)

	assert.Equal(t, l.ForecastIndex(domain.JMA, "3", inits[0], inits[11]), res.Path)
	assert.Equal(t, map[domain.Month]bool{missing: true}, res.Imputed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FallbackSubstitutions.WithLabelValues("jma")))

	ds, err := netcdf.Read(res.Path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		pipeline.VarImputed,
		pipeline.VarStandardizedEnsemble,
		pipeline.VarStandardizedEnsembleMean,
		pipeline.VarRawEnsemble,
		pipeline.VarRawEnsembleMean,
	}, ds.Names())
	assert.Equal(t, "jma", ds.Attrs["source"])

	ens, _ := ds.Field(pipeline.VarRawEnsemble)
	assert.Equal(t, domain.UnitsPascal, ens.Attrs["units"])
	assert.Equal(t, []string{domain.AxisMember, domain.AxisInit, domain.AxisLead}, ens.Dims(),
		"indexing_time is renamed")

	frt, _ := ens.Axis(domain.AxisInit)
	require.Equal(t, 12, frt.Len(), "output stays densely indexed")
	members, _ := ens.Axis(domain.AxisMember)
	assert.Equal(t, domain.RangeAxis(domain.AxisMember, 0, domain.CanonicalEnsembleSize).Values, members.Values)

	for n := 0; n < domain.CanonicalEnsembleSize; n++ {
		for i, tm := range frt.Times {
			for j := 0; j < leads; j++ {
				got := ens.At(n, i, j)
				switch {
				case domain.MonthOf(tm) == missing:
					assert.True(t, math.IsNaN(got), "imputed init must be all NaN")
				case n >= jmaMembers:
					assert.True(t, math.IsNaN(got), "padded member %d must be NaN", n)
				default:
					assert.Equal(t, fullEns.At(n, i, j), got, "init %s member %d lead %d", domain.MonthOf(tm), n, j+1)
				}
			}
		}
	}

	flags, _ := ds.Field(pipeline.VarImputed)
	for i, tm := range frt.Times {
		want := 0.0
		if domain.MonthOf(tm) == missing {
			want = 1
		}
		assert.Equal(t, want, flags.Data[i])
	}
	assert.Equal(t, "2010-05", flags.Attrs["imputed_inits"])

	events := sink.Events()
	require.Len(t, events, 12*leads)
	var imputed int
	for _, ev := range events {
		var rec domain.IndexRecord
		require.NoError(t, json.Unmarshal(ev.Value, &rec))
		assert.Equal(t, "jma", rec.Source)
		assert.Equal(t, "3", rec.System)
		if rec.Init == "2010-05" {
			imputed++
			assert.Equal(t, "imputed", rec.Provenance)
			assert.Nil(t, rec.Raw)
			assert.Nil(t, rec.Standardized)
		} else {
			assert.Equal(t, "observed", rec.Provenance)
			assert.NotNil(t, rec.Raw)
		}
	}
	assert.Equal(t, leads, imputed)
	assert.Equal(t, float64(12*leads), testutil.ToFloat64(metrics.RecordsPublished))
}

func TestForecastIndexer_StandardizedMean(t *testing.T) {
	l := testLayout(t)
	inits := domain.MonthRange(month(2010, time.January), month(2011, time.December))
	writeJMA(t, l, inits)

	res, err := forecastIndexer(l, domain.ImputeFill, nil, newTestMetrics()).Run(context.Background(), domain.JMA, inits[0], inits[23])
	require.NoError(t, err)

	// Recomputed over the same reference axis, per lead.
	for lead := 0; lead < leads; lead++ {
		var vals []float64
		for i := 0; i < len(inits); i++ {
			vals = append(vals, res.Standardized.At(i, lead))
		}
		var sum, sq float64
		for _, v := range vals {
			sum += v
		}
		mean := sum / float64(len(vals))
		for _, v := range vals {
			sq += (v - mean) * (v - mean)
		}
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, math.Sqrt(sq/float64(len(vals))), 1e-9)
	}
	assert.Equal(t, domain.UnitsDimensionless, res.Standardized.Attrs["units"])
}

func TestForecastIndexer_MissingFallbackIsFatal(t *testing.T) {
	l := testLayout(t)
	inits := domain.MonthRange(month(2010, time.January), month(2010, time.March))
	writeJMA(t, l, inits)
	require.NoError(t, os.Remove(l.RawForecast(domain.JMA, "3", month(2010, time.January))))

	_, err := forecastIndexer(l, domain.ImputeFill, nil, newTestMetrics()).Run(context.Background(), domain.JMA, inits[0], inits[2])
	require.ErrorIs(t, err, domain.ErrMissingInput)
	assert.Contains(t, err.Error(), "fallback")
}

func TestForecastIndexer_RejectPolicy(t *testing.T) {
	l := testLayout(t)
	inits := domain.MonthRange(month(2010, time.January), month(2010, time.March))
	writeJMA(t, l, inits)
	require.NoError(t, os.Remove(l.RawForecast(domain.JMA, "3", month(2010, time.February))))

	_, err := forecastIndexer(l, domain.ImputeReject, nil, newTestMetrics()).Run(context.Background(), domain.JMA, inits[0], inits[2])
	require.ErrorIs(t, err, domain.ErrImputedRejected)
	assert.ErrorIs(t, err, domain.ErrMissingInput)
	_, statErr := os.Stat(l.ForecastIndex(domain.JMA, "3", inits[0], inits[2]))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestForecastIndexer_FullEnsembleKeepsMembers(t *testing.T) {
	l := testLayout(t)
	inits := domain.MonthRange(month(2010, time.January), month(2010, time.February))
	require.NoError(t, synth.WriteForecast(l, synth.SmallGrid(), domain.ECMWF, inits, domain.CanonicalEnsembleSize, leads))

	res, err := forecastIndexer(l, domain.ImputeFill, nil, newTestMetrics()).Run(context.Background(), domain.ECMWF, inits[0], inits[1])
	require.NoError(t, err)

	ens, err := netcdf.ReadField(res.Path, pipeline.VarRawEnsemble)
	require.NoError(t, err)
	members, _ := ens.Axis(domain.AxisMember)
	assert.Equal(t, domain.CanonicalEnsembleSize, members.Len())
	for _, v := range ens.Data {
		assert.False(t, math.IsNaN(v))
	}
	assert.Empty(t, res.Imputed)
}

func TestForecastIndexer_PublishError(t *testing.T) {
	l := testLayout(t)
	inits := []domain.Month{month(2010, time.January)}
	writeJMA(t, l, inits)

	sink := &recordingLoader{err: assert.AnError}
	pub := pipeline.NewPublisher(sink, observability.DiscardLogger(), newTestMetrics())
	res, err := forecastIndexer(l, domain.ImputeFill, pub, newTestMetrics()).Run(context.Background(), domain.JMA, inits[0], inits[0])
	require.ErrorIs(t, err, assert.AnError)
	_, statErr := os.Stat(res.Path)
	assert.NoError(t, statErr, "the index file is written before publishing")
}
