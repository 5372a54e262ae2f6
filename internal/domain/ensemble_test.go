package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel_Canonicalize(t *testing.T) {
	f := mustField(t, "msl", []Axis{initAxis(NewMonth(2010, time.January), 1)}, []float64{1})
	f = f.RenameAxis(AxisInit, AxisIndexingTime)

	for _, m := range []Model{JMA, NCEP, UKMO} {
		assert.Equal(t, AxisIndexingTime, m.TimeAxis())
		assert.True(t, m.Canonicalize(f).HasAxis(AxisInit), m)
	}
	assert.Equal(t, AxisInit, ECMWF.TimeAxis())
	assert.True(t, ECMWF.Canonicalize(f).HasAxis(AxisIndexingTime))
}

func TestParseModels(t *testing.T) {
	got, err := ParseModels("ecmwf, JMA,,meteo_france")
	require.NoError(t, err)
	assert.Equal(t, []Model{ECMWF, JMA, MeteoFrance}, got)

	_, err = ParseModels("ecmwf,bom")
	assert.Error(t, err)
	_, err = ParseModels(" , ")
	assert.Error(t, err)
}

func TestParseImputePolicy(t *testing.T) {
	p, err := ParseImputePolicy("Reject")
	require.NoError(t, err)
	assert.Equal(t, ImputeReject, p)

	_, err = ParseImputePolicy("drop")
	assert.Error(t, err)
}

func TestNormalizeEnsemble(t *testing.T) {
	init := NewMonth(2012, time.March)

	t.Run("pads members with NaN", func(t *testing.T) {
		f := mustField(t, "msl", []Axis{RangeAxis(AxisMember, 0, 3), initAxis(init, 1), RangeAxis(AxisLead, 1, 2)},
			[]float64{1, 2, 3, 4, 5, 6})

		out, err := NormalizeEnsemble(f, init)
		require.NoError(t, err)
		members, _ := out.Axis(AxisMember)
		require.Equal(t, CanonicalEnsembleSize, members.Len())
		assert.Equal(t, 50.0, members.Values[50])
		assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, out.Data[:6])
		for _, v := range out.Data[6:] {
			assert.True(t, math.IsNaN(v))
		}
	})

	t.Run("never truncates", func(t *testing.T) {
		f := Filled("msl", []Axis{RangeAxis(AxisMember, 0, 60), initAxis(init, 1)}, 1)

		out, err := NormalizeEnsemble(f, init)
		require.NoError(t, err)
		assert.Equal(t, 60, out.Axes[0].Len())
	})

	t.Run("adds missing axes", func(t *testing.T) {
		f := mustField(t, "msl", []Axis{RangeAxis(AxisLead, 1, 2)}, []float64{1, 2})

		out, err := NormalizeEnsemble(f, init)
		require.NoError(t, err)
		assert.Equal(t, []string{AxisMember, AxisInit, AxisLead}, out.Dims())
		assert.Equal(t, []float64{1, 2}, out.Data[:2])
		inits, _ := out.Axis(AxisInit)
		assert.Equal(t, init.Time(), inits.Times[0])
	})
}

func TestPlaceholder(t *testing.T) {
	ref := mustField(t, "msl", []Axis{initAxis(NewMonth(2010, time.January), 1), RangeAxis(AxisLead, 1, 2)}, []float64{1, 2})
	want := NewMonth(2015, time.June)

	out, err := Placeholder(ref, want)
	require.NoError(t, err)
	inits, _ := out.Axis(AxisInit)
	assert.Equal(t, want.Time(), inits.Times[0])
	for _, v := range out.Data {
		assert.True(t, math.IsNaN(v))
	}
	assert.Equal(t, []float64{1, 2}, ref.Data)

	twoInits := mustField(t, "msl", []Axis{initAxis(NewMonth(2010, time.January), 2)}, []float64{1, 2})
	_, err = Placeholder(twoInits, want)
	assert.ErrorIs(t, err, ErrShape)
}
