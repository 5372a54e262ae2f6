package chart

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
)

func sampleComparison() domain.Comparison {
	valid := []domain.Month{
		domain.NewMonth(2010, time.January),
		domain.NewMonth(2011, time.January),
		domain.NewMonth(2012, time.January),
	}
	return domain.Comparison{
		Lead:        1,
		Target:      time.January,
		Units:       "hPa",
		ObsValid:    valid,
		Observed:    []float64{-12, 3, math.NaN()},
		FcValid:     valid,
		Mean:        []float64{-4, 1, 2},
		Ensemble:    [][]float64{{-6, -4, -2}, {}, {1, 2, 3, 4}},
		Correlation: 1,
	}
}

func TestRender(t *testing.T) {
	for _, ext := range []string{"png", "svg", "pdf"} {
		t.Run(ext, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "forecast", "nao."+ext)

			require.NoError(t, Render(sampleComparison(), path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Positive(t, info.Size())

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "no temp files left behind")
		})
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nao")
	assert.Error(t, Render(sampleComparison(), path))
}

func TestBuild(t *testing.T) {
	p, err := build(sampleComparison())
	require.NoError(t, err)
	assert.Equal(t, "Target month: Jan, Lead month: 1, Correlation: 1.00", p.Title.Text)
	assert.Equal(t, "NAO Index (hPa)", p.Y.Label.Text)
}

func TestBuild_AllMissing(t *testing.T) {
	c := sampleComparison()
	c.Observed = []float64{math.NaN(), math.NaN(), math.NaN()}
	c.Correlation = math.NaN()

	p, err := build(c)
	require.NoError(t, err)
	assert.Contains(t, p.Title.Text, "Correlation: NaN")
}
