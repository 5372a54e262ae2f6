package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/cds"
	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
	"github.com/couchcryptid/nao-forecast-etl/internal/synth"
)

func month(y int, m time.Month) domain.Month { return domain.NewMonth(y, m) }

func testLayout(t *testing.T) domain.Layout {
	t.Helper()
	root := t.TempDir()
	return domain.Layout{
		Dirs: domain.Dirs{
			RawEra5Monthly:               filepath.Join(root, "raw", "era5"),
			RawForecastMonthly:           filepath.Join(root, "raw", "forecast"),
			ProcessedEra5ForecastMonthly: filepath.Join(root, "processed", "era5"),
			ProcessedForecastMonthly:     filepath.Join(root, "processed", "forecast"),
			Fig:                          filepath.Join(root, "fig"),
		},
		Variable: "msl",
		Systems: map[domain.Model]string{
			domain.ECMWF: "51",
			domain.JMA:   "3",
		},
	}
}

// fakeArchive serves synthetic archive files and fails selected keys.
type fakeArchive struct {
	grid synth.Grid
	dir  string
	fail map[string]bool

	mu    sync.Mutex
	calls []string
}

func newFakeArchive(t *testing.T, fail ...string) *fakeArchive {
	a := &fakeArchive{grid: synth.SmallGrid(), dir: t.TempDir(), fail: map[string]bool{}}
	for _, k := range fail {
		a.fail[k] = true
	}
	return a
}

func (a *fakeArchive) Retrieve(ctx context.Context, dataset string, req cds.Request, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.calls = append(a.calls, req.Key())
	a.mu.Unlock()
	if a.fail[req.Key()] {
		return errors.New("job failed: archive unavailable")
	}

	year, err := strconv.Atoi(req.Year[0])
	if err != nil {
		return err
	}
	mon, err := strconv.Atoi(req.Month[0])
	if err != nil {
		return err
	}
	m := domain.NewMonth(year, time.Month(mon))

	var ds netcdf.Dataset
	switch dataset {
	case cds.DatasetReanalysis:
		ds = synth.ReanalysisDataset(a.grid, m)
	case cds.DatasetSeasonal:
		model := domain.Model(req.OriginatingCentre)
		f := synth.Forecast(a.grid, model, m, synth.EnsembleSize(model), len(req.LeadtimeMonth))
		ds = netcdf.Dataset{Fields: []domain.Field{f}}
	default:
		return fmt.Errorf("unknown dataset %s", dataset)
	}

	tmp, err := os.MkdirTemp(a.dir, "job")
	if err != nil {
		return err
	}
	path := filepath.Join(tmp, "result.nc")
	if err := netcdf.WriteFile(path, ds); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (a *fakeArchive) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// countingLoader counts reads per path.
type countingLoader struct {
	inner netcdf.Loader
	mu    sync.Mutex
	reads map[string]int
}

func newCountingLoader() *countingLoader {
	return &countingLoader{inner: netcdf.FileLoader{}, reads: map[string]int{}}
}

func (c *countingLoader) Load(path, variable string) (domain.Field, error) {
	c.mu.Lock()
	c.reads[path]++
	c.mu.Unlock()
	return c.inner.Load(path, variable)
}

func (c *countingLoader) Reads(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[path]
}

// recordingLoader captures published events.
type recordingLoader struct {
	mu     sync.Mutex
	events []domain.OutputEvent
	err    error
}

func (r *recordingLoader) LoadBatch(_ context.Context, events []domain.OutputEvent) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingLoader) Events() []domain.OutputEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.OutputEvent(nil), r.events...)
}

func newTestMetrics() *observability.Metrics {
	// Fresh collectors avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

// noTempFiles fails if any temp or partial download file is left under dir.
func noTempFiles(t *testing.T, dir string) {
	t.Helper()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ext := filepath.Ext(path); ext == ".tmp" || ext == ".download" {
			t.Errorf("leftover temp file %s", path)
		}
		return nil
	})
	if !errors.Is(err, os.ErrNotExist) {
		require.NoError(t, err)
	}
}
