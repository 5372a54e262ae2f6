package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/cds"
	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
)

// Archive runs one retrieval against the remote archive and streams the
// produced file into w.
type Archive interface {
	Retrieve(ctx context.Context, dataset string, req cds.Request, w io.Writer) error
}

// RetrievalFailure is one unit that could not be fetched.
type RetrievalFailure struct {
	Key string
	Err error
}

// RetrievalReport lists the outcome of every unit of a batch.
type RetrievalReport struct {
	Succeeded []string
	Skipped   []string
	Failed    []RetrievalFailure
}

// OK reports whether no unit failed.
func (r RetrievalReport) OK() bool { return len(r.Failed) == 0 }

// RetrieverOptions configures a Retriever.
type RetrieverOptions struct {
	Layout domain.Layout
	Area   cds.Area
	Grid   cds.Grid
	Leads  []int
	// SkipExisting leaves files already on disk untouched.
	SkipExisting bool
}

// Retriever downloads raw monthly files one unit at a time. A failed unit is
// logged and counted and the batch moves on.
type Retriever struct {
	archive Archive
	opts    RetrieverOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRetriever creates a Retriever.
func NewRetriever(archive Archive, opts RetrieverOptions, logger *slog.Logger, metrics *observability.Metrics) *Retriever {
	return &Retriever{archive: archive, opts: opts, logger: logger, metrics: metrics}
}

// Reanalysis fetches one ERA5 monthly mean per month. Each file is
// post-processed so that only the variable and its coordinates remain, with
// valid_time renamed to time.
func (r *Retriever) Reanalysis(ctx context.Context, months []domain.Month) (RetrievalReport, error) {
	var report RetrievalReport
	for _, m := range months {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		req := cds.ReanalysisRequest(r.opts.Layout.Variable, m, r.opts.Area, r.opts.Grid)
		path := r.opts.Layout.RawReanalysis(m)
		r.fetch(ctx, &report, cds.DatasetReanalysis, req, path, "download_era5", r.tidyReanalysis)
	}
	return report, nil
}

// Forecast fetches one seasonal-forecast initialization per month for model.
// The archive file is kept as delivered.
func (r *Retriever) Forecast(ctx context.Context, model domain.Model, months []domain.Month) (RetrievalReport, error) {
	system, err := r.opts.Layout.System(model)
	if err != nil {
		return RetrievalReport{}, err
	}
	var report RetrievalReport
	for _, m := range months {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		req := cds.SeasonalRequest(r.opts.Layout.Variable, model, system, m, r.opts.Leads, r.opts.Area, r.opts.Grid)
		path := r.opts.Layout.RawForecast(model, system, m)
		r.fetch(ctx, &report, cds.DatasetSeasonal, req, path, "download_forecast", rename)
	}
	return report, nil
}

// finalizeFunc turns the downloaded temp file into the final file at path.
type finalizeFunc func(tmp, path string) error

func (r *Retriever) fetch(ctx context.Context, report *RetrievalReport, dataset string, req cds.Request, path, stage string, finalize finalizeFunc) {
	key := req.Key()
	if r.opts.SkipExisting {
		if _, err := os.Stat(path); err == nil {
			r.logger.Debug("file exists, skipping", "key", key, "path", path)
			report.Skipped = append(report.Skipped, key)
			return
		}
	}

	if err := r.download(ctx, dataset, req, path, finalize); err != nil {
		r.logger.Warn("retrieval failed, skipping", "error", err, "key", key)
		r.metrics.StageErrors.WithLabelValues(stage).Inc()
		report.Failed = append(report.Failed, RetrievalFailure{Key: key, Err: err})
		return
	}
	r.metrics.FilesWritten.WithLabelValues(stage).Inc()
	r.logger.Info("file retrieved", "key", key, "path", path)
	report.Succeeded = append(report.Succeeded, key)
}

// download streams the archive response into a temp file next to path and
// finalizes it. Nothing appears at path unless every step succeeds.
func (r *Retriever) download(ctx context.Context, dataset string, req cds.Request, path string, finalize finalizeFunc) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.download")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // gone after a successful rename

	if err := r.archive.Retrieve(ctx, dataset, req, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	return finalize(tmpPath, path)
}

// tidyReanalysis keeps only the requested variable and renames valid_time to
// time. Auxiliary variables such as expver and number are dropped.
func (r *Retriever) tidyReanalysis(tmp, path string) error {
	ds, err := netcdf.Read(tmp, r.opts.Layout.Variable)
	if err != nil {
		return fmt.Errorf("post-process: %w", err)
	}
	f := ds.Fields[0].RenameAxis(domain.AxisValidTime, domain.AxisTime)
	return netcdf.WriteFile(path, netcdf.Dataset{Fields: []domain.Field{f}, Attrs: ds.Attrs})
}

func rename(tmp, path string) error {
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}
