package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
)

// Names of the reanalysis index variables.
const (
	VarReanalysisRaw          = "nao_raw"
	VarReanalysisStandardized = "nao"
)

// IndexResult is a written index file and the series it holds.
type IndexResult struct {
	Path         string
	Raw          domain.Field // over (forecast_reference_time, forecastMonth)
	Standardized domain.Field
	Imputed      map[domain.Month]bool
}

// ReanalysisIndexer computes the station NAO index of the reshaped ERA5
// records.
type ReanalysisIndexer struct {
	loader    netcdf.Loader
	layout    domain.Layout
	south     domain.Station
	north     domain.Station
	publisher *Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewReanalysisIndexer creates a ReanalysisIndexer. The index is south minus
// north. publisher may be nil.
func NewReanalysisIndexer(loader netcdf.Loader, layout domain.Layout, south, north domain.Station, publisher *Publisher, logger *slog.Logger, metrics *observability.Metrics) *ReanalysisIndexer {
	return &ReanalysisIndexer{
		loader:    loader,
		layout:    layout,
		south:     south,
		north:     north,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run indexes every reshaped record from..to, standardizes over
// initializations and writes nao_raw and nao to one file.
func (x *ReanalysisIndexer) Run(ctx context.Context, from, to domain.Month) (IndexResult, error) {
	inits := domain.MonthRange(from, to)
	if len(inits) == 0 {
		return IndexResult{}, fmt.Errorf("index era5: empty range %s..%s", from, to)
	}

	parts := make([]domain.Field, 0, len(inits))
	for _, init := range inits {
		if err := ctx.Err(); err != nil {
			return IndexResult{}, err
		}
		f, err := x.loader.Load(x.layout.Reshaped(init), x.layout.Variable)
		if err != nil {
			return IndexResult{}, fmt.Errorf("index era5 %s: %w", init, err)
		}
		nao, err := domain.StationIndex(f, x.south, x.north)
		if err != nil {
			return IndexResult{}, fmt.Errorf("index era5 %s: %w", init, err)
		}
		parts = append(parts, nao)
	}

	raw, err := domain.Concat(domain.AxisInit, parts...)
	if err != nil {
		return IndexResult{}, fmt.Errorf("index era5: %w", err)
	}
	std, err := domain.Standardize(raw, domain.AxisInit)
	if err != nil {
		return IndexResult{}, fmt.Errorf("index era5: %w", err)
	}
	raw = raw.WithName(VarReanalysisRaw).WithAttrs(map[string]string{
		"description": domain.IndexDescription,
		"units":       domain.UnitsPascal,
	})
	std = std.WithName(VarReanalysisStandardized).WithAttrs(map[string]string{
		"description": domain.StandardizedIndexDescription,
		"units":       domain.UnitsDimensionless,
	})

	res := IndexResult{Path: x.layout.ReanalysisIndex(from, to), Raw: raw, Standardized: std}
	ds := netcdf.Dataset{
		Fields: []domain.Field{raw, std},
		Attrs: map[string]string{
			"source":   domain.SourceERA5,
			"stations": fmt.Sprintf("%s minus %s", x.south.Name, x.north.Name),
		},
	}
	if err := netcdf.WriteFile(res.Path, ds); err != nil {
		return IndexResult{}, err
	}
	x.metrics.FilesWritten.WithLabelValues("index_era5").Inc()
	x.logger.Info("reanalysis index written", "path", res.Path, "inits", len(inits))

	records, err := domain.RecordsFromIndex(domain.SourceERA5, "", raw, std, nil)
	if err != nil {
		return IndexResult{}, err
	}
	if err := x.publisher.Publish(ctx, records); err != nil {
		return res, err
	}
	return res, nil
}
