package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
)

// Reshaper repackages monthly reanalysis files into the forecast layout: one
// file per initialization month holding the following N months as leads
// 1..N.
type Reshaper struct {
	loader  netcdf.Loader
	layout  domain.Layout
	leads   int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReshaper creates a Reshaper. Consecutive initializations share all but
// one monthly file, so a cached loader of at least leads entries avoids
// rereading them.
func NewReshaper(loader netcdf.Loader, layout domain.Layout, leads int, logger *slog.Logger, metrics *observability.Metrics) *Reshaper {
	return &Reshaper{loader: loader, layout: layout, leads: leads, logger: logger, metrics: metrics}
}

// Build assembles the forecast-format record of init without writing it.
// A missing monthly file fails with domain.ErrMissingInput.
func (r *Reshaper) Build(init domain.Month) (domain.Field, error) {
	if r.leads < 1 {
		return domain.Field{}, fmt.Errorf("%w: lead count %d", domain.ErrShape, r.leads)
	}
	months := domain.Window(init, r.leads)
	parts := make([]domain.Field, 0, len(months))
	for _, m := range months {
		f, err := r.loader.Load(r.layout.RawReanalysis(m), r.layout.Variable)
		if err != nil {
			return domain.Field{}, fmt.Errorf("reshape %s: %w", init, err)
		}
		parts = append(parts, f)
	}

	f, err := domain.Concat(domain.AxisTime, parts...)
	if err != nil {
		return domain.Field{}, fmt.Errorf("reshape %s: %w", init, err)
	}
	if ax, _ := f.Axis(domain.AxisTime); ax.Len() != r.leads {
		return domain.Field{}, fmt.Errorf("reshape %s: %w: %d time steps for %d leads", init, domain.ErrShape, ax.Len(), r.leads)
	}
	f, err = f.RenameAxis(domain.AxisTime, domain.AxisLead).SetAxis(domain.RangeAxis(domain.AxisLead, 1, r.leads))
	if err != nil {
		return domain.Field{}, fmt.Errorf("reshape %s: %w", init, err)
	}
	f, err = domain.PrependAxis(f, domain.TimeAxis(domain.AxisInit, init.Time()))
	if err != nil {
		return domain.Field{}, fmt.Errorf("reshape %s: %w", init, err)
	}
	return f, nil
}

// Reshape builds and writes the record of init, returning its path.
func (r *Reshaper) Reshape(init domain.Month) (string, error) {
	f, err := r.Build(init)
	if err != nil {
		return "", err
	}
	path := r.layout.Reshaped(init)
	if err := netcdf.WriteFields(path, f); err != nil {
		return "", err
	}
	r.metrics.FilesWritten.WithLabelValues("reshape").Inc()
	r.logger.Debug("record reshaped", "init", init.String(), "path", path)
	return path, nil
}

// Run reshapes every initialization in order and stops at the first error.
func (r *Reshaper) Run(ctx context.Context, inits []domain.Month) ([]string, error) {
	paths := make([]string, 0, len(inits))
	for _, init := range inits {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		path, err := r.Reshape(init)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	r.logger.Info("reshape complete", "records", len(paths), "leads", r.leads)
	return paths, nil
}
