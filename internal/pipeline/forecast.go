package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
)

// Names of the forecast index variables.
const (
	VarRawEnsemble              = "nao_raw_ensemble"
	VarRawEnsembleMean          = "nao_raw_ensemble_mean"
	VarStandardizedEnsemble     = "nao_ensemble"
	VarStandardizedEnsembleMean = "nao_ensemble_mean"
	VarImputed                  = "imputed"
)

// ForecastOptions configures a ForecastIndexer.
type ForecastOptions struct {
	Layout       domain.Layout
	South        domain.Station
	North        domain.Station
	FallbackInit domain.Month
	Policy       domain.ImputePolicy
}

// ForecastIndexer computes the NAO index of one forecast centre across a
// range of initializations, normalized to the common ensemble schema.
type ForecastIndexer struct {
	loader    netcdf.Loader
	opts      ForecastOptions
	publisher *Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewForecastIndexer creates a ForecastIndexer. The fallback reference is
// read through loader for every missing initialization, so loader should
// cache. publisher may be nil.
func NewForecastIndexer(loader netcdf.Loader, opts ForecastOptions, publisher *Publisher, logger *slog.Logger, metrics *observability.Metrics) *ForecastIndexer {
	if opts.Policy == "" {
		opts.Policy = domain.ImputeFill
	}
	return &ForecastIndexer{loader: loader, opts: opts, publisher: publisher, logger: logger, metrics: metrics}
}

// Run indexes model for every initialization from..to and writes the raw,
// standardized and imputed series to one file.
func (x *ForecastIndexer) Run(ctx context.Context, model domain.Model, from, to domain.Month) (IndexResult, error) {
	system, err := x.opts.Layout.System(model)
	if err != nil {
		return IndexResult{}, err
	}
	inits := domain.MonthRange(from, to)
	if len(inits) == 0 {
		return IndexResult{}, fmt.Errorf("index %s: empty range %s..%s", model, from, to)
	}
	logger := x.logger.With("model", string(model), "system", system)

	ensembles := make([]domain.Field, 0, len(inits))
	imputed := make(map[domain.Month]bool)
	for _, init := range inits {
		if err := ctx.Err(); err != nil {
			return IndexResult{}, err
		}
		rec, err := x.load(model, system, init)
		if err != nil {
			return IndexResult{}, fmt.Errorf("index %s: %w", model, err)
		}
		if rec.Provenance == domain.Imputed {
			imputed[init] = true
			x.metrics.FallbackSubstitutions.WithLabelValues(string(model)).Inc()
			logger.Warn("initialization missing, using placeholder", "init", init.String(), "reason", rec.Reason)
		}

		nao, err := domain.StationIndex(rec.Field, x.opts.South, x.opts.North)
		if err != nil {
			return IndexResult{}, fmt.Errorf("index %s %s: %w", model, init, err)
		}
		ens, err := domain.NormalizeEnsemble(nao, init)
		if err != nil {
			return IndexResult{}, fmt.Errorf("index %s %s: %w", model, init, err)
		}
		ensembles = append(ensembles, ens)
	}

	res, ds, err := x.derive(ensembles, imputed)
	if err != nil {
		return IndexResult{}, fmt.Errorf("index %s: %w", model, err)
	}
	ds.Attrs = map[string]string{
		"source":        string(model),
		"system":        system,
		"stations":      fmt.Sprintf("%s minus %s", x.opts.South.Name, x.opts.North.Name),
		"fallback_init": x.opts.FallbackInit.String(),
		"impute_policy": string(x.opts.Policy),
	}
	res.Path = x.opts.Layout.ForecastIndex(model, system, from, to)
	if err := netcdf.WriteFile(res.Path, ds); err != nil {
		return IndexResult{}, err
	}
	x.metrics.FilesWritten.WithLabelValues("index_forecast").Inc()
	logger.Info("forecast index written", "path", res.Path, "inits", len(inits), "imputed", len(imputed))

	records, err := domain.RecordsFromIndex(string(model), system, res.Raw, res.Standardized, imputed)
	if err != nil {
		return IndexResult{}, err
	}
	if err := x.publisher.Publish(ctx, records); err != nil {
		return res, err
	}
	return res, nil
}

// load reads one initialization, substituting a placeholder when its file is
// missing and the policy allows it.
func (x *ForecastIndexer) load(model domain.Model, system string, init domain.Month) (domain.InitRecord, error) {
	path := x.opts.Layout.RawForecast(model, system, init)
	f, err := x.loader.Load(path, x.opts.Layout.Variable)
	if err == nil {
		return domain.InitRecord{Init: init, Field: model.Canonicalize(f), Provenance: domain.Observed}, nil
	}
	if !errors.Is(err, domain.ErrMissingInput) {
		return domain.InitRecord{}, err
	}
	if x.opts.Policy == domain.ImputeReject {
		return domain.InitRecord{}, fmt.Errorf("%w: %s: %w", domain.ErrImputedRejected, init, err)
	}

	refPath := x.opts.Layout.RawForecast(model, system, x.opts.FallbackInit)
	ref, err := x.loader.Load(refPath, x.opts.Layout.Variable)
	if err != nil {
		return domain.InitRecord{}, fmt.Errorf("fallback reference for %s: %w", init, err)
	}
	placeholder, err := domain.Placeholder(model.Canonicalize(ref), init)
	if err != nil {
		return domain.InitRecord{}, fmt.Errorf("fallback reference for %s: %w", init, err)
	}
	return domain.InitRecord{
		Init:       init,
		Field:      placeholder,
		Provenance: domain.Imputed,
		Reason:     fmt.Sprintf("%s not found, filled from %s", path, x.opts.FallbackInit),
	}, nil
}

// derive stacks the per-initialization ensembles and computes the ensemble
// mean and both standardizations.
func (x *ForecastIndexer) derive(ensembles []domain.Field, imputed map[domain.Month]bool) (IndexResult, netcdf.Dataset, error) {
	ens, err := domain.Concat(domain.AxisInit, ensembles...)
	if err != nil {
		return IndexResult{}, netcdf.Dataset{}, err
	}
	mean, err := domain.MeanOver(ens, domain.AxisMember)
	if err != nil {
		return IndexResult{}, netcdf.Dataset{}, err
	}
	stdMean, err := domain.Standardize(mean, domain.AxisInit)
	if err != nil {
		return IndexResult{}, netcdf.Dataset{}, err
	}
	stdEns, err := domain.Standardize(ens, domain.AxisInit, domain.AxisMember)
	if err != nil {
		return IndexResult{}, netcdf.Dataset{}, err
	}

	raw := map[string]string{"description": domain.IndexDescription, "units": domain.UnitsPascal}
	std := map[string]string{"description": domain.StandardizedIndexDescription, "units": domain.UnitsDimensionless}
	ens = ens.WithName(VarRawEnsemble).WithAttrs(raw)
	mean = mean.WithName(VarRawEnsembleMean).WithAttrs(raw)
	stdEns = stdEns.WithName(VarStandardizedEnsemble).WithAttrs(std)
	stdMean = stdMean.WithName(VarStandardizedEnsembleMean).WithAttrs(std)

	flags, err := imputedFlags(ens, imputed)
	if err != nil {
		return IndexResult{}, netcdf.Dataset{}, err
	}
	ds := netcdf.Dataset{Fields: []domain.Field{ens, mean, stdEns, stdMean, flags}}
	return IndexResult{Raw: mean, Standardized: stdMean, Imputed: imputed}, ds, nil
}

// imputedFlags is 1 for every initialization filled from the fallback, 0
// otherwise.
func imputedFlags(ens domain.Field, imputed map[domain.Month]bool) (domain.Field, error) {
	inits, _ := ens.Axis(domain.AxisInit)
	data := make([]float64, inits.Len())
	var names []string
	for i, t := range inits.Times {
		if m := domain.MonthOf(t); imputed[m] {
			data[i] = 1
			names = append(names, m.String())
		}
	}
	f, err := domain.NewField(VarImputed, []domain.Axis{inits}, data)
	if err != nil {
		return domain.Field{}, err
	}
	attrs := map[string]string{
		"long_name":     "initialization filled with missing values",
		"flag_values":   "0 1",
		"flag_meanings": "observed imputed",
	}
	if len(names) > 0 {
		attrs["imputed_inits"] = strings.Join(names, " ")
	}
	return f.WithAttrs(attrs), nil
}
