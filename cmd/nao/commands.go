package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/cds"
	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/pipeline"
)

// monthFlag is a YYYY-MM flag value.
type monthFlag struct {
	m   domain.Month
	set bool
}

func (f *monthFlag) String() string {
	if !f.set {
		return ""
	}
	return f.m.String()
}

func (f *monthFlag) Set(s string) error {
	m, err := domain.ParseMonth(s)
	if err != nil {
		return err
	}
	f.m, f.set = m, true
	return nil
}

// span registers -from and -to month flags on fs.
type span struct {
	from, to monthFlag
}

func (s *span) register(fs *flag.FlagSet) {
	fs.Var(&s.from, "from", "first month, YYYY-MM")
	fs.Var(&s.to, "to", "last month, YYYY-MM")
}

func (s *span) months() ([]domain.Month, error) {
	if !s.from.set || !s.to.set {
		return nil, errors.New("-from and -to are required")
	}
	if s.to.m.Before(s.from.m) {
		return nil, fmt.Errorf("-to %s is before -from %s", s.to.m, s.from.m)
	}
	return domain.MonthRange(s.from.m, s.to.m), nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func (e *env) retriever(skipExisting bool) (*pipeline.Retriever, error) {
	opts, err := e.cfg.CDSOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = e.logger
	opts.Metrics = e.metrics
	p := e.cfg.Pipeline
	return pipeline.NewRetriever(cds.NewClient(opts), pipeline.RetrieverOptions{
		Layout:       e.layout,
		Area:         p.Area,
		Grid:         p.Grid,
		Leads:        p.Leads(),
		SkipExisting: skipExisting,
	}, e.logger, e.metrics), nil
}

func (e *env) reportRetrieval(report pipeline.RetrievalReport) {
	if report.OK() {
		e.logger.Info("retrieval finished", "written", len(report.Succeeded), "skipped", len(report.Skipped))
		return
	}
	keys := make([]string, len(report.Failed))
	for i, f := range report.Failed {
		keys[i] = f.Key
	}
	e.logger.Warn("retrieval finished with failures",
		"written", len(report.Succeeded), "skipped", len(report.Skipped), "failed", keys)
}

func downloadERA5(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("download-era5")
	var s span
	s.register(fs)
	skip := fs.Bool("skip-existing", false, "keep months already on disk")
	if err := fs.Parse(args); err != nil {
		return err
	}
	months, err := s.months()
	if err != nil {
		return err
	}
	r, err := e.retriever(*skip)
	if err != nil {
		return err
	}
	report, err := r.Reanalysis(ctx, months)
	e.reportRetrieval(report)
	return err
}

func downloadForecast(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("download-forecast")
	var s span
	s.register(fs)
	models := fs.String("models", "", "comma-separated centres, e.g. ecmwf,jma")
	skip := fs.Bool("skip-existing", false, "keep initializations already on disk")
	if err := fs.Parse(args); err != nil {
		return err
	}
	months, err := s.months()
	if err != nil {
		return err
	}
	list, err := domain.ParseModels(*models)
	if err != nil {
		return err
	}
	r, err := e.retriever(*skip)
	if err != nil {
		return err
	}
	for _, model := range list {
		report, err := r.Forecast(ctx, model, months)
		e.reportRetrieval(report)
		if err != nil {
			return err
		}
	}
	return nil
}

func reshape(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("reshape")
	var s span
	s.register(fs)
	leads := fs.Int("leads", e.cfg.Pipeline.LeadMonths, "lead months per record")
	if err := fs.Parse(args); err != nil {
		return err
	}
	inits, err := s.months()
	if err != nil {
		return err
	}
	if *leads < 1 {
		return fmt.Errorf("-leads must be positive, got %d", *leads)
	}
	loader := netcdf.NewCachedLoader(netcdf.FileLoader{}, *leads)
	r := pipeline.NewReshaper(loader, e.layout, *leads, e.logger, e.metrics)
	paths, err := r.Run(ctx, inits)
	e.logger.Info("reshaped records", "count", len(paths))
	return err
}

func indexERA5(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("index-era5")
	var s span
	s.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := s.months(); err != nil {
		return err
	}
	pub, closePub := e.publisher()
	defer closePub()

	st := e.cfg.Pipeline.Stations
	x := pipeline.NewReanalysisIndexer(netcdf.FileLoader{}, e.layout, st.South, st.North, pub, e.logger, e.metrics)
	_, err := x.Run(ctx, s.from.m, s.to.m)
	return err
}

func indexForecast(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("index-forecast")
	var s span
	s.register(fs)
	models := fs.String("models", "", "comma-separated centres, e.g. ecmwf,jma")
	policy := fs.String("impute-policy", string(e.cfg.Pipeline.ImputePolicy), "missing initializations: fill or reject")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := s.months(); err != nil {
		return err
	}
	list, err := domain.ParseModels(*models)
	if err != nil {
		return err
	}
	p, err := domain.ParseImputePolicy(*policy)
	if err != nil {
		return err
	}
	pub, closePub := e.publisher()
	defer closePub()

	st := e.cfg.Pipeline.Stations
	x := pipeline.NewForecastIndexer(netcdf.NewCachedLoader(netcdf.FileLoader{}, 4), pipeline.ForecastOptions{
		Layout:       e.layout,
		South:        st.South,
		North:        st.North,
		FallbackInit: e.cfg.Pipeline.Fallback(),
		Policy:       p,
	}, pub, e.logger, e.metrics)
	for _, model := range list {
		if _, err := x.Run(ctx, model, s.from.m, s.to.m); err != nil {
			return fmt.Errorf("%s: %w", model, err)
		}
	}
	return nil
}

func compare(_ context.Context, e *env, args []string) error {
	fs := newFlagSet("compare")
	model := fs.String("model", "", "centre, e.g. jma")
	from := fs.Int("from", 0, "first initialization year")
	to := fs.Int("to", 0, "last initialization year")
	lead := fs.Int("lead", 1, "lead month, 1-based")
	target := fs.Int("target", 1, "target calendar month, 1-12")
	units := fs.String("units", string(pipeline.UnitsStandardized), "standardized or raw")
	out := fs.String("out", "", "figure path; defaults to the fig directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, err := domain.ParseModel(*model)
	if err != nil {
		return err
	}
	u, err := pipeline.ParseUnits(*units)
	if err != nil {
		return err
	}
	if *from == 0 || *to < *from {
		return fmt.Errorf("invalid year range %d-%d", *from, *to)
	}

	c := pipeline.NewComparer(netcdf.FileLoader{}, e.layout, e.logger, e.metrics)
	cmp, path, err := c.Run(pipeline.CompareRequest{
		Model:    m,
		FromYear: *from,
		ToYear:   *to,
		Lead:     *lead,
		Target:   time.Month(*target),
		Units:    u,
		Out:      *out,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s\ncorrelation: %.3f\nfigure: %s\n", cmp.Title(), cmp.Correlation, path)
	return nil
}
