package pipeline

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/chart"
	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
)

// Units selects which flavour of the index a comparison draws.
type Units string

const (
	UnitsStandardized Units = "standardized"
	// UnitsRaw draws the raw index converted from Pa to hPa.
	UnitsRaw Units = "raw"
)

// ParseUnits validates a units name.
func ParseUnits(s string) (Units, error) {
	switch u := Units(strings.ToLower(strings.TrimSpace(s))); u {
	case UnitsStandardized, UnitsRaw:
		return u, nil
	default:
		return "", fmt.Errorf("unknown units %q", s)
	}
}

// CompareRequest selects one chart: a centre, whole initialization years, a
// lead and a target calendar month.
type CompareRequest struct {
	Model    domain.Model
	FromYear int
	ToYear   int
	Lead     int
	Target   time.Month
	Units    Units
	// Out overrides the default figure path. Its extension picks the format.
	Out string
}

// Comparer draws observed-versus-forecast charts from the index files.
type Comparer struct {
	loader  netcdf.Loader
	layout  domain.Layout
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewComparer creates a Comparer.
func NewComparer(loader netcdf.Loader, layout domain.Layout, logger *slog.Logger, metrics *observability.Metrics) *Comparer {
	return &Comparer{loader: loader, layout: layout, logger: logger, metrics: metrics}
}

// FigurePath is the default chart location for req.
func (c *Comparer) FigurePath(req CompareRequest, system string) string {
	return c.layout.Figure(fmt.Sprintf("t_nao_%s_%s_target-%s_lead-%d_%d-%d.pdf",
		req.Model, system, strings.ToLower(req.Target.String()[:3]), req.Lead, req.FromYear, req.ToYear))
}

// Run loads both indices, filters them to the lead and target month,
// correlates them and renders the chart. It returns the comparison and the
// written path.
func (c *Comparer) Run(req CompareRequest) (domain.Comparison, string, error) {
	if req.Lead < 1 {
		return domain.Comparison{}, "", fmt.Errorf("compare: lead must be at least 1, got %d", req.Lead)
	}
	if req.Target < time.January || req.Target > time.December {
		return domain.Comparison{}, "", fmt.Errorf("compare: invalid target month %d", req.Target)
	}
	if req.Units == "" {
		req.Units = UnitsStandardized
	}
	system, err := c.layout.System(req.Model)
	if err != nil {
		return domain.Comparison{}, "", err
	}

	from := domain.NewMonth(req.FromYear, time.January)
	to := domain.NewMonth(req.ToYear, time.December)
	obsVar, meanVar, ensVar := VarReanalysisStandardized, VarStandardizedEnsembleMean, VarStandardizedEnsemble
	if req.Units == UnitsRaw {
		obsVar, meanVar, ensVar = VarReanalysisRaw, VarRawEnsembleMean, VarRawEnsemble
	}

	era5 := c.layout.ReanalysisIndex(from, to)
	forecast := c.layout.ForecastIndex(req.Model, system, from, to)
	obs, err := c.loader.Load(era5, obsVar)
	if err != nil {
		return domain.Comparison{}, "", fmt.Errorf("compare: %w", err)
	}
	mean, err := c.loader.Load(forecast, meanVar)
	if err != nil {
		return domain.Comparison{}, "", fmt.Errorf("compare: %w", err)
	}
	ens, err := c.loader.Load(forecast, ensVar)
	if err != nil {
		return domain.Comparison{}, "", fmt.Errorf("compare: %w", err)
	}

	if req.Units == UnitsRaw {
		obs, mean, ens = toHPa(obs), toHPa(mean), toHPa(ens)
	}
	cmp, err := domain.Compare(obs, mean, ens, req.Lead, req.Target)
	if err != nil {
		return domain.Comparison{}, "", fmt.Errorf("compare: %w", err)
	}
	if req.Units == UnitsRaw {
		cmp.Units = "hPa"
	}

	out := req.Out
	if out == "" {
		out = c.FigurePath(req, system)
	}
	if err := chart.Render(cmp, out); err != nil {
		return domain.Comparison{}, "", err
	}
	c.metrics.FilesWritten.WithLabelValues("compare").Inc()
	c.logger.Info("comparison rendered",
		"model", string(req.Model),
		"lead", req.Lead,
		"target", req.Target.String(),
		"correlation", cmp.Correlation,
		"path", out,
	)
	return cmp, out, nil
}

func toHPa(f domain.Field) domain.Field {
	return f.Map(func(v float64) float64 { return v / 100 })
}
