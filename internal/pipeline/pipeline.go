package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
)

// RefreshOptions configures the reanalysis refresh job.
type RefreshOptions struct {
	// From is the first initialization of the reanalysis index.
	From domain.Month
	// Leads is the number of lead months of a reshaped record.
	Leads int
	// Lag is how many months behind the current month the newest ERA5
	// monthly mean is expected.
	Lag int
}

// RunSummary describes the last refresh.
type RunSummary struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Downloaded int           `json:"downloaded"`
	Failed     []string      `json:"failed,omitempty"`
	LastInit   string        `json:"last_init,omitempty"`
	IndexPath  string        `json:"index_path,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Pipeline runs the periodic reanalysis refresh: fetch new ERA5 months,
// reshape every complete window and recompute the reanalysis index.
type Pipeline struct {
	retriever *Retriever
	reshaper  *Reshaper
	indexer   *ReanalysisIndexer
	opts      RefreshOptions
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool

	mu   sync.Mutex
	last *RunSummary
}

// New creates a Pipeline with the given stages and observability.
func New(r *Retriever, s *Reshaper, x *ReanalysisIndexer, opts RefreshOptions, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.Lag <= 0 {
		opts.Lag = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		retriever: r,
		reshaper:  s,
		indexer:   x,
		opts:      opts,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a refresh has completed successfully,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no refresh has completed yet")
	}
	return nil
}

// LastRun returns the summary of the most recent refresh, if any.
func (p *Pipeline) LastRun() (RunSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return RunSummary{}, false
	}
	return *p.last, true
}

// Latest is the newest month whose ERA5 mean should be available now.
func (p *Pipeline) Latest() domain.Month {
	return domain.MonthOf(p.clock.Now()).Add(-p.opts.Lag)
}

// RunOnce performs one refresh. Download failures are tolerated and
// reported; reshape and index failures abort the run.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	summary := RunSummary{ID: uuid.NewString(), StartedAt: p.clock.Now().UTC()}
	logger := p.logger.With("run_id", summary.ID)
	elapsed := domain.StartTimer(p.clock)
	logger.Info("refresh started")

	err := p.refresh(ctx, &summary)
	summary.Duration = elapsed()
	if err != nil {
		summary.Error = err.Error()
		logger.Error("refresh failed", "error", err, "elapsed", summary.Duration)
	} else {
		p.ready.Store(true)
		logger.Info("refresh complete", "elapsed", summary.Duration, "last_init", summary.LastInit)
	}

	p.mu.Lock()
	p.last = &summary
	p.mu.Unlock()
	return err
}

func (p *Pipeline) refresh(ctx context.Context, summary *RunSummary) error {
	latest := p.Latest()
	lastInit := latest.Add(-(p.opts.Leads - 1))
	if lastInit.Before(p.opts.From) {
		return fmt.Errorf("no complete %d-month window between %s and %s", p.opts.Leads, p.opts.From, latest)
	}

	err := p.stage(ctx, "download_era5", func(ctx context.Context) error {
		report, err := p.retriever.Reanalysis(ctx, domain.MonthRange(p.opts.From, latest))
		summary.Downloaded = len(report.Succeeded)
		for _, f := range report.Failed {
			summary.Failed = append(summary.Failed, f.Key)
		}
		return err
	})
	if err != nil {
		return err
	}

	// A failed download leaves a gap; only windows that are complete on
	// disk get reshaped, and the index stops before the first gap.
	inits := domain.MonthRange(p.opts.From, lastInit)
	err = p.stage(ctx, "reshape", func(ctx context.Context) error {
		done, err := p.reshaper.Run(ctx, inits)
		if err != nil && errors.Is(err, domain.ErrMissingInput) && len(done) > 0 {
			p.logger.Warn("reshape stopped at missing month", "error", err, "records", len(done))
			lastInit = p.opts.From.Add(len(done) - 1)
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	summary.LastInit = lastInit.String()

	return p.stage(ctx, "index_era5", func(ctx context.Context) error {
		res, err := p.indexer.Run(ctx, p.opts.From, lastInit)
		summary.IndexPath = res.Path
		return err
	})
}

// stage runs fn, recording its duration and counting failures under name.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	elapsed := domain.StartTimer(p.clock)
	err := fn(ctx)
	p.metrics.StageDuration.WithLabelValues(name).Observe(elapsed().Seconds())
	if err != nil {
		p.metrics.StageErrors.WithLabelValues(name).Inc()
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
