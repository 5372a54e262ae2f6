// Command nao runs the NAO index pipeline one step at a time.
//
// Usage:
//
//	nao download-era5 -from 2025-01 -to 2025-05
//	nao download-forecast -models ecmwf,jma -from 2009-01 -to 2009-12
//	nao reshape -from 2024-01 -to 2024-12 -leads 6
//	nao index-era5 -from 2010-01 -to 2024-12
//	nao index-forecast -models ecmwf -from 2009-01 -to 2024-12
//	nao compare -model jma -from 2010 -to 2024 -lead 1 -target 1 -units standardized -out fig.png
//
// Settings come from the environment and the pipeline file named by
// NAO_CONFIG.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	kafkaadapter "github.com/couchcryptid/nao-forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/nao-forecast-etl/internal/config"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
	"github.com/couchcryptid/nao-forecast-etl/internal/pipeline"
)

// env is what every subcommand needs.
type env struct {
	cfg     *config.Config
	layout  domain.Layout
	logger  *slog.Logger
	metrics *observability.Metrics
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{"download-era5", "retrieve ERA5 monthly means", downloadERA5},
	{"download-forecast", "retrieve seasonal forecast initializations", downloadForecast},
	{"reshape", "rebuild ERA5 months in forecast layout", reshape},
	{"index-era5", "compute the reanalysis NAO index", indexERA5},
	{"index-forecast", "compute forecast NAO indices", indexForecast},
	{"compare", "chart forecast against reanalysis", compare},
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	cmd, ok := lookup(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	e := &env{
		cfg:     cfg,
		layout:  cfg.Pipeline.Layout(),
		logger:  observability.NewLogger(cfg.LogFormat, cfg.LogLevel).With("run_id", uuid.NewString(), "command", cmd.name),
		metrics: observability.NewMetrics(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	elapsed := domain.StartTimer(clockwork.NewRealClock())
	err = cmd.run(ctx, e, args[1:])
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case err != nil:
		e.logger.Error("command failed", "error", err, "elapsed", elapsed())
		return 1
	}
	e.logger.Info("command complete", "elapsed", elapsed())
	return 0
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: nao <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-18s %s\n", c.name, c.summary)
	}
}

// publisher returns a Kafka-backed publisher when KAFKA_ENABLED is set and
// nil otherwise. The returned close func is always safe to call.
func (e *env) publisher() (*pipeline.Publisher, func()) {
	if !e.cfg.KafkaEnabled {
		return nil, func() {}
	}
	w := kafkaadapter.NewWriter(e.cfg.KafkaBrokers, e.cfg.KafkaTopic, e.logger)
	e.logger.Info("publishing index records", "topic", e.cfg.KafkaTopic)
	return pipeline.NewPublisher(w, e.logger, e.metrics), func() {
		if err := w.Close(); err != nil {
			e.logger.Error("kafka writer close error", "error", err)
		}
	}
}
