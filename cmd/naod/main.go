// Command naod keeps the reanalysis NAO index current: on SCHEDULE_CRON it
// fetches the newest ERA5 months, reshapes every complete window and
// recomputes the index, while serving health, readiness and metrics.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/cds"
	httpadapter "github.com/couchcryptid/nao-forecast-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/nao-forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/config"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
	"github.com/couchcryptid/nao-forecast-etl/internal/pipeline"
	"github.com/couchcryptid/nao-forecast-etl/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogFormat, cfg.LogLevel)
	metrics := observability.NewMetrics()

	cdsOpts, err := cfg.CDSOptions()
	if err != nil {
		logger.Error("failed to resolve archive credentials", "error", err)
		os.Exit(1)
	}
	cdsOpts.Logger = logger
	cdsOpts.Metrics = metrics
	archive := cds.NewClient(cdsOpts)

	// Publishing is feature-flagged via KAFKA_ENABLED.
	var publisher *pipeline.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = pipeline.NewPublisher(writer, logger, metrics)
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	pc := cfg.Pipeline
	layout := pc.Layout()
	retriever := pipeline.NewRetriever(archive, pipeline.RetrieverOptions{
		Layout:       layout,
		Area:         pc.Area,
		Grid:         pc.Grid,
		Leads:        pc.Leads(),
		SkipExisting: true,
	}, logger, metrics)
	reshaper := pipeline.NewReshaper(netcdf.NewCachedLoader(netcdf.FileLoader{}, pc.LeadMonths), layout, pc.LeadMonths, logger, metrics)
	indexer := pipeline.NewReanalysisIndexer(netcdf.FileLoader{}, layout, pc.Stations.South, pc.Stations.North, publisher, logger, metrics)

	p := pipeline.New(retriever, reshaper, indexer, pipeline.RefreshOptions{
		From:  pc.RefreshStart(),
		Leads: pc.LeadMonths,
	}, clockwork.NewRealClock(), logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the refresh schedule; the first run starts immediately.
	sched := scheduler.New(cfg.ScheduleCron, p, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		stop()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
