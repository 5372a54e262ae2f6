// Package scheduler triggers the reanalysis refresh on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Job is one unit of scheduled work.
type Job interface {
	RunOnce(ctx context.Context) error
}

// Scheduler runs a Job on a cron expression, once at start and then on
// every match. Overlapping runs are skipped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       Job
	expr      string
	logger    *slog.Logger
}

// New creates a Scheduler evaluating expr in UTC.
func New(expr string, job Job, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{scheduler: s, job: job, expr: expr, logger: logger}
}

// Start schedules the job and starts the underlying scheduler. Runs use
// ctx, so cancelling it aborts an in-flight refresh.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.Cron(s.expr).StartImmediately().Do(func() {
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("scheduled refresh triggered", "schedule", s.expr)
		if err := s.job.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.expr, err)
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
