package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
	"github.com/couchcryptid/nao-forecast-etl/internal/scheduler"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) RunOnce(_ context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_RunsImmediately(t *testing.T) {
	job := &countingJob{}
	s := scheduler.New("0 6 8 * *", job, observability.DiscardLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_JobErrorKeepsSchedule(t *testing.T) {
	job := &countingJob{err: errors.New("archive unavailable")}
	s := scheduler.New("0 6 8 * *", job, observability.DiscardLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_InvalidExpression(t *testing.T) {
	s := scheduler.New("not a cron", &countingJob{}, observability.DiscardLogger())
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a cron")
}

func TestScheduler_CancelledContextSkipsRun(t *testing.T) {
	job := &countingJob{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := scheduler.New("0 6 8 * *", job, observability.DiscardLogger())
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, job.runs.Load())
}
