// Package scheduler runs the metric refresh on a cron schedule.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"vitalsdash/app"
	"vitalsdash/internal"
	"vitalsdash/internal/errors"

	"github.com/robfig/cron/v3"
)

// Refresher is the job the scheduler drives
type Refresher interface {
	Refresh(ctx context.Context) (*app.RefreshReport, error)
}

// Scheduler triggers Refresh on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	job     Refresher
	timeout time.Duration
	logger  *internal.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	runs      atomic.Int64

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// New parses schedule (standard cron or descriptors such as "@every 5m") and
// registers job. timeout bounds each run.
func New(schedule string, timeout time.Duration, job Refresher, logger *internal.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.ConfigInvalid("scheduler job cannot be nil")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Scheduler{
		job:     job,
		timeout: timeout,
		logger:  logger.WithField("component", "scheduler"),
	}

	cl := cronLogger{s.logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "invalid refresh schedule %q", schedule))
	}
	return s, nil
}

// Start begins firing the schedule. Calling it more than once has no effect.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting refresh schedule")
		s.cron.Start()
	})
}

// Stop halts the schedule and waits for a running job, or until ctx ends
func (s *Scheduler) Stop(ctx context.Context) error {
	var done context.Context
	s.stopOnce.Do(func() {
		done = s.cron.Stop()
	})
	if done == nil {
		return nil
	}

	select {
	case <-done.Done():
		s.logger.Info("refresh schedule stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "timed out waiting for running refresh")
	}
}

// RunNow runs one refresh synchronously, outside the schedule
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.execute(ctx)
}

// Runs returns the number of completed runs
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// LastRun returns when the last run finished and its error
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) run() {
	if err := s.execute(context.Background()); err != nil {
		s.logger.WithError(err).Warn("scheduled refresh failed")
	}
}

func (s *Scheduler) execute(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	report, err := s.job.Refresh(ctx)
	if err == nil && report != nil {
		stale := 0
		for _, m := range report.Metrics {
			if m.Stale {
				stale++
			}
		}
		s.logger.Debug("refresh took %s, %d of %d metrics stale", report.Duration, stale, len(report.Metrics))
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()
	s.runs.Add(1)

	return err
}

// cronLogger routes cron's own messages through the leveled logger
type cronLogger struct {
	logger *internal.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Trace("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).Error("cron: %s %v", msg, keysAndValues)
}
