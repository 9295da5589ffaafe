package reportjob

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aburke/highgarden/internal/runlock"
)

// Runner produces the report for a processing date.
type Runner interface {
	Run(ctx context.Context, procDate time.Time) (*Result, error)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Hour is the UTC hour of day at which the report is produced.
	Hour int
	// Logger for scheduler activity.
	Logger *slog.Logger
}

// Scheduler runs a Runner once a day at a fixed UTC hour.
type Scheduler struct {
	runner Runner
	config SchedulerConfig

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a Scheduler for runner.
func NewScheduler(runner Runner, config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.Hour = ((config.Hour % 24) + 24) % 24
	return &Scheduler{
		runner: runner,
		config: config,
		now:    time.Now,
		after:  time.After,
	}
}

// NextRun returns the first time at hour UTC strictly after now.
func NextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	y, m, d := now.Date()
	next := time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start begins the daily schedule.
// Returns immediately; runs happen in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.loop(ctx, stopCh, doneCh)
	return nil
}

// Stop signals the scheduler to stop and waits for an in-flight run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// IsRunning returns whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// loop clears running before closing doneCh, so IsRunning reports false
// once the loop has exited for any reason.
func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(doneCh)
	}()

	s.config.Logger.Info("report scheduler started", "hour_utc", s.config.Hour)
	for {
		next := NextRun(s.now(), s.config.Hour)
		s.config.Logger.Debug("next report run scheduled", "at", next)

		select {
		case <-ctx.Done():
			s.config.Logger.Info("report scheduler stopped due to context cancellation")
			return
		case <-stopCh:
			s.config.Logger.Info("report scheduler stopped")
			return
		case fired := <-s.after(next.Sub(s.now())):
			s.runOnce(ctx, fired)
		}
	}
}

// runOnce never returns an error; a failed day is logged and the
// schedule continues.
func (s *Scheduler) runOnce(ctx context.Context, procDate time.Time) {
	res, err := s.runner.Run(ctx, procDate)
	switch {
	case errors.Is(err, runlock.ErrRunInProgress):
		s.config.Logger.Info("scheduled report already running elsewhere", "proc_date", procDate)
	case err != nil:
		s.config.Logger.Error("scheduled report failed", "proc_date", procDate, "error", err)
	default:
		s.config.Logger.Info("scheduled report published", "report_date", res.ReportDate, "url", res.URL)
	}
}
