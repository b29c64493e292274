package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

// jobTimeout bounds a single run of a scheduled job
const jobTimeout = 10 * time.Minute

// IdleSweeper closes sessions nobody has touched for a while
type IdleSweeper interface {
	SweepIdle(ctx context.Context, maxIdle time.Duration) int
}

// DefaultsRefresher reloads the default distributions into the store
type DefaultsRefresher interface {
	ImportAllData(ctx context.Context, baseURL string) error
}

// Scheduler runs the periodic maintenance jobs
type Scheduler struct {
	cronRunner *cron.Cron
	log        *logger.Logger
}

// cronLogger routes cron's own messages into the application logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}

// New creates a scheduler whose expressions include a seconds field
func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("service", "Scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		log: log,
		cronRunner: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(
				cron.SkipIfStillRunning(cl),
				cron.Recover(cl),
			),
		),
	}
}

// AddJob schedules fn under a cron expression
func (s *Scheduler) AddJob(name, spec string, fn func(ctx context.Context) error) (cron.EntryID, error) {
	id, err := s.cronRunner.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		s.log.Debug("scheduled job finished", "job", name, "elapsed", time.Since(start))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule %s with %q: %w", name, spec, err)
	}
	s.log.Info("scheduled job", "job", name, "schedule", spec, "entry_id", id)
	return id, nil
}

// AddIdleSweep closes idle sessions on the given schedule
func (s *Scheduler) AddIdleSweep(spec string, sweeper IdleSweeper, maxIdle time.Duration) (cron.EntryID, error) {
	return s.AddJob("idle-session-sweep", spec, func(ctx context.Context) error {
		if closed := sweeper.SweepIdle(ctx, maxIdle); closed > 0 {
			s.log.Info("idle sessions closed", "count", closed)
		}
		return nil
	})
}

// AddDefaultsRefresh re-imports the default distributions on the given schedule
func (s *Scheduler) AddDefaultsRefresh(spec string, refresher DefaultsRefresher, baseURL string) (cron.EntryID, error) {
	return s.AddJob("defaults-refresh", spec, func(ctx context.Context) error {
		return refresher.ImportAllData(ctx, baseURL)
	})
}

// Entries returns the number of scheduled jobs
func (s *Scheduler) Entries() int {
	return len(s.cronRunner.Entries())
}

// Start starts the cron runner; it does not block
func (s *Scheduler) Start() {
	s.cronRunner.Start()
	s.log.Info("scheduler started", "jobs", s.Entries())
}

// Stop waits for running jobs to finish, up to the given timeout
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cronRunner.Stop()
	select {
	case <-ctx.Done():
		s.log.Info("scheduler stopped")
	case <-time.After(timeout):
		s.log.Warn("scheduler shutdown timed out")
	}
}
