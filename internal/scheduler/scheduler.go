// Package scheduler runs every job's poller on its own interval.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amishk599/listingwatch/internal/model"
)

const cleanupInterval = time.Hour

// Poller runs one poll cycle for one job.
type Poller interface {
	Job() model.JobConfig
	Poll(ctx context.Context) error
}

// Cleaner trims old seen-store entries.
type Cleaner interface {
	Cleanup(olderThan time.Duration) error
}

// Scheduler gives each poller a cron entry firing every job interval. A poll
// still running when its next tick fires is skipped, so a job never overlaps
// itself.
type Scheduler struct {
	pollers         []Poller
	defaultInterval time.Duration
	pollTimeout     time.Duration
	cleaner         Cleaner
	retention       time.Duration
	logger          *slog.Logger
}

// NewScheduler creates a scheduler. Jobs without their own interval use
// defaultInterval; each poll is bounded by pollTimeout when it is > 0.
func NewScheduler(pollers []Poller, defaultInterval, pollTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pollers:         pollers,
		defaultInterval: defaultInterval,
		pollTimeout:     pollTimeout,
		logger:          logger,
	}
}

// WithCleanup runs cleaner hourly, dropping entries older than retention.
func (s *Scheduler) WithCleanup(cleaner Cleaner, retention time.Duration) *Scheduler {
	s.cleaner = cleaner
	s.retention = retention
	return s
}

// Interval returns the effective polling interval of job.
func (s *Scheduler) Interval(job model.JobConfig) time.Duration {
	if job.Interval > 0 {
		return job.Interval
	}
	return s.defaultInterval
}

// Run polls every job once immediately, then on its interval. It returns nil
// when ctx is cancelled, after in-flight polls have finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler",
		"default_interval", s.defaultInterval.String(),
		"jobs", len(s.pollers),
	)

	c := cron.New(cron.WithLogger(cronLogger{s.logger}))
	chain := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.logger}))

	var immediate sync.WaitGroup
	for _, p := range s.pollers {
		interval := s.Interval(p.Job())
		job := chain.Then(cron.FuncJob(func() { s.poll(ctx, p) }))
		c.Schedule(cron.Every(interval), job)
		s.logger.Info("scheduled job", "job", p.Job().Key, "interval", interval.String())

		immediate.Add(1)
		go func() {
			defer immediate.Done()
			job.Run()
		}()
	}

	if s.cleaner != nil && s.retention > 0 {
		s.cleanup()
		c.Schedule(cron.Every(cleanupInterval), cron.FuncJob(s.cleanup))
	}

	c.Start()
	<-ctx.Done()

	s.logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	immediate.Wait()
	return nil
}

func (s *Scheduler) poll(ctx context.Context, p Poller) {
	if ctx.Err() != nil {
		return
	}
	if s.pollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pollTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := p.Poll(ctx); err != nil {
		s.logger.Error("poll failed", "job", p.Job().Key, "error", err)
		return
	}
	s.logger.Debug("poll finished", "job", p.Job().Key, "took", time.Since(start).String())
}

func (s *Scheduler) cleanup() {
	if err := s.cleaner.Cleanup(s.retention); err != nil {
		s.logger.Error("seen store cleanup failed", "error", err)
	}
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
