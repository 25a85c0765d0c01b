package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Task is a unit of scheduled work
type Task func(ctx context.Context) error

// Scheduler manages scheduled tasks
type Scheduler struct {
	cron         *cron.Cron
	ctx          context.Context
	scan         Task
	cleanup      Task
	pollInterval time.Duration
	logger       *logrus.Logger

	initial sync.WaitGroup
}

// NewScheduler creates a new scheduler. Tasks run under ctx.
func NewScheduler(ctx context.Context, scan, cleanup Task, pollInterval time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		ctx:          ctx,
		scan:         scan,
		cleanup:      cleanup,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler")

	if s.pollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", s.pollInterval)
	}

	// Every poll interval: scan subreddits for new submissions
	_, err := s.cron.AddFunc("@every "+s.pollInterval.String(), func() {
		s.run("scan", s.scan)
	})
	if err != nil {
		return fmt.Errorf("failed to add scan job: %w", err)
	}

	// Every day at 04:00: forget records past the retention window
	if s.cleanup != nil {
		_, err = s.cron.AddFunc("0 4 * * *", func() {
			s.run("cleanup", s.cleanup)
		})
		if err != nil {
			return fmt.Errorf("failed to add cleanup job: %w", err)
		}
	}

	s.cron.Start()
	s.logger.WithField("poll_interval", s.pollInterval.String()).Info("Scheduler started")

	// Run an initial scan immediately
	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.run("scan", s.scan)
	}()

	return nil
}

// Stop stops the scheduler and waits for running tasks, the initial scan included
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.initial.Wait()
}

func (s *Scheduler) run(name string, task Task) {
	if s.ctx.Err() != nil {
		return
	}
	log := s.logger.WithField("task", name)
	log.Debug("Running scheduled task")

	if err := task(s.ctx); err != nil {
		log.WithError(err).Error("Scheduled task failed")
	}
}
