package controllers

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/pipeline"
)

// Poller starts jobs for new submissions. Implemented by *pipeline.Dispatcher.
type Poller interface {
	Poll(ctx context.Context, source pipeline.SubmissionSource, subreddits []string, limit int) (int, error)
	InFlight() int
}

// ScanController reads the watched subreddits and hands new submissions to the dispatcher
type ScanController struct {
	poller     Poller
	source     pipeline.SubmissionSource
	subreddits []string
	limit      int
	logger     *logrus.Logger

	running sync.Mutex
}

// NewScanController creates a new scan controller
func NewScanController(poller Poller, source pipeline.SubmissionSource, subreddits []string, limit int, logger *logrus.Logger) *ScanController {
	return &ScanController{
		poller:     poller,
		source:     source,
		subreddits: subreddits,
		limit:      limit,
		logger:     logger,
	}
}

// Scan polls every subreddit once. A scan that starts while the previous
// one is still listing is skipped.
func (c *ScanController) Scan(ctx context.Context) error {
	if !c.running.TryLock() {
		c.logger.Debug("Previous scan still running, skipping")
		return nil
	}
	defer c.running.Unlock()

	c.logger.WithField("subreddits", c.subreddits).Debug("Scanning subreddits")

	started, err := c.poller.Poll(ctx, c.source, c.subreddits, c.limit)

	log := c.logger.WithFields(logrus.Fields{
		"started":   started,
		"in_flight": c.poller.InFlight(),
	})
	if started > 0 {
		log.Info("Started mirror jobs")
	} else {
		log.Debug("No new submissions")
	}

	if err != nil {
		return fmt.Errorf("failed to scan subreddits: %w", err)
	}
	return nil
}
