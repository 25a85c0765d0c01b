package controllers

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Pruner deletes old records. Implemented by *models.Database.
type Pruner interface {
	PruneSeen(cutoff time.Time) error
	PruneJobs(cutoff time.Time) (int, error)
}

// CleanupController forgets seen submissions and archived jobs past the retention window
type CleanupController struct {
	db            Pruner
	retentionDays int
	logger        *logrus.Logger
	now           func() time.Time
}

// NewCleanupController creates a new cleanup controller
func NewCleanupController(db Pruner, retentionDays int, logger *logrus.Logger) *CleanupController {
	return &CleanupController{
		db:            db,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// Cleanup prunes records older than the retention window.
// A retention of zero or less keeps everything.
func (c *CleanupController) Cleanup(ctx context.Context) error {
	if c.retentionDays <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cutoff := c.now().AddDate(0, 0, -c.retentionDays)
	c.logger.WithField("cutoff", cutoff.Format(time.RFC3339)).Info("Starting retention cleanup")

	// Submissions older than the window are no longer in /new, forgetting them is safe
	if err := c.db.PruneSeen(cutoff); err != nil {
		return fmt.Errorf("failed to prune seen submissions: %w", err)
	}

	pruned, err := c.db.PruneJobs(cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune jobs: %w", err)
	}

	c.logger.WithField("jobs", pruned).Info("Retention cleanup completed")
	return nil
}
