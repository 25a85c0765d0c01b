package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/amaumene/lapis/internal/api"
	"github.com/amaumene/lapis/internal/controllers"
	"github.com/amaumene/lapis/internal/metrics"
	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/pipeline"
	"github.com/amaumene/lapis/internal/plugins"
	"github.com/amaumene/lapis/internal/scheduler"
	"github.com/amaumene/lapis/internal/services/reddit"
	"github.com/amaumene/lapis/internal/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the configured subreddits and mirror new submissions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	// 1. Load configuration
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.WithField("version", cfg.Version).Info("Starting Lapis Mirror")
	logger.WithField("config_dir", cfg.ConfigDir).Info("Configuration loaded")

	// 2. Tracing and metrics
	tp, shutdownTracing := tracing.Setup("lapis", cfg.Version, logger)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()
	m := metrics.New()

	// 3. Initialize database
	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	logger.Info("Database initialized")

	// 4. Load plugins
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"importers": len(registry.Importers()),
		"exporters": len(registry.Exporters()),
	}).Info("Plugins loaded")

	// 5. Pipeline and dispatcher
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := buildPipeline(cfg, registry, logger, m, tp.Tracer("lapis"))
	redditClient := reddit.NewClient(cfg, plugins.NewHTTPClient(30*time.Second), logger)

	replyPolicy := pipeline.RetryPolicy{
		MaxAttempts:     cfg.ReplyMaxAttempts,
		InitialInterval: 5 * time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
		AttemptTimeout:  30 * time.Second,
	}
	dispatcher := pipeline.NewDispatcher(ctx, p, db, redditClient, logger,
		pipeline.WithReplyChecker(redditClient),
		pipeline.WithReplyPolicy(replyPolicy),
		pipeline.WithDispatcherMetrics(m),
	)

	// 6. Controllers and scheduler
	scanCtrl := controllers.NewScanController(dispatcher, redditClient, cfg.Subreddits, cfg.ScanLimit, logger)
	cleanupCtrl := controllers.NewCleanupController(db, cfg.RetentionDays, logger)

	sched := scheduler.NewScheduler(ctx, scanCtrl.Scan, cleanupCtrl.Cleanup, cfg.PollInterval, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// 7. Initialize HTTP server
	server := api.NewServer(cfg.ServerPort, api.Deps{
		Jobs:     db,
		InFlight: dispatcher,
		Plugins:  registry,
		Runner:   p,
		Metrics:  m.Handler(),
		Version:  cfg.Version,
	}, logger)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	// 8. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.WithField("subreddits", cfg.Subreddits).Info("Lapis Mirror is running")

	var runErr error
	select {
	case err := <-serverErrChan:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	}

	// Running jobs see the cancellation and clean up their exports
	cancel()
	sched.Stop()
	dispatcher.Wait()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Error during server shutdown")
	}

	logger.Info("Lapis Mirror stopped")
	return runErr
}
