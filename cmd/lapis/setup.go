package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/amaumene/lapis/internal/config"
	"github.com/amaumene/lapis/internal/metrics"
	"github.com/amaumene/lapis/internal/pipeline"
	"github.com/amaumene/lapis/internal/plugins"
	"github.com/amaumene/lapis/internal/plugins/catalog"
	"github.com/amaumene/lapis/internal/utils"
)

// loadConfig loads the configuration and creates the logger
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	return cfg, logger, nil
}

// buildRegistry constructs the enabled plugins
func buildRegistry(cfg *config.Config, logger *logrus.Logger) (*plugins.Registry, error) {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "LapisMirror/" + cfg.Version
	}
	requester := &plugins.Requester{
		Client:    plugins.NewHTTPClient(2 * time.Minute),
		UserAgent: userAgent,
	}

	registry, err := catalog.Build(catalog.Factories, cfg.Plugins, requester, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugins: %w", err)
	}
	return registry, nil
}

// buildPipeline wires the pipeline from configuration
func buildPipeline(cfg *config.Config, registry *plugins.Registry, logger *logrus.Logger, m *metrics.Metrics, tracer trace.Tracer) *pipeline.Pipeline {
	ignore, err := utils.LoadIgnoreList(cfg.IgnoreFile)
	if err != nil {
		logger.WithError(err).Warn("Failed to load ignore list, continuing without it")
		ignore = utils.NewIgnoreList()
	} else if ignore.Len() > 0 {
		logger.WithField("terms", ignore.Len()).Info("Ignore list loaded")
	}

	retry := pipeline.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.InitialInterval = cfg.Retry.InitialInterval
	retry.MaxInterval = cfg.Retry.MaxInterval
	retry.Multiplier = cfg.Retry.Multiplier
	retry.AttemptTimeout = cfg.Retry.AttemptTimeout

	opts := []pipeline.Option{
		pipeline.WithMetrics(m),
		pipeline.WithIgnoreList(ignore),
	}
	if tracer != nil {
		opts = append(opts, pipeline.WithTracer(tracer))
	}

	return pipeline.New(registry, nil, pipeline.Settings{
		Retry:         retry,
		RequireAll:    cfg.RequireAll,
		ReplyTemplate: cfg.ReplyTemplate,
		Version:       cfg.Version,
	}, logger, opts...)
}
