// Package pipeline runs mirror jobs: it extracts URLs from a submission,
// fetches their media through importers, uploads it through exporters and
// renders the reply. The Dispatcher drives one job per submission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/amaumene/lapis/internal/metrics"
	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
	"github.com/amaumene/lapis/internal/utils"
)

var (
	// ErrNoMedia is the failure cause when every matched URL was fetched but nothing came out
	ErrNoMedia = errors.New("no media was produced")
	// ErrNoLinks is the failure cause when no media item could be exported
	ErrNoLinks = errors.New("no media item could be exported")
)

const cleanupTimeout = 30 * time.Second

// Settings configures a Pipeline
type Settings struct {
	Retry         RetryPolicy
	RequireAll    bool
	ReplyTemplate string
	Version       string
}

// Pipeline turns a submission into a terminal MirrorJob.
// It is safe for concurrent use once the registry is frozen.
type Pipeline struct {
	registry *plugins.Registry
	limiter  *plugins.Limiter
	ignore   *utils.IgnoreList
	settings Settings
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *logrus.Logger
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithMetrics records attempts and job outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithIgnoreList skips URLs on the list
func WithIgnoreList(l *utils.IgnoreList) Option {
	return func(p *Pipeline) { p.ignore = l }
}

// New creates a pipeline over a frozen registry
func New(registry *plugins.Registry, limiter *plugins.Limiter, settings Settings, logger *logrus.Logger, opts ...Option) *Pipeline {
	if limiter == nil {
		limiter = plugins.ForRegistry(registry)
	}
	p := &Pipeline{
		registry: registry,
		limiter:  limiter,
		settings: settings,
		tracer:   otel.Tracer("github.com/amaumene/lapis/internal/pipeline"),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// match is a source URL paired with the importer that accepted it
type match struct {
	url      *url.URL
	importer plugins.Importer
}

// Run processes a submission to completion. The returned job is always terminal.
// When ctx is cancelled the job ends Failed with the context error.
func (p *Pipeline) Run(ctx context.Context, sub models.Submission) *models.MirrorJob {
	job := models.NewMirrorJob(sub)

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("submission_id", sub.ID),
	))
	defer span.End()

	log := p.logger.WithFields(logrus.Fields{
		"job_id":        job.ID,
		"submission_id": sub.ID,
	})

	p.run(ctx, job, sub, log)

	span.SetAttributes(
		attribute.String("state", string(job.State)),
		attribute.Int("links", len(job.Links)),
		attribute.Int("retries", job.Retries),
	)
	if job.State == models.JobStateFailed {
		span.SetStatus(codes.Error, job.Error)
		log.WithFields(logrus.Fields{
			"error":    job.Error,
			"warnings": job.Warnings,
		}).Error("Mirror job failed")
	} else {
		log.WithFields(logrus.Fields{
			"state": job.State,
			"links": len(job.Links),
		}).Info("Mirror job finished")
	}
	p.metrics.JobFinished(string(job.State))

	return job
}

func (p *Pipeline) run(ctx context.Context, job *models.MirrorJob, sub models.Submission, log *logrus.Entry) {
	// Discovered -> Resolving
	if p.aborted(ctx, job) {
		return
	}
	p.transition(job, models.JobStateResolving)

	matches := p.resolve(job, sub, log)
	if len(matches) == 0 {
		p.transition(job, models.JobStateSkipped)
		return
	}

	// Resolving -> Fetching
	if p.aborted(ctx, job) {
		return
	}
	p.transition(job, models.JobStateFetching)

	sections, err := p.fetch(ctx, job, sub, matches, log)
	if p.aborted(ctx, job) {
		return
	}
	if len(job.Media) == 0 {
		if err == nil {
			err = ErrNoMedia
		}
		p.fail(job, err)
		return
	}

	// Fetching -> Uploading
	p.transition(job, models.JobStateUploading)

	err = p.upload(ctx, job, log)
	if ctx.Err() != nil {
		p.Cleanup(job, log)
		p.fail(job, ctx.Err())
		return
	}
	if len(job.Links) == 0 {
		if err == nil {
			err = ErrNoLinks
		}
		p.fail(job, err)
		return
	}
	if err != nil && p.settings.RequireAll {
		p.Cleanup(job, log)
		p.fail(job, fmt.Errorf("not every media item was exported: %w", err))
		return
	}

	// Uploading -> Completed
	for i := range sections {
		sections[i].Links = p.linksFor(job, sections[i].Links)
	}
	job.Reply = FormatReply(p.settings.ReplyTemplate, p.settings.Version, sections)
	p.transition(job, models.JobStateCompleted)
}

// resolve extracts the submission URLs and pairs each with the first matching importer
func (p *Pipeline) resolve(job *models.MirrorJob, sub models.Submission, log *logrus.Entry) []match {
	var matches []match
	for _, u := range utils.ExtractURLs(sub.Body) {
		job.SourceURLs = append(job.SourceURLs, u.String())

		if ignored, term := p.ignore.IsIgnored(u.String()); ignored {
			log.WithFields(logrus.Fields{
				"url":  u.String(),
				"term": term,
			}).Debug("URL is on the ignore list")
			continue
		}

		importer, ok := p.registry.ResolveImporter(u)
		if !ok {
			log.WithField("url", u.String()).Debug("No importer for URL")
			continue
		}

		name := importer.Describe().Name
		if !lo.Contains(job.Importers, name) {
			job.Importers = append(job.Importers, name)
		}
		matches = append(matches, match{url: u, importer: importer})
	}
	return matches
}

// fetch runs every matched importer and collects the media in URL order.
// It returns one reply section per source URL that produced media, and the
// last fetch error.
func (p *Pipeline) fetch(ctx context.Context, job *models.MirrorJob, sub models.Submission, matches []match, log *logrus.Entry) ([]Section, error) {
	var sections []Section
	var lastErr error

	for _, m := range matches {
		if ctx.Err() != nil {
			return sections, ctx.Err()
		}

		name := m.importer.Describe().Name
		entry := log.WithFields(logrus.Fields{
			"plugin": name,
			"url":    m.url.String(),
		})

		var items []models.MediaItem
		var header string
		var warnings []string

		spanCtx, span := p.tracer.Start(ctx, "pipeline.fetch", trace.WithAttributes(
			attribute.String("plugin", name),
			attribute.String("url", m.url.String()),
		))
		retries, err := p.settings.Retry.DoGated(spanCtx, p.slot(name), func(attemptCtx context.Context) error {
			items, header, warnings = nil, "", nil
			return p.attempt(attemptCtx, name, "fetch", func(ctx context.Context) error {
				batch, err := m.importer.Fetch(ctx, m.url, sub)
				if err != nil {
					return err
				}
				for item := range batch.Items() {
					items = append(items, item.ForSubmission(sub))
				}
				header = batch.Header
				warnings = batch.Warnings()
				return nil
			}, func(class plugins.ErrorClass, err error) error {
				return plugins.NewFetchError(name, m.url.String(), class, err)
			})
		}, p.notifyRetry(entry, name, "fetch"))
		job.Retries += retries
		endSpan(span, err)

		for _, warning := range warnings {
			job.Warn("%s", warning)
		}
		if err != nil {
			lastErr = err
			job.Warn("fetch %s: %v", m.url.String(), err)
			entry.WithError(err).WithField("retries", retries).Warn("Fetch failed")
			continue
		}
		if len(items) == 0 {
			job.Warn("fetch %s: %v", m.url.String(), ErrNoMedia)
			continue
		}

		job.AddMedia(items...)
		section := Section{Header: header}
		for _, item := range items {
			// Placeholder links carry the item IDs until the upload stage fills them in
			section.Links = append(section.Links, models.MirrorLink{ItemID: item.ID})
		}
		sections = append(sections, section)
		entry.WithField("items", len(items)).Info("Fetched media")
	}

	return sections, lastErr
}

// upload exports every fetched item. Returns the last upload error, if any.
func (p *Pipeline) upload(ctx context.Context, job *models.MirrorJob, log *logrus.Entry) error {
	var lastErr error

	for _, item := range job.Media {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := job.LinkFor(item.ID); ok {
			continue
		}

		exporter, err := p.registry.ResolveExporter(item.Kind)
		if err != nil {
			lastErr = err
			job.Warn("upload %s: %v", item.ID, err)
			continue
		}

		name := exporter.Describe().Name
		entry := log.WithFields(logrus.Fields{
			"plugin":  name,
			"item_id": item.ID,
		})

		var link models.MirrorLink
		spanCtx, span := p.tracer.Start(ctx, "pipeline.upload", trace.WithAttributes(
			attribute.String("plugin", name),
			attribute.String("item_id", item.ID),
		))
		retries, err := p.settings.Retry.DoGated(spanCtx, p.slot(name), func(attemptCtx context.Context) error {
			return p.attempt(attemptCtx, name, "upload", func(ctx context.Context) error {
				var err error
				link, err = exporter.Upload(ctx, item)
				return err
			}, func(class plugins.ErrorClass, err error) error {
				return plugins.NewUploadError(name, item.ID, class, err)
			})
		}, p.notifyRetry(entry, name, "upload"))
		job.Retries += retries
		endSpan(span, err)

		if err != nil {
			lastErr = err
			job.Warn("upload %s: %v", item.ContentURL, err)
			entry.WithError(err).WithField("retries", retries).Warn("Upload failed")
			continue
		}

		if link.ItemID == "" {
			link.ItemID = item.ID
		}
		if link.Exporter == "" {
			link.Exporter = name
		}
		if job.AddLink(link) {
			entry.WithField("link", link.URL).Info("Mirrored media")
		}
	}

	return lastErr
}

// slot waits for a free request slot of the plugin
func (p *Pipeline) slot(plugin string) Gate {
	return func(ctx context.Context) (func(), error) {
		release, err := p.limiter.Acquire(ctx, plugin)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire %s slot: %w", plugin, err)
		}
		return release, nil
	}
}

// attempt runs one plugin call and records it.
// Errors that are not already fetch or upload errors go through wrap with their class.
func (p *Pipeline) attempt(ctx context.Context, plugin, operation string, call func(context.Context) error, wrap func(plugins.ErrorClass, error) error) error {
	start := time.Now()
	err := call(ctx)
	p.metrics.Attempt(plugin, operation, err, time.Since(start))
	return classify(ctx, err, wrap)
}

// classify gives err a retry class. An attempt that ran out of its own time
// is transient whatever the plugin reported.
func classify(ctx context.Context, err error, wrap func(plugins.ErrorClass, error) error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !plugins.IsTransient(err) {
		return wrap(plugins.Transient, err)
	}

	var fetchErr *plugins.FetchError
	var uploadErr *plugins.UploadError
	if errors.As(err, &fetchErr) || errors.As(err, &uploadErr) {
		return err
	}
	return wrap(plugins.Classify(err), err)
}

func (p *Pipeline) notifyRetry(entry *logrus.Entry, plugin, operation string) func(error, int, time.Duration) {
	return func(err error, attempt int, next time.Duration) {
		p.metrics.Retry(plugin, operation)
		entry.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"next_in": next.Round(time.Millisecond).String(),
		}).Warn("Transient failure, retrying")
	}
}

// Cleanup deletes the links of a job through exporters able to do so.
// It runs detached from any cancellation of the job itself.
func (p *Pipeline) Cleanup(job *models.MirrorJob, log *logrus.Entry) {
	if len(job.Links) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for _, link := range job.Links {
		exporter, ok := p.registry.Exporter(link.Exporter)
		if !ok {
			continue
		}
		deleter, ok := exporter.(plugins.Deleter)
		if !ok || link.DeleteToken == "" {
			continue
		}
		if err := deleter.Delete(ctx, link); err != nil {
			log.WithError(err).WithField("link", link.URL).Error("Failed to delete export")
			continue
		}
		log.WithField("link", link.URL).Info("Deleted export")
	}
}

// linksFor replaces placeholder links with the uploaded ones, dropping items that failed
func (p *Pipeline) linksFor(job *models.MirrorJob, placeholders []models.MirrorLink) []models.MirrorLink {
	links := make([]models.MirrorLink, 0, len(placeholders))
	for _, placeholder := range placeholders {
		if link, ok := job.LinkFor(placeholder.ItemID); ok {
			links = append(links, link)
		}
	}
	return links
}

// aborted fails the job if ctx is done
func (p *Pipeline) aborted(ctx context.Context, job *models.MirrorJob) bool {
	if err := ctx.Err(); err != nil {
		p.fail(job, err)
		return true
	}
	return false
}

func (p *Pipeline) transition(job *models.MirrorJob, to models.JobState) {
	if err := job.Transition(to); err != nil {
		// Only reachable through a programming error in this package
		panic(err)
	}
}

func (p *Pipeline) fail(job *models.MirrorJob, cause error) {
	if err := job.Fail(cause); err != nil {
		panic(err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
