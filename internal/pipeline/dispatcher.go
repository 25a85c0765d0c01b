package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/metrics"
	"github.com/amaumene/lapis/internal/models"
)

// SubmissionSource lists the newest submissions of a subreddit
type SubmissionSource interface {
	NewSubmissions(ctx context.Context, subreddit string, limit int) ([]models.Submission, error)
}

// SeenStore remembers which submissions were already handled
type SeenStore interface {
	IsSeen(id string) (bool, error)
	MarkSeen(id string, job *models.MirrorJob) error
}

// JobArchive keeps finished jobs for inspection
type JobArchive interface {
	ArchiveJob(job *models.MirrorJob) error
}

// Store is the persistence used by the dispatcher
type Store interface {
	SeenStore
	JobArchive
}

// ReplySink posts the reply of a completed job
type ReplySink interface {
	Reply(ctx context.Context, submissionID, text string) error
}

// ReplyChecker reports whether the bot already answered a submission
type ReplyChecker interface {
	HasReplied(ctx context.Context, submissionID string) (bool, error)
}

// Runner executes one job. Implemented by *Pipeline.
type Runner interface {
	Run(ctx context.Context, sub models.Submission) *models.MirrorJob
	Cleanup(job *models.MirrorJob, log *logrus.Entry)
}

// Dispatcher runs one goroutine per accepted submission.
// A submission ID is never processed twice concurrently, and submissions
// already in the store are dropped at intake.
type Dispatcher struct {
	ctx     context.Context
	runner  Runner
	store   Store
	sink    ReplySink
	checker ReplyChecker
	reply   RetryPolicy
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// DispatcherOption customizes a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithReplyChecker skips submissions the bot already commented on
func WithReplyChecker(c ReplyChecker) DispatcherOption {
	return func(d *Dispatcher) { d.checker = c }
}

// WithReplyPolicy sets the retry policy used when posting replies
func WithReplyPolicy(p RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.reply = p }
}

// WithDispatcherMetrics records intake and reply outcomes
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a dispatcher. Jobs run under ctx; cancelling it
// aborts every running job.
func NewDispatcher(ctx context.Context, runner Runner, store Store, sink ReplySink, logger *logrus.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ctx:    ctx,
		runner: runner,
		store:  store,
		sink:   sink,
		reply: RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: 5 * time.Second,
			MaxInterval:     time.Minute,
			Multiplier:      2,
			AttemptTimeout:  30 * time.Second,
		},
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.reply.Retryable == nil {
		// Every reply failure is worth another try until the budget runs out
		d.reply.Retryable = func(error) bool { return true }
	}
	return d
}

// Submit starts a job for the submission unless it was already seen or is running.
// Returns true when a job was started.
func (d *Dispatcher) Submit(sub models.Submission) bool {
	log := d.logger.WithField("submission_id", sub.ID)

	d.mu.Lock()
	if d.closed || d.ctx.Err() != nil {
		d.closed = true
		d.mu.Unlock()
		return false
	}
	if _, running := d.inFlight[sub.ID]; running {
		d.mu.Unlock()
		d.metrics.Submission("in_flight")
		return false
	}

	seen, err := d.store.IsSeen(sub.ID)
	if err != nil {
		d.mu.Unlock()
		log.WithError(err).Error("Failed to check seen submissions")
		return false
	}
	if seen {
		d.mu.Unlock()
		d.metrics.Submission("seen")
		return false
	}

	d.inFlight[sub.ID] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	d.metrics.Submission("accepted")
	d.metrics.JobStarted()
	go d.work(sub)
	return true
}

// Poll reads new submissions from every subreddit and submits them.
// Returns the number of jobs started.
func (d *Dispatcher) Poll(ctx context.Context, source SubmissionSource, subreddits []string, limit int) (int, error) {
	started := 0
	var errs []error
	for _, subreddit := range subreddits {
		subs, err := source.NewSubmissions(ctx, subreddit, limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list r/%s: %w", subreddit, err))
			continue
		}
		// Oldest first, so replies follow posting order
		for i := len(subs) - 1; i >= 0; i-- {
			if d.Submit(subs[i]) {
				started++
			}
		}
	}
	return started, errors.Join(errs...)
}

// InFlight returns the number of running jobs
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// Wait blocks until every started job has returned.
// Once the dispatcher context is done, Wait also closes intake so no job
// can be added while it drains.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.closed = true
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work(sub models.Submission) {
	log := d.logger.WithField("submission_id", sub.ID)

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Mirror job panicked")
			d.metrics.JobFinished(string(models.JobStateFailed))
			d.record(sub, crashedJob(sub, r), log)
		}
		d.mu.Lock()
		delete(d.inFlight, sub.ID)
		d.mu.Unlock()
		d.metrics.JobDone()
		d.wg.Done()
	}()

	ctx := d.ctx

	if d.checker != nil {
		replied, err := d.checker.HasReplied(ctx, sub.ID)
		if err != nil {
			log.WithError(err).Warn("Failed to check existing replies")
		} else if replied {
			log.Debug("Already replied, marking as seen")
			d.metrics.Submission("replied")
			if err := d.store.MarkSeen(sub.ID, nil); err != nil {
				log.WithError(err).Error("Failed to mark submission as seen")
			}
			return
		}
	}

	job := d.runner.Run(ctx, sub)
	log = log.WithField("job_id", job.ID)

	if ctx.Err() != nil {
		// Cancelled jobs are retried on the next start, their exports would be orphaned
		log.WithField("state", job.State).Warn("Job interrupted by shutdown")
		if len(job.Links) > 0 {
			d.runner.Cleanup(job, log)
		}
		return
	}

	if job.State == models.JobStateCompleted {
		if !d.postReply(ctx, job, log) && ctx.Err() != nil {
			return
		}
	}

	d.record(sub, job, log)
}

// record archives the job and marks its submission as handled
func (d *Dispatcher) record(sub models.Submission, job *models.MirrorJob, log *logrus.Entry) {
	if err := d.store.ArchiveJob(job); err != nil {
		log.WithError(err).Error("Failed to archive job")
	}
	if err := d.store.MarkSeen(sub.ID, job); err != nil {
		log.WithError(err).Error("Failed to mark submission as seen")
	}
}

// crashedJob is the terminal record of a job whose runner panicked
func crashedJob(sub models.Submission, r interface{}) *models.MirrorJob {
	job := models.NewMirrorJob(sub)
	_ = job.Fail(fmt.Errorf("job panicked: %v", r))
	return job
}

// postReply posts the reply with bounded retries. When every attempt fails
// the exports are deleted and the operator is alerted.
func (d *Dispatcher) postReply(ctx context.Context, job *models.MirrorJob, log *logrus.Entry) bool {
	_, err := d.reply.Do(ctx, func(ctx context.Context) error {
		return d.sink.Reply(ctx, job.SubmissionID, job.Reply)
	}, func(err error, attempt int, next time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"next_in": next.Round(time.Millisecond).String(),
		}).Warn("Failed to post reply, retrying")
	})
	if err == nil {
		d.metrics.Reply("posted")
		log.Info("Replied to submission")
		return true
	}

	d.metrics.Reply("dropped")
	job.Warn("reply dropped: %v", err)
	log.WithError(err).WithField("links", len(job.Links)).Error("Reply could not be posted, deleting exports")
	d.runner.Cleanup(job, log)
	return false
}
