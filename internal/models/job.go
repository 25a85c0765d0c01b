package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a job is moved along an edge the state machine does not have
var ErrInvalidTransition = errors.New("invalid job state transition")

// MirrorJob tracks one submission's import and export lifecycle
type MirrorJob struct {
	ID               string `boltholdKey:"ID"`
	SubmissionID     string `boltholdIndex:"SubmissionID"`
	SubmissionAuthor string
	SourceURLs       []string

	State     JobState `boltholdIndex:"State"`
	Importers []string // Names of the importers that matched

	// Append-only while the job runs
	Media    []MediaItem
	Links    []MirrorLink
	Warnings []string

	Error   string // Causing error, set when the job failed
	Retries int    // Retries consumed across fetch and upload
	Reply   string // Reply payload, set when the job completed

	CreatedAt  time.Time
	FinishedAt *time.Time

	cause error
}

// NewMirrorJob creates a job in the discovered state
func NewMirrorJob(sub Submission) *MirrorJob {
	return &MirrorJob{
		ID:               uuid.New().String(),
		SubmissionID:     sub.ID,
		SubmissionAuthor: sub.Author,
		State:            JobStateDiscovered,
		CreatedAt:        time.Now(),
	}
}

// Transition moves the job to the next state
func (j *MirrorJob) Transition(to JobState) error {
	for _, next := range transitions[j.State] {
		if next == to {
			j.State = to
			if to.IsTerminal() {
				now := time.Now()
				j.FinishedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
}

// Fail moves the job to the failed state and records the cause
func (j *MirrorJob) Fail(cause error) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	if err := j.Transition(JobStateFailed); err != nil {
		return err
	}
	j.cause = cause
	j.Error = cause.Error()
	return nil
}

// Cause returns the error that failed the job, if it failed during this process lifetime
func (j *MirrorJob) Cause() error {
	return j.cause
}

// AddMedia appends fetched media
func (j *MirrorJob) AddMedia(items ...MediaItem) {
	j.Media = append(j.Media, items...)
}

// AddLink appends a link unless the item already has one.
// Returns false when the link was a duplicate.
func (j *MirrorJob) AddLink(link MirrorLink) bool {
	if _, ok := j.LinkFor(link.ItemID); ok {
		return false
	}
	j.Links = append(j.Links, link)
	return true
}

// LinkFor returns the link recorded for a media item
func (j *MirrorJob) LinkFor(itemID string) (MirrorLink, bool) {
	for _, link := range j.Links {
		if link.ItemID == itemID {
			return link, true
		}
	}
	return MirrorLink{}, false
}

// Warn records a non-fatal problem
func (j *MirrorJob) Warn(format string, args ...interface{}) {
	j.Warnings = append(j.Warnings, fmt.Sprintf(format, args...))
}
