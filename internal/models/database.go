package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// Database wraps the bolthold store
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// Seen submission operations

// IsSeen reports whether a submission was already processed
func (db *Database) IsSeen(id string) (bool, error) {
	var seen SeenSubmission
	err := db.store.Get(id, &seen)
	if errors.Is(err, bolthold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSeen records a submission as processed by the given job
func (db *Database) MarkSeen(id string, job *MirrorJob) error {
	seen := &SeenSubmission{
		ID:     id,
		SeenAt: time.Now(),
	}
	if job != nil {
		seen.JobID = job.ID
		seen.State = job.State
	}
	return db.store.Upsert(id, seen)
}

// PruneSeen deletes seen records older than the cutoff
func (db *Database) PruneSeen(cutoff time.Time) error {
	return db.store.DeleteMatching(&SeenSubmission{}, bolthold.Where("SeenAt").Lt(cutoff))
}

// Job archive operations

// ArchiveJob stores a finished job
func (db *Database) ArchiveJob(job *MirrorJob) error {
	if !job.State.IsTerminal() {
		return fmt.Errorf("job %s is not finished (state %s)", job.ID, job.State)
	}
	return db.store.Upsert(job.ID, job)
}

// GetJobByID retrieves an archived job by ID
func (db *Database) GetJobByID(id string) (*MirrorJob, error) {
	var job MirrorJob
	if err := db.store.Get(id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobsBySubmission retrieves all archived jobs for a submission
func (db *Database) GetJobsBySubmission(submissionID string) ([]*MirrorJob, error) {
	var jobs []*MirrorJob
	err := db.store.Find(&jobs, bolthold.Where("SubmissionID").Eq(submissionID))
	return jobs, err
}

// GetAllJobs retrieves all archived jobs
func (db *Database) GetAllJobs() ([]*MirrorJob, error) {
	var jobs []*MirrorJob
	err := db.store.Find(&jobs, nil)
	return jobs, err
}

// CountJobsByState counts archived jobs per terminal state
func (db *Database) CountJobsByState() (map[JobState]int, error) {
	jobs, err := db.GetAllJobs()
	if err != nil {
		return nil, err
	}

	counts := make(map[JobState]int)
	for _, job := range jobs {
		counts[job.State]++
	}
	return counts, nil
}

// PruneJobs deletes archived jobs created before the cutoff.
// Returns the number of deleted jobs.
func (db *Database) PruneJobs(cutoff time.Time) (int, error) {
	var jobs []*MirrorJob
	if err := db.store.Find(&jobs, bolthold.Where("CreatedAt").Lt(cutoff)); err != nil {
		return 0, err
	}

	for _, job := range jobs {
		if err := db.store.Delete(job.ID, &MirrorJob{}); err != nil {
			return 0, err
		}
	}

	return len(jobs), nil
}
