package models

import "time"

// Submission is a candidate post handed to the pipeline
type Submission struct {
	ID        string
	Body      string // Link URL and self text, scanned for URLs
	Author    string
	Subreddit string
	Permalink string
	CreatedAt time.Time
}

// SeenSubmission marks a submission as already processed
type SeenSubmission struct {
	ID     string `boltholdKey:"ID"`
	JobID  string
	State  JobState
	SeenAt time.Time `boltholdIndex:"SeenAt"`
}
