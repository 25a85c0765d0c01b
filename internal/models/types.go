package models

import "strings"

// MediaKind represents the type of media carried by a MediaItem
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// MediaKinds lists every kind an exporter can be asked to handle
var MediaKinds = []MediaKind{MediaKindImage, MediaKindVideo}

// KindFromContentType maps a MIME type to a media kind.
// Returns false for anything that is neither an image nor a video.
func KindFromContentType(contentType string) (MediaKind, bool) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return MediaKindImage, true
	case strings.HasPrefix(contentType, "video/"):
		return MediaKindVideo, true
	default:
		return "", false
	}
}

// JobState represents the current processing state of a mirror job
type JobState string

const (
	JobStateDiscovered JobState = "discovered"
	JobStateResolving  JobState = "resolving"
	JobStateFetching   JobState = "fetching"
	JobStateUploading  JobState = "uploading"
	JobStateCompleted  JobState = "completed" // Reply payload produced
	JobStateFailed     JobState = "failed"    // Reported to the operator log only
	JobStateSkipped    JobState = "skipped"   // No importer matched
)

// IsTerminal reports whether no further transition is allowed from s
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateSkipped:
		return true
	default:
		return false
	}
}

// transitions lists the allowed successors of every non-terminal state
var transitions = map[JobState][]JobState{
	JobStateDiscovered: {JobStateResolving, JobStateFailed},
	JobStateResolving:  {JobStateFetching, JobStateSkipped, JobStateFailed},
	JobStateFetching:   {JobStateUploading, JobStateFailed},
	JobStateUploading:  {JobStateCompleted, JobStateFailed},
}
