package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// MediaItem is one fetched piece of media.
// It is passed by value and never modified once built.
type MediaItem struct {
	ID          string // Stable digest, see MediaItemID
	SourceURL   string // URL found in the submission
	ContentURL  string // Direct URL of the content
	Index       int    // Position inside a photoset
	Kind        MediaKind
	ContentType string
	Payload     []byte // Buffered content, only when ContentURL is not publicly fetchable

	// Source site metadata
	Author string
	Title  string

	// Original post metadata
	SubmissionID     string
	SubmissionAuthor string
}

// MediaItemID derives a stable identifier for an item so that a retried
// upload of the same content maps to the same key.
func MediaItemID(sourceURL, contentURL string, index int) string {
	sum := sha256.Sum256([]byte(sourceURL + "\x00" + contentURL + "\x00" + strconv.Itoa(index)))
	return hex.EncodeToString(sum[:12])
}

// NewMediaItem builds a MediaItem and fills its ID
func NewMediaItem(sourceURL, contentURL string, index int, kind MediaKind) MediaItem {
	return MediaItem{
		ID:         MediaItemID(sourceURL, contentURL, index),
		SourceURL:  sourceURL,
		ContentURL: contentURL,
		Index:      index,
		Kind:       kind,
	}
}

// ForSubmission returns a copy of the item stamped with the original post metadata
func (m MediaItem) ForSubmission(sub Submission) MediaItem {
	m.SubmissionID = sub.ID
	m.SubmissionAuthor = sub.Author
	return m
}

// MirrorLink is the result of a successful export
type MirrorLink struct {
	ItemID      string
	URL         string // Page URL
	DirectURL   string // Direct file URL, optional
	Kind        string // Destination kind, e.g. "imgur-image"
	Exporter    string
	DeleteToken string // Provider handle used to remove the export, optional
}
