// Package plugins defines the importer and exporter contracts, the plugin
// registry and the error taxonomy shared by the mirror pipeline.
package plugins

import (
	"context"
	"net/url"

	"github.com/amaumene/lapis/internal/models"
)

// Kind is the capability a plugin is registered under
type Kind string

const (
	KindImporter Kind = "importer"
	KindExporter Kind = "exporter"
)

// Descriptor identifies a registered plugin
type Descriptor struct {
	Name           string
	Version        string
	Kind           Kind
	Rules          []string // URL patterns, informational for exporters
	Priority       int
	MaxConcurrency int
}

// Plugin is implemented by every importer and exporter
type Plugin interface {
	Describe() Descriptor
}

// Importer extracts media from a source site URL
type Importer interface {
	Plugin
	// Matches must not perform any I/O.
	Matches(u *url.URL) bool
	// Fetch resolves the media behind u. Errors are *FetchError.
	Fetch(ctx context.Context, u *url.URL, sub models.Submission) (*Batch, error)
}

// Exporter uploads media to a hosting destination
type Exporter interface {
	Plugin
	Supports(kind models.MediaKind) bool
	// Upload must be idempotent for a given item ID. Errors are *UploadError.
	Upload(ctx context.Context, item models.MediaItem) (models.MirrorLink, error)
}

// Deleter is implemented by exporters able to remove what they uploaded
type Deleter interface {
	Delete(ctx context.Context, link models.MirrorLink) error
}
